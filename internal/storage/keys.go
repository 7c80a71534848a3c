package storage

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"docvault/internal/docerr"
	"docvault/internal/model"
)

// Key addresses one object: bucket plus object name ("{entityId}/{storedFilename}").
type Key struct {
	Bucket string
	Name   string
}

func (k Key) String() string {
	return k.Bucket + "/" + k.Name
}

// Base returns the last path segment of the object name.
func (k Key) Base() string {
	if i := strings.LastIndexByte(k.Name, '/'); i >= 0 {
		return k.Name[i+1:]
	}
	return k.Name
}

// ParseKey splits a storage key of the form "bucket/name".
func ParseKey(s string) (Key, error) {
	bucket, name, ok := strings.Cut(strings.TrimPrefix(s, "/"), "/")
	if !ok || bucket == "" || name == "" {
		return Key{}, docerr.New(docerr.ErrInvalidArgument, "parse storage key", fmt.Sprintf("malformed key %q", s))
	}
	return Key{Bucket: bucket, Name: name}, nil
}

// Layout maps entity types to buckets. Bucket names and the
// {bucket}/{entityId}/{storedFilename} convention are a compatibility contract.
type Layout struct {
	buckets  map[model.EntityType]string
	byBucket map[string]model.EntityType
}

// NewLayout validates that every entity type has its own bucket.
func NewLayout(buckets map[model.EntityType]string) (*Layout, error) {
	l := &Layout{
		buckets:  make(map[model.EntityType]string, len(buckets)),
		byBucket: make(map[string]model.EntityType, len(buckets)),
	}
	for _, t := range model.EntityTypes() {
		b := buckets[t]
		if b == "" {
			return nil, fmt.Errorf("bucket for entity type %s is required", t)
		}
		if other, dup := l.byBucket[b]; dup {
			return nil, fmt.Errorf("bucket %s is shared by %s and %s", b, other, t)
		}
		l.buckets[t] = b
		l.byBucket[b] = t
	}
	return l, nil
}

// Bucket returns the bucket holding documents of entity type t.
func (l *Layout) Bucket(t model.EntityType) (string, error) {
	b, ok := l.buckets[t]
	if !ok {
		return "", docerr.New(docerr.ErrInvalidArgument, "bucket", "unknown entity type "+string(t))
	}
	return b, nil
}

// EntityType returns the entity type a bucket belongs to.
func (l *Layout) EntityType(bucket string) (model.EntityType, bool) {
	t, ok := l.byBucket[bucket]
	return t, ok
}

// Buckets lists all buckets in entity-type order.
func (l *Layout) Buckets() []string {
	out := make([]string, 0, len(l.buckets))
	for _, t := range model.EntityTypes() {
		out = append(out, l.buckets[t])
	}
	return out
}

// ObjectKey builds the key of a stored file.
func (l *Layout) ObjectKey(t model.EntityType, entityID, storedFilename string) (Key, error) {
	b, err := l.Bucket(t)
	if err != nil {
		return Key{}, err
	}
	return Key{Bucket: b, Name: EntityPrefix(entityID) + storedFilename}, nil
}

// EntityPrefix is the object-name prefix of every file owned by entityID.
func EntityPrefix(entityID string) string {
	return entityID + "/"
}

// escaped holds the bytes that never appear raw inside a stored filename component.
const escaped = `%/\?#*:<>|"~`

// EscapeFilename NFC-normalizes name and percent-escapes separators, reserved
// characters and control bytes. UnescapeFilename reverses it exactly.
func EscapeFilename(name string) string {
	name = norm.NFC.String(name)
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x20 || c == 0x7f || strings.IndexByte(escaped, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// UnescapeFilename decodes a component produced by EscapeFilename.
func UnescapeFilename(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) || !isHex(s[i+1]) || !isHex(s[i+2]) {
			return "", fmt.Errorf("invalid escape at offset %d in %q", i, s)
		}
		b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
		i += 2
	}
	return b.String(), nil
}

// StoredName is the decoded form of a stored filename.
type StoredName struct {
	Slot     string
	Nonce    string
	Original string
}

const storedNameSep = "~"

// FormatStoredName encodes slot, nonce and the user filename as
// "<slot>~<nonce>~<original>", each component escaped with EscapeFilename.
// The nonce keeps keys unique when the same filename is uploaded concurrently.
func FormatStoredName(slot, nonce, original string) string {
	return EscapeFilename(slot) + storedNameSep + EscapeFilename(nonce) + storedNameSep + EscapeFilename(original)
}

// ParseStoredName reverses FormatStoredName.
func ParseStoredName(stored string) (StoredName, error) {
	parts := strings.SplitN(stored, storedNameSep, 3)
	if len(parts) != 3 {
		return StoredName{}, fmt.Errorf("stored name %q has no slot/nonce prefix", stored)
	}
	var out StoredName
	var err error
	if out.Slot, err = UnescapeFilename(parts[0]); err != nil {
		return StoredName{}, err
	}
	if out.Nonce, err = UnescapeFilename(parts[1]); err != nil {
		return StoredName{}, err
	}
	if out.Original, err = UnescapeFilename(parts[2]); err != nil {
		return StoredName{}, err
	}
	return out, nil
}

var objectURLPrefix = regexp.MustCompile(`^.*?/object/(?:public|sign|authenticated)/`)

// NormalizeKey maps the many spellings of a storage location found in metadata rows
// and listings (full public URLs, percent-encoded paths, doubled slashes, decomposed
// accents) onto one canonical "bucket/name" string. Decoding is applied exactly once.
func NormalizeKey(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "://"); i >= 0 {
		if u, err := url.Parse(s); err == nil {
			s = u.EscapedPath()
		} else {
			s = s[i+3:]
			if j := strings.IndexByte(s, '/'); j >= 0 {
				s = s[j:]
			}
		}
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = objectURLPrefix.ReplaceAllString(s, "")
	if dec, err := url.PathUnescape(s); err == nil {
		s = dec
	}
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	s = strings.Trim(s, "/")
	return norm.NFC.String(s)
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
