package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"docvault/internal/docerr"
)

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// Memory is an in-process ObjectStore used by tests and the local dev profile.
type Memory struct {
	mu       sync.RWMutex
	buckets  map[string]map[string]memObject
	pageSize int
	now      func() time.Time

	failMu sync.Mutex
	fail   map[string][]error
}

// NewMemory creates an empty store with the given buckets.
func NewMemory(buckets ...string) *Memory {
	m := &Memory{
		buckets:  make(map[string]map[string]memObject, len(buckets)),
		pageSize: 100,
		now:      time.Now,
		fail:     map[string][]error{},
	}
	for _, b := range buckets {
		m.buckets[b] = map[string]memObject{}
	}
	return m
}

// FailNext makes the next n calls of op ("put", "get", "stat", "delete", "copy", "list") return err.
func (m *Memory) FailNext(op string, n int, err error) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	for range n {
		m.fail[op] = append(m.fail[op], err)
	}
}

func (m *Memory) injected(op string) error {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	q := m.fail[op]
	if len(q) == 0 {
		return nil
	}
	m.fail[op] = q[1:]
	return q[0]
}

// Keys returns every stored key, sorted.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for b, objs := range m.buckets {
		for name := range objs {
			out = append(out, Key{Bucket: b, Name: name}.String())
		}
	}
	slices.Sort(out)
	return out
}

func (m *Memory) Put(ctx context.Context, key Key, r io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	if err := m.injected("put"); err != nil {
		return ObjectInfo{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("read upload body: %w", err)
	}
	if opt.Size >= 0 && int64(len(data)) != opt.Size {
		return ObjectInfo{}, fmt.Errorf("put %s: size mismatch: got %d, declared %d", key, len(data), opt.Size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	objs, ok := m.buckets[key.Bucket]
	if !ok {
		return ObjectInfo{}, docerr.New(docerr.ErrNotFound, "put "+key.String(), "no such bucket")
	}
	obj := memObject{data: data, contentType: opt.ContentType, metadata: maps.Clone(opt.Metadata), modified: m.now()}
	objs[key.Name] = obj
	return obj.info(key), nil
}

func (m *Memory) Get(ctx context.Context, key Key) (io.ReadCloser, ObjectInfo, error) {
	if err := m.injected("get"); err != nil {
		return nil, ObjectInfo{}, err
	}
	obj, err := m.lookup("get", key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info(key), nil
}

func (m *Memory) Stat(ctx context.Context, key Key) (ObjectInfo, error) {
	if err := m.injected("stat"); err != nil {
		return ObjectInfo{}, err
	}
	obj, err := m.lookup("stat", key)
	if err != nil {
		return ObjectInfo{}, err
	}
	return obj.info(key), nil
}

func (m *Memory) Delete(ctx context.Context, key Key) error {
	if err := m.injected("delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	objs := m.buckets[key.Bucket]
	if _, ok := objs[key.Name]; !ok {
		return docerr.New(docerr.ErrNotFound, "delete "+key.String(), "no such key")
	}
	delete(objs, key.Name)
	return nil
}

func (m *Memory) Copy(ctx context.Context, src, dst Key) (ObjectInfo, error) {
	if err := m.injected("copy"); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.buckets[src.Bucket][src.Name]
	if !ok {
		return ObjectInfo{}, docerr.New(docerr.ErrNotFound, "copy "+src.String(), "no such key")
	}
	objs, ok := m.buckets[dst.Bucket]
	if !ok {
		return ObjectInfo{}, docerr.New(docerr.ErrNotFound, "copy "+dst.String(), "no such bucket")
	}
	obj.modified = m.now()
	objs[dst.Name] = obj
	return obj.info(dst), nil
}

// List pages through a snapshot of sorted names; writes between pages are visible.
func (m *Memory) List(ctx context.Context, bucket, prefix, startAfter string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		cursor := startAfter
		for {
			if err := ctx.Err(); err != nil {
				yield(ObjectInfo{}, err)
				return
			}
			if err := m.injected("list"); err != nil {
				yield(ObjectInfo{}, err)
				return
			}
			page := m.page(bucket, prefix, cursor)
			for _, info := range page {
				if !yield(info, nil) {
					return
				}
				cursor = info.Key.Name
			}
			if len(page) < m.pageSize {
				return
			}
		}
	}
}

func (m *Memory) page(bucket, prefix, after string) []ObjectInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	objs := m.buckets[bucket]
	names := make([]string, 0, len(objs))
	for name := range objs {
		if strings.HasPrefix(name, prefix) && name > after {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	if len(names) > m.pageSize {
		names = names[:m.pageSize]
	}
	out := make([]ObjectInfo, 0, len(names))
	for _, name := range names {
		out = append(out, objs[name].info(Key{Bucket: bucket, Name: name}))
	}
	return out
}

func (m *Memory) PresignGet(ctx context.Context, key Key, expiry time.Duration) (string, error) {
	if _, err := m.lookup("presign", key); err != nil {
		return "", err
	}
	return fmt.Sprintf("memory://%s?expires=%d", key, m.now().Add(expiry).Unix()), nil
}

func (m *Memory) lookup(op string, key Key) (memObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.buckets[key.Bucket][key.Name]
	if !ok {
		return memObject{}, docerr.New(docerr.ErrNotFound, op+" "+key.String(), "no such key")
	}
	return obj, nil
}

func (o memObject) info(key Key) ObjectInfo {
	sum := md5.Sum(o.data)
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         hex.EncodeToString(sum[:]),
		ContentType:  o.contentType,
		LastModified: o.modified,
		Metadata:     maps.Clone(o.metadata),
	}
}
