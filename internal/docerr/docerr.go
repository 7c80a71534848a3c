package docerr

import (
	"errors"
	"fmt"
	"strings"

	"docvault/internal/model"
)

// Sentinel errors shared by every layer. Callers match them with errors.Is;
// *Error values carry the structured detail needed to render a precise message.
var (
	ErrNotFound             = errors.New("not found")
	ErrIllegalTransition    = errors.New("illegal transition")
	ErrLineageConflict      = errors.New("lineage conflict")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrConsistencyViolation = errors.New("consistency violation")
	ErrInvalidArgument      = errors.New("invalid argument")
)

// Error is a classified failure with the lineage/version context it happened in.
type Error struct {
	Kind       error
	Op         string
	Lineage    model.Lineage
	VersionID  string
	Version    int
	Transition string
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Transition != "" {
		fmt.Fprintf(&b, " %s", e.Transition)
	}
	if e.Lineage.EntityType != "" {
		fmt.Fprintf(&b, " lineage=%s", e.Lineage.Key())
	}
	if e.VersionID != "" {
		fmt.Fprintf(&b, " version_id=%s", e.VersionID)
	}
	if e.Version > 0 {
		fmt.Fprintf(&b, " version=%d", e.Version)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an *Error of the given kind.
func New(kind error, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap classifies cause under kind.
func Wrap(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// NotFound reports a missing version.
func NotFound(op, versionID string) *Error {
	return &Error{Kind: ErrNotFound, Op: op, VersionID: versionID}
}

// IllegalTransition names the rejected edge, e.g. "active -restore-> active".
func IllegalTransition(rec model.DocumentRecord, event string, to model.State, detail string) *Error {
	return &Error{
		Kind:       ErrIllegalTransition,
		Op:         event,
		Lineage:    rec.Lineage(),
		VersionID:  rec.ID,
		Version:    rec.Version,
		Transition: Edge(rec.State, event, to),
		Detail:     detail,
	}
}

// Conflict reports a lost race on a lineage.
func Conflict(op string, lineage model.Lineage, detail string) *Error {
	return &Error{Kind: ErrLineageConflict, Op: op, Lineage: lineage, Detail: detail}
}

// Edge formats a state machine edge.
func Edge(from model.State, event string, to model.State) string {
	return fmt.Sprintf("%s -%s-> %s", from, event, to)
}

// Retryable reports whether err is one of the kinds retried internally.
func Retryable(err error) bool {
	return errors.Is(err, ErrLineageConflict) || errors.Is(err, ErrStorageUnavailable)
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
