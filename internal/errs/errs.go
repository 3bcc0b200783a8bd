// Package errs defines the error taxonomy surfaced by the remote-helper
// core. Every error the core returns across a package boundary is either
// one of these kinds (wrapped with context) or a plain Go error that a
// caller is expected to propagate verbatim.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide, without string
// matching, whether a failure is fatal to the whole helper process or
// scoped to a single push/fetch request.
type Kind string

const (
	// Protocol indicates malformed input from Git on the remote-helper
	// stdio channel. Always fatal.
	Protocol Kind = "protocol"

	// Config indicates missing or invalid credentials, or a malformed
	// remote URL. Always fatal, reported with a diagnostic.
	Config Kind = "config"

	// Auth indicates the blob store rejected the bearer token. Always
	// fatal.
	Auth Kind = "auth"

	// Transient indicates a store call exhausted its retry budget.
	// Fatal for the in-flight request; the caller decides whether that
	// means the whole process or just one push.
	Transient Kind = "transient"

	// Conflict indicates a compare-and-swap failed on a ref update.
	// Scoped to one push request; the helper continues with the batch.
	Conflict Kind = "conflict"

	// NonFastForward indicates the ancestry check in a non-force push
	// failed. Scoped to one push request.
	NonFastForward Kind = "non-fast-forward"

	// HEADProtected indicates an attempt to delete the branch HEAD
	// points to. Scoped to one push request.
	HEADProtected Kind = "head-protected"

	// CorruptObject indicates the local git rejected a downloaded
	// object. Fatal — it indicates store corruption.
	CorruptObject Kind = "corrupt-object"
)

// Error wraps a cause with a Kind and an optional ref name, so push
// handlers can format "error <ref> <reason>" and the top-level driver can
// decide fatal vs per-request based on Kind alone.
type Error struct {
	Kind Kind
	Ref  string // empty when the error isn't scoped to one ref
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// NewRef constructs an *Error of the given kind scoped to a ref name,
// with no wrapped cause (for conditions like HEADProtected that are not
// derived from an underlying error).
func NewRef(kind Kind, ref, msg string) *Error {
	return &Error{Kind: kind, Ref: ref, Msg: msg}
}

// Wrap constructs an *Error of the given kind around an existing cause.
// Returns nil if err is nil, so it composes at call sites like fmt.Errorf.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WrapRef is Wrap plus the ref name the error is scoped to.
func WrapRef(kind Kind, ref string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Ref: ref, Msg: msg, Err: err}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsFatal reports whether an error of this kind must terminate the whole
// helper session, as opposed to being
// reportable per-push while the session continues.
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		// An error with no Kind attached (a bug, or an unwrapped
		// stdlib error) is treated as fatal: better to fail loudly
		// than silently swallow an unclassified failure.
		return true
	}
	switch kind {
	case Conflict, NonFastForward, HEADProtected:
		return false
	default:
		return true
	}
}
