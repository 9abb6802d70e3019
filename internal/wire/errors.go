package wire

import "fmt"

// ErrorKind classifies a failure per the five-kind taxonomy of spec §7.
type ErrorKind int

const (
	KindProtocol ErrorKind = iota
	KindIntegrity
	KindValidation
	KindConflict
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindIntegrity:
		return "integrity"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind must close the connection
// (protocol and integrity failures), per spec §7's policy.
func (k ErrorKind) Fatal() bool {
	return k == KindProtocol || k == KindIntegrity
}

// Error is the typed error every component returns at package boundaries
// instead of a raw Go error, so internal/session can decide connection-
// fatal vs. per-request handling without string matching (grounded on the
// teacher's consistent fmt.Errorf("...: %w", err) wrapping, adapted into a
// switchable type here since the session dispatcher needs to branch on
// error kind, not just log it).
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError constructs an Error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
