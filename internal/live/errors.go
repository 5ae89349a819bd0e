package live

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures a coaching session can report.
type ErrorKind string

const (
	KindDeviceUnavailable        ErrorKind = "DeviceUnavailable"
	KindStreamOpenFailed         ErrorKind = "StreamOpenFailed"
	KindStreamClosedUnexpectedly ErrorKind = "StreamClosedUnexpectedly"
	KindFragmentDecodeFailed     ErrorKind = "FragmentDecodeFailed"
	KindScoringFailed            ErrorKind = "ScoringFailed"
)

// Error carries a Kind plus the underlying cause.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrDeviceUnavailable)
// works regardless of the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil
}

// NewError wraps err with the given kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrDeviceUnavailable        = &Error{Kind: KindDeviceUnavailable}
	ErrStreamOpenFailed         = &Error{Kind: KindStreamOpenFailed}
	ErrStreamClosedUnexpectedly = &Error{Kind: KindStreamClosedUnexpectedly}
	ErrFragmentDecodeFailed     = &Error{Kind: KindFragmentDecodeFailed}
	ErrScoringFailed            = &Error{Kind: KindScoringFailed}
)

var (
	// ErrSessionActive is returned by Connect while another session is live.
	ErrSessionActive = errors.New("a session is already active")
	// ErrConnectCanceled is returned by Connect when Disconnect wins the race.
	ErrConnectCanceled = errors.New("connect canceled by disconnect")
)

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
