package capture

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a run stopped.
type Kind int

const (
	InvalidParameters Kind = iota + 1
	DeviceUnavailable
	CaptureFailed
	DirectoryCreationFailed
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case InvalidParameters:
		return "invalid parameters"
	case DeviceUnavailable:
		return "device unavailable"
	case CaptureFailed:
		return "capture failed"
	case DirectoryCreationFailed:
		return "directory creation failed"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ExitCode is the process status for a run that stopped with this kind.
func (k Kind) ExitCode() int {
	switch k {
	case InvalidParameters:
		return 2
	case DeviceUnavailable:
		return 3
	case CaptureFailed:
		return 4
	case DirectoryCreationFailed:
		return 5
	case Interrupted:
		return 130
	default:
		return 1
	}
}

// Error is a run failure. Timepoint is 1-based, 0 when the failure is not
// tied to a frame.
type Error struct {
	Kind      Kind
	Timepoint int
	Err       error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Timepoint > 0 {
		msg = fmt.Sprintf("%s at timepoint %d", msg, e.Timepoint)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err,
// &Error{Kind: CaptureFailed}) works regardless of timepoint.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Err == nil && (t.Timepoint == 0 || t.Timepoint == e.Timepoint)
}

func newError(kind Kind, tp int, err error) *Error {
	return &Error{Kind: kind, Timepoint: tp, Err: err}
}

// ErrSessionActive is wrapped when a second session is opened in the process.
var ErrSessionActive = errors.New("a capture session is already running")

// KindOf returns the kind of err, or 0 if err is not a run failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Interrupted
	}
	return 0
}

// TimepointOf returns the failing timepoint carried by err, or 0.
func TimepointOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Timepoint
	}
	return 0
}

// ExitCode maps err to the process exit status: 0 for nil, the kind's code
// for run failures, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}
