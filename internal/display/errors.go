package display

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors: the instance stays usable.
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrHandshake        = errors.New("sink handshake failed")

	// Resource errors: no instance is created.
	ErrResource = errors.New("resource allocation failed")

	// Returned by Init when the user asked for help; not a failure.
	ErrInitNoErr = errors.New("init finished without an instance")

	// Lifecycle errors.
	ErrNotConfigured = errors.New("display not configured")
	ErrStopped       = errors.New("display stopped")

	// ErrContractViolation marks caller bugs: a stale-format frame, a frame
	// from another instance, a nil or already released frame.
	ErrContractViolation = errors.New("contract violation")

	ErrNoAudio              = errors.New("display has no audio capability")
	ErrPropertyNotSupported = errors.New("property not supported")
	ErrBufferTooSmall       = errors.New("buffer too small")
	ErrUnknownKind          = errors.New("unknown display kind")
)

// Error adds the failing operation and module to a display error.
type Error struct {
	Op     string
	Module string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("display %s: %s: %v", e.Module, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted cause.
func Errorf(module, op, format string, args ...any) error {
	return &Error{Op: op, Module: module, Err: fmt.Errorf(format, args...)}
}
