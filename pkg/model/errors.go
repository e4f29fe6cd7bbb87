package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a device error. The numeric values are part of the
// wire protocol: a response status is either 0 (success) or an ErrorKind.
type ErrorKind uint8

const (
	// KindNone is not an error. It is the wire status for success.
	KindNone ErrorKind = 0

	// KindUnknownSetting indicates the setting name does not exist.
	KindUnknownSetting ErrorKind = 1

	// KindReadOnlySetting indicates a write to a read-only setting.
	KindReadOnlySetting ErrorKind = 2

	// KindInvalidValue indicates a value outside the setting's type or range.
	KindInvalidValue ErrorKind = 3

	// KindDeviceBusy indicates a conflicting operation is in flight.
	KindDeviceBusy ErrorKind = 4

	// KindAlreadyArmed indicates arm() outside the Idle state.
	KindAlreadyArmed ErrorKind = 5

	// KindNotArmed indicates trigger() outside the Armed state.
	KindNotArmed ErrorKind = 6

	// KindDeviceFaulted indicates the device is Faulted and needs reset().
	KindDeviceFaulted ErrorKind = 7

	// KindResetFailed indicates re-initialization failed during reset().
	KindResetFailed ErrorKind = 8

	// KindCommunicationError indicates adapter I/O failure.
	KindCommunicationError ErrorKind = 9

	// KindTimeout indicates a blocking buffer read exceeded its deadline.
	KindTimeout ErrorKind = 10

	// KindAborted indicates the operation was canceled by abort().
	KindAborted ErrorKind = 11

	// KindUnknownDevice indicates the server has no device with that handle.
	KindUnknownDevice ErrorKind = 12

	// KindUnsupported indicates the device lacks the required capability.
	KindUnsupported ErrorKind = 13

	// KindInvalidRequest indicates a malformed request.
	KindInvalidRequest ErrorKind = 14
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "SUCCESS"
	case KindUnknownSetting:
		return "UNKNOWN_SETTING"
	case KindReadOnlySetting:
		return "READ_ONLY_SETTING"
	case KindInvalidValue:
		return "INVALID_VALUE"
	case KindDeviceBusy:
		return "DEVICE_BUSY"
	case KindAlreadyArmed:
		return "ALREADY_ARMED"
	case KindNotArmed:
		return "NOT_ARMED"
	case KindDeviceFaulted:
		return "DEVICE_FAULTED"
	case KindResetFailed:
		return "RESET_FAILED"
	case KindCommunicationError:
		return "COMMUNICATION_ERROR"
	case KindTimeout:
		return "TIMEOUT"
	case KindAborted:
		return "ABORTED"
	case KindUnknownDevice:
		return "UNKNOWN_DEVICE"
	case KindUnsupported:
		return "UNSUPPORTED"
	case KindInvalidRequest:
		return "INVALID_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if k is a defined error kind (excluding KindNone).
func (k ErrorKind) IsValid() bool {
	return k >= KindUnknownSetting && k <= KindInvalidRequest
}

// Error is a device error carrying a kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error returns the error text.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind. This is what
// makes errors.Is(err, ErrInvalidValue) work for errors built elsewhere,
// including ones reconstructed from the wire.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors, one per kind. Compare with errors.Is.
var (
	ErrUnknownSetting     = &Error{Kind: KindUnknownSetting}
	ErrReadOnlySetting    = &Error{Kind: KindReadOnlySetting}
	ErrInvalidValue       = &Error{Kind: KindInvalidValue}
	ErrDeviceBusy         = &Error{Kind: KindDeviceBusy}
	ErrAlreadyArmed       = &Error{Kind: KindAlreadyArmed}
	ErrNotArmed           = &Error{Kind: KindNotArmed}
	ErrDeviceFaulted      = &Error{Kind: KindDeviceFaulted}
	ErrResetFailed        = &Error{Kind: KindResetFailed}
	ErrCommunicationError = &Error{Kind: KindCommunicationError}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrAborted            = &Error{Kind: KindAborted}
	ErrUnknownDevice      = &Error{Kind: KindUnknownDevice}
	ErrUnsupported        = &Error{Kind: KindUnsupported}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
)

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an error of the given kind wrapping cause.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// FromContext converts a context error: an expired deadline becomes a
// Timeout, a cancellation becomes Aborted.
func FromContext(err error, format string, args ...any) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindTimeout, err, format, args...)
	}
	return WrapError(KindAborted, err, format, args...)
}

// KindOf returns the kind of err, or KindNone if err carries no kind.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// IsFault reports whether an adapter error must move the device to Faulted.
// Adapters report recoverable rejections with a kinded error (for example
// InvalidValue when the hardware refuses a value); anything else, and
// CommunicationError itself, is a fault.
func IsFault(err error) bool {
	if err == nil {
		return false
	}
	kind := KindOf(err)
	return kind == KindNone || kind == KindCommunicationError
}
