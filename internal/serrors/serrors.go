// Package serrors carries the semantic error kinds of the scan bot. A kind
// is a comparable sentinel; an Error pairs a kind with a message and an
// optional cause, and matches both through errors.Is and errors.As.
package serrors

import (
	"errors"
	"fmt"
)

// Kind is a semantic error category.
type Kind interface {
	error
	kind()
}

type kind struct{ name string }

func (k kind) Error() string { return k.name }
func (k kind) kind()         {}

// NewKind returns a new sentinel kind.
func NewKind(name string) Kind { return kind{name: name} }

var (
	// DeviceNotFound means enumeration returned no usable device.
	DeviceNotFound = NewKind("device not found")
	// DeviceBusy means the device is held by another acquisition.
	DeviceBusy = NewKind("device busy")
	// AcquisitionFailed means the driver returned no data or failed mid-scan.
	AcquisitionFailed = NewKind("acquisition failed")
	// UnsupportedImageFormat means a raw image could not be normalized.
	UnsupportedImageFormat = NewKind("unsupported image format")
	// Scan marks any failure of the scan procedure.
	Scan = NewKind("scan failed")
	// Retention marks file deletion failures during a sweep.
	Retention = NewKind("retention failed")
	// Config marks invalid or missing startup configuration.
	Config = NewKind("invalid configuration")
)

// Error is a semantic error. The zero message falls back to the cause and
// then to the kind.
type Error struct {
	kind Kind
	err  error
	msg  string
}

// New creates an error of kind k with a formatted message.
func New(k Kind, format string, args ...any) *Error {
	return &Error{kind: k, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of kind k wrapping err with a formatted message.
func Wrap(k Kind, err error, format string, args ...any) *Error {
	return &Error{kind: k, err: err, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.msg != "" && e.err != nil:
		return e.msg + ": " + e.err.Error()
	case e.msg != "":
		return e.msg
	case e.err != nil:
		return e.err.Error()
	case e.kind != nil:
		return e.kind.Error()
	default:
		return "unknown error"
	}
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is this error's kind or anything in the cause chain.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if e.kind != nil && errors.Is(e.kind, target) {
		return true
	}
	return e.err != nil && errors.Is(e.err, target)
}

// KindOf returns the outermost kind found in err's chain, or nil.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.kind
	}
	return nil
}
