// Package device owns the connection to the one scanner the bot drives.
package device

import (
	"context"
	"errors"

	"github.com/zombor/scanbot/internal/imaging"
)

// Option names understood by every driver.
const (
	OptionResolution = "resolution"
	OptionMode       = "mode"
	OptionTopLeftX   = "tl-x"
	OptionTopLeftY   = "tl-y"
)

// ErrOptionUnsupported is returned by Handle.SetOption when the device does
// not expose the option.
var ErrOptionUnsupported = errors.New("option not supported by device")

// Driver is the scanner backend: it enumerates devices and opens them.
type Driver interface {
	// Devices lists device identifiers, in the backend's order
	Devices(ctx context.Context) ([]string, error)

	// Open opens the device with the given identifier
	Open(ctx context.Context, id string) (Handle, error)

	// Exit releases driver-level resources
	Exit() error
}

// Handle is an opened device.
type Handle interface {
	// SetOption sets a scan parameter. Values are strings or ints.
	SetOption(name string, value any) error

	// Acquire performs one blocking physical scan
	Acquire(ctx context.Context) (imaging.RawImage, error)

	// Close releases the device
	Close() error
}
