package device

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zombor/scanbot/internal/imaging"
	"github.com/zombor/scanbot/internal/serrors"
)

// ErrClosed is returned once the session has been closed.
var ErrClosed = errors.New("scanner session closed")

// closeGrace bounds how long Close waits for a cancelled acquisition to
// return before releasing the handle anyway.
const closeGrace = 5 * time.Second

// Config selects and configures the device.
type Config struct {
	// Device, when set, must match a device identifier exactly
	Device string
	// Vendor and Model are matched case-insensitively against identifiers
	Vendor string
	Model  string
	DPI    int
	Mode   string
}

// Status is a snapshot of the session.
type Status struct {
	Open   bool
	Device string
	DPI    int
	Mode   string
}

// Session is the process-wide connection to one scanner. The zero value is
// not usable; use NewSession.
type Session struct {
	driver Driver
	cfg    Config

	// hw is held for the whole physical acquisition
	hw *semaphore.Weighted
	// openMu serialises Open; mu guards the fields below
	openMu sync.Mutex

	mu          sync.Mutex
	handle      Handle
	device      string
	initialized bool
	closed      bool
	hwCtx       context.Context
	cancelHW    context.CancelFunc
}

// NewSession creates a closed session.
func NewSession(driver Driver, cfg Config) *Session {
	hwCtx, cancel := context.WithCancel(context.Background())
	return &Session{
		driver:   driver,
		cfg:      cfg,
		hw:       semaphore.NewWeighted(1),
		hwCtx:    hwCtx,
		cancelHW: cancel,
	}
}

// Open selects and opens the device and applies DPI and mode. It is a no-op
// when the session is already open. Enumeration runs outside the state lock
// so Status answers while a slow driver is still probing.
func (s *Session) Open(ctx context.Context) error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.handle != nil {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	devices, err := s.driver.Devices(ctx)
	if err != nil {
		return serrors.Wrap(serrors.DeviceNotFound, err, "enumerating scanners")
	}
	if len(devices) == 0 {
		return serrors.New(serrors.DeviceNotFound, "no scanners found")
	}

	id := s.selectDevice(devices)
	h, err := s.driver.Open(ctx, id)
	if err != nil {
		return serrors.Wrap(serrors.DeviceNotFound, err, "opening scanner %s", id)
	}
	s.applyOptions(h, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Close ran while the device was opening
		if err := h.Close(); err != nil {
			slog.Warn("Failed to release scanner opened during shutdown", "device", id, "error", err)
		}
		return ErrClosed
	}
	s.handle = h
	s.device = id
	slog.Info("Scanner opened", "device", id, "dpi", s.cfg.DPI, "mode", s.cfg.Mode)
	return nil
}

// selectDevice picks the configured override, then the first identifier
// naming both vendor and model, then the first device.
func (s *Session) selectDevice(devices []string) string {
	if s.cfg.Device != "" {
		for _, d := range devices {
			if d == s.cfg.Device {
				return d
			}
		}
		slog.Warn("Configured scanner not found, falling back", "device", s.cfg.Device, "available", devices)
	}

	vendor := strings.ToLower(s.cfg.Vendor)
	model := strings.ToLower(s.cfg.Model)
	if vendor != "" && model != "" {
		for _, d := range devices {
			lower := strings.ToLower(d)
			if strings.Contains(lower, vendor) && strings.Contains(lower, model) {
				return d
			}
		}
	}

	return devices[0]
}

func (s *Session) applyOptions(h Handle, id string) {
	opts := []struct {
		name  string
		value any
	}{
		{OptionResolution, s.cfg.DPI},
		{OptionMode, s.cfg.Mode},
		{OptionTopLeftX, 0},
		{OptionTopLeftY, 0},
	}
	for _, o := range opts {
		if o.name == OptionMode && o.value == "" {
			continue
		}
		err := h.SetOption(o.name, o.value)
		switch {
		case errors.Is(err, ErrOptionUnsupported):
			slog.Warn("Scanner option not available", "device", id, "option", o.name)
		case err != nil:
			slog.Warn("Failed to set scanner option", "device", id, "option", o.name, "value", o.value, "error", err)
		}
	}
}

// AcquireImage scans one page, opening the session first if needed. The
// physical scan runs on its own goroutine which keeps the hardware lock
// until the driver returns, so a caller that gives up early cannot start a
// second acquisition on a busy device.
func (s *Session) AcquireImage(ctx context.Context) (imaging.RawImage, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	if err := s.hw.Acquire(ctx, 1); err != nil {
		return nil, serrors.Wrap(serrors.AcquisitionFailed, err, "waiting for scanner")
	}

	s.mu.Lock()
	h, hwCtx := s.handle, s.hwCtx
	s.mu.Unlock()
	if h == nil {
		s.hw.Release(1)
		return nil, serrors.Wrap(serrors.AcquisitionFailed, ErrClosed, "acquiring image")
	}

	type result struct {
		raw imaging.RawImage
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer s.hw.Release(1)
		raw, err := h.Acquire(hwCtx)
		done <- result{raw: raw, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, serrors.Wrap(serrors.AcquisitionFailed, r.err, "acquiring image")
		}
		if r.raw == nil {
			return nil, serrors.New(serrors.AcquisitionFailed, "scanner returned no data")
		}
		return r.raw, nil
	case <-ctx.Done():
		return nil, serrors.Wrap(serrors.AcquisitionFailed, ctx.Err(), "waiting for scan")
	}
}

// Close releases the device and the driver. An acquisition in flight is
// given until ctx expires, then cancelled. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.hw.Acquire(ctx, 1); err != nil {
		slog.Warn("Abandoning scan in progress", "error", err)
		s.cancelHW()
		grace, cancel := context.WithTimeout(context.Background(), closeGrace)
		err = s.hw.Acquire(grace, 1)
		cancel()
		if err != nil {
			slog.Error("Scanner did not stop, closing anyway", "error", err)
		} else {
			defer s.hw.Release(1)
		}
	} else {
		defer s.hw.Release(1)
	}
	s.cancelHW()

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			errs = append(errs, err)
		}
		slog.Info("Scanner closed", "device", s.device)
		s.handle = nil
	}
	if s.initialized {
		if err := s.driver.Exit(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports whether the device is open and how it is configured.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Open:   s.handle != nil,
		Device: s.device,
		DPI:    s.cfg.DPI,
		Mode:   s.cfg.Mode,
	}
}
