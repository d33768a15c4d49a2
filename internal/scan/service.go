// Package scan runs the scan procedure: acquire one page from the scanner,
// encode it, keep it under the size limit and hand back the saved file.
package scan

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/zombor/scanbot/internal/device"
	"github.com/zombor/scanbot/internal/imaging"
	"github.com/zombor/scanbot/internal/metrics"
	"github.com/zombor/scanbot/internal/serrors"
	"github.com/zombor/scanbot/internal/store"
)

const (
	// RecompressJPEGQuality is used for the single recompression of JPEGs
	RecompressJPEGQuality = 70
	// RecompressScale shrinks both dimensions of other formats
	RecompressScale = 0.8

	timestampLayout = "20060102_150405"
)

// Device is the part of the scanner session the procedure needs
type Device interface {
	AcquireImage(ctx context.Context) (imaging.RawImage, error)
	Status() device.Status
}

// Recorder stores the ledger entry of a produced scan
type Recorder interface {
	SaveRecord(record *store.Record) error
}

// IDGenerator generates unique IDs for scan records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Options configure the output file
type Options struct {
	Format imaging.Format
	// MaxFileSize in bytes; zero disables the size check
	MaxFileSize int64
	// JPEGQuality for the first encode; zero means imaging.DefaultJPEGQuality
	JPEGQuality int
}

// File is a scan saved in the output directory
type File struct {
	Path         string
	Name         string
	CreatedAt    time.Time
	SizeBytes    int64
	Format       imaging.Format
	Recompressed bool
}

// Service runs scans one at a time
type Service struct {
	device      Device
	storage     store.Storage
	recorder    Recorder
	metrics     *metrics.Metrics
	opts        Options
	idGenerator IDGenerator
	timeSource  TimeSource

	queue *semaphore.Weighted
}

// NewService creates a new Service. recorder and m may be nil.
func NewService(dev Device, storage store.Storage, recorder Recorder, m *metrics.Metrics, opts Options) *Service {
	return NewServiceWithDeps(dev, storage, recorder, m, opts, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(dev Device, storage store.Storage, recorder Recorder, m *metrics.Metrics, opts Options, idGen IDGenerator, timeSrc TimeSource) *Service {
	if opts.Format == "" {
		opts.Format = imaging.PNG
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = imaging.DefaultJPEGQuality
	}
	return &Service{
		device:      dev,
		storage:     storage,
		recorder:    recorder,
		metrics:     m,
		opts:        opts,
		idGenerator: idGen,
		timeSource:  timeSrc,
		queue:       semaphore.NewWeighted(1),
	}
}

// Options returns the output configuration
func (s *Service) Options() Options {
	return s.opts
}

// ScanDocument scans one page and returns the saved file. Concurrent calls
// queue in arrival order; a caller leaves the queue only when its context
// ends. Every failure is of kind serrors.Scan; a partially written file is
// left for the retention sweeper.
func (s *Service) ScanDocument(ctx context.Context, requestedBy int64) (*File, error) {
	if err := s.queue.Acquire(ctx, 1); err != nil {
		return nil, serrors.Wrap(serrors.Scan, err, "waiting for scanner")
	}
	defer s.queue.Release(1)

	start := s.timeSource.Now()
	file, err := s.scan(ctx)
	if err != nil {
		s.metrics.ObserveScan(err, 0, 0, false)
		slog.Error("Scan failed", "requested_by", requestedBy, "error", err)
		return nil, err
	}
	s.metrics.ObserveScan(nil, s.timeSource.Now().Sub(start), file.SizeBytes, file.Recompressed)

	s.record(file, requestedBy)
	slog.Info("Scan saved",
		"file", file.Name,
		"size_bytes", file.SizeBytes,
		"recompressed", file.Recompressed,
		"requested_by", requestedBy,
	)
	return file, nil
}

func (s *Service) scan(ctx context.Context) (*File, error) {
	raw, err := s.device.AcquireImage(ctx)
	if err != nil {
		return nil, serrors.Wrap(serrors.Scan, err, "scanning")
	}

	img, err := imaging.Normalize(raw)
	if err != nil {
		return nil, serrors.Wrap(serrors.Scan, err, "reading scanned image")
	}

	now := s.timeSource.Now()
	name := fmt.Sprintf("scan_%s.%s", now.Format(timestampLayout), s.opts.Format.Ext())
	if _, err := os.Stat(s.storage.Path(name)); err == nil {
		// Two scans in the same second share a name; the later one wins.
		slog.Warn("Overwriting scan with the same timestamp", "file", name)
	}

	data, err := imaging.EncodeBytes(img, s.opts.Format, s.opts.JPEGQuality)
	if err != nil {
		return nil, serrors.Wrap(serrors.Scan, err, "encoding image")
	}
	path, err := s.storage.Save(name, data)
	if err != nil {
		return nil, serrors.Wrap(serrors.Scan, err, "saving scan")
	}

	file := &File{
		Path:      path,
		Name:      name,
		CreatedAt: now,
		SizeBytes: int64(len(data)),
		Format:    s.opts.Format,
	}

	if s.opts.MaxFileSize <= 0 || file.SizeBytes <= s.opts.MaxFileSize {
		return file, nil
	}

	slog.Info("Scan over size limit, recompressing",
		"file", name,
		"size_bytes", file.SizeBytes,
		"limit_bytes", s.opts.MaxFileSize,
	)
	data, err = s.recompress(img)
	if err != nil {
		return nil, serrors.Wrap(serrors.Scan, err, "recompressing image")
	}
	if _, err := s.storage.Save(name, data); err != nil {
		return nil, serrors.Wrap(serrors.Scan, err, "saving recompressed scan")
	}
	file.SizeBytes = int64(len(data))
	file.Recompressed = true

	if file.SizeBytes > s.opts.MaxFileSize {
		slog.Warn("Scan still over size limit after recompression",
			"file", name,
			"size_bytes", file.SizeBytes,
			"limit_bytes", s.opts.MaxFileSize,
		)
	}
	return file, nil
}

// recompress runs the single shrink pass: a lower quality for JPEG, a
// smaller image for everything else.
func (s *Service) recompress(img image.Image) ([]byte, error) {
	if s.opts.Format.Lossy() {
		return imaging.EncodeBytes(img, s.opts.Format, RecompressJPEGQuality)
	}
	return imaging.EncodeBytes(imaging.Resize(img, RecompressScale), s.opts.Format, s.opts.JPEGQuality)
}

func (s *Service) record(file *File, requestedBy int64) {
	if s.recorder == nil {
		return
	}
	record := &store.Record{
		ID:           s.idGenerator.Generate(),
		Filename:     file.Name,
		Format:       string(file.Format),
		SizeBytes:    file.SizeBytes,
		Recompressed: file.Recompressed,
		Device:       s.device.Status().Device,
		RequestedBy:  requestedBy,
		CreatedAt:    file.CreatedAt,
	}
	if err := s.recorder.SaveRecord(record); err != nil {
		slog.Error("Failed to record scan", "file", file.Name, "error", err)
	}
}
