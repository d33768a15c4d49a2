// Package retention deletes scan files once they outlive the retention
// window, on demand and on a fixed interval.
package retention

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/zombor/scanbot/internal/metrics"
	"github.com/zombor/scanbot/internal/serrors"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Sweeper removes old files from one directory
type Sweeper struct {
	dir        string
	metrics    *metrics.Metrics
	timeSource TimeSource
	remove     func(path string) error
	onRemove   func(name string)
}

// NewSweeper creates a sweeper for dir. m may be nil.
func NewSweeper(dir string, m *metrics.Metrics) *Sweeper {
	return NewSweeperWithDeps(dir, m, &defaultTimeSource{}, os.Remove)
}

// NewSweeperWithDeps creates a sweeper with a custom time source and file
// removal for testing
func NewSweeperWithDeps(dir string, m *metrics.Metrics, timeSrc TimeSource, remove func(path string) error) *Sweeper {
	return &Sweeper{
		dir:        dir,
		metrics:    m,
		timeSource: timeSrc,
		remove:     remove,
	}
}

// OnRemove registers fn to be called with the name of every deleted file.
// It must be set before the sweeper is used.
func (s *Sweeper) OnRemove(fn func(name string)) {
	s.onRemove = fn
}

// Sweep deletes the regular files directly inside the directory whose
// modification time is more than window ago. A file exactly window old is
// kept. Failures on single files are logged and skipped; only listing the
// directory can fail the sweep. A missing directory holds nothing to delete.
func (s *Sweeper) Sweep(ctx context.Context, window time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		err = serrors.Wrap(serrors.Retention, err, "listing %s", s.dir)
		s.metrics.ObserveSweep(0, err)
		return 0, err
	}

	cutoff := s.timeSource.Now().Add(-window)
	deleted := 0
	var failed error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			failed = serrors.Wrap(serrors.Retention, err, "sweep interrupted")
			break
		}
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Error("Failed to stat file", "file", entry.Name(), "error", err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := s.remove(filepath.Join(s.dir, entry.Name())); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			failed = serrors.Wrap(serrors.Retention, err, "deleting %s", entry.Name())
			slog.Error("Failed to delete old file", "file", entry.Name(), "error", err)
			continue
		}
		deleted++
		slog.Info("Deleted old file", "file", entry.Name(), "modified", info.ModTime())
		if s.onRemove != nil {
			s.onRemove(entry.Name())
		}
	}

	s.metrics.ObserveSweep(deleted, failed)
	if ctx.Err() != nil {
		return deleted, failed
	}
	return deleted, nil
}
