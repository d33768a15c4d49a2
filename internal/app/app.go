// Package app wires the scanner bot together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/scanbot/internal/auth"
	"github.com/zombor/scanbot/internal/bot"
	"github.com/zombor/scanbot/internal/caption"
	"github.com/zombor/scanbot/internal/config"
	"github.com/zombor/scanbot/internal/device"
	"github.com/zombor/scanbot/internal/metrics"
	"github.com/zombor/scanbot/internal/retention"
	"github.com/zombor/scanbot/internal/scan"
	"github.com/zombor/scanbot/internal/serrors"
	"github.com/zombor/scanbot/internal/server"
	"github.com/zombor/scanbot/internal/store"
)

// Messenger is the chat network: a Transport for replies that also delivers
// inbound requests to a handler until its context ends.
type Messenger interface {
	bot.Transport
	Run(ctx context.Context, h bot.Handler) error
}

// Deps replaces the external collaborators. Nil fields are built from the
// configuration.
type Deps struct {
	Driver    device.Driver
	Messenger Messenger
	Captioner caption.Captioner
	// SweepInterval overrides retention.DefaultInterval
	SweepInterval time.Duration
}

// App owns every component of the bot
type App struct {
	cfg *config.Config

	metrics   *metrics.Metrics
	session   *device.Session
	storage   store.Storage
	ledger    store.History
	scans     *scan.Service
	sweeper   *retention.Sweeper
	runner    *retention.Runner
	router    *bot.Router
	messenger Messenger
	captioner caption.Captioner
	ops       *server.Server

	stopOnce sync.Once
	stopErr  error
}

// New builds the application from cfg, connecting to Telegram and the
// configured scanner driver.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	return NewWithDeps(ctx, cfg, Deps{})
}

// NewWithDeps builds the application with custom collaborators for testing
func NewWithDeps(ctx context.Context, cfg *config.Config, deps Deps) (*App, error) {
	a := &App{cfg: cfg, metrics: metrics.New()}

	storage, err := store.NewLocalStorage(cfg.ScanDir)
	if err != nil {
		return nil, serrors.Wrap(serrors.Config, err, "preparing scan directory")
	}
	a.storage = storage
	slog.Info("Scan directory ready", "path", cfg.ScanDir)

	ledger, err := store.NewBoltDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening scan history: %w", err)
	}
	a.ledger = ledger

	driver := deps.Driver
	if driver == nil {
		driver = newDriver(cfg)
	}
	a.session = device.NewSession(driver, device.Config{
		Device: cfg.ScannerDevice,
		Vendor: cfg.ScannerVendor,
		Model:  cfg.ScannerModel,
		DPI:    cfg.DPI,
		Mode:   cfg.Mode,
	})

	a.scans = scan.NewService(a.session, storage, ledger, a.metrics, scan.Options{
		Format:      cfg.Format,
		MaxFileSize: cfg.MaxFileSize(),
	})

	a.sweeper = retention.NewSweeper(cfg.ScanDir, a.metrics)
	a.sweeper.OnRemove(func(name string) {
		if _, err := ledger.DeleteRecordsByFilename(name); err != nil {
			slog.Warn("Failed to remove scan from history", "file", name, "error", err)
		}
	})
	a.runner = retention.NewRunner(a.sweeper, cfg.Retention(), deps.SweepInterval)

	a.captioner = deps.Captioner
	if a.captioner == nil {
		a.captioner, err = newCaptioner(ctx, cfg)
		if err != nil {
			a.closeStores()
			return nil, err
		}
	}

	a.messenger = deps.Messenger
	if a.messenger == nil {
		tg, err := bot.NewTelegram(cfg.TelegramToken)
		if err != nil {
			if a.captioner != nil {
				a.captioner.Close()
			}
			a.closeStores()
			return nil, err
		}
		a.messenger = tg
	}

	a.router = bot.NewRouter(a.messenger, bot.Deps{
		Gate:      auth.NewGate(cfg.ChatIDs),
		Scanner:   a.scans,
		Sweeper:   a.sweeper,
		Device:    a.session,
		Files:     storage,
		History:   ledger,
		Captioner: a.captioner,
		Metrics:   a.metrics,
	}, bot.Settings{
		DPI:            cfg.DPI,
		Mode:           cfg.Mode,
		Format:         cfg.Format,
		MaxFileSizeMB:  cfg.MaxFileSizeMB,
		RetentionHours: cfg.RetentionHours,
		ScanDir:        cfg.ScanDir,
	})

	if cfg.HTTPAddr != "" {
		a.ops = server.NewServer(server.Deps{
			Scanner: a.scans,
			Sweeper: a.sweeper,
			Device:  a.session,
			Ledger:  ledger,
			Files:   storage,
			Metrics: a.metrics.Handler(),
		}, server.BasicAuth{Username: cfg.AuthUser, Password: cfg.AuthPass}, cfg.Retention(), cfg.Format)
		if cfg.AuthUser == "" && cfg.AuthPass == "" {
			slog.Warn("Ops server has no credentials, anyone who can reach it may scan outside the allowed users", "address", cfg.HTTPAddr)
		}
	}

	return a, nil
}

func newDriver(cfg *config.Config) device.Driver {
	if cfg.ScannerDriver == config.DriverESCL {
		return device.NewESCL(cfg.ESCLURLs)
	}
	return device.NewSane(cfg.ScanimagePath)
}

func newCaptioner(ctx context.Context, cfg *config.Config) (caption.Captioner, error) {
	switch cfg.Captioner {
	case config.CaptionerGemini:
		slog.Info("Initializing Gemini captioner", "model", cfg.GeminiModel)
		g, err := caption.NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return g, nil
	case config.CaptionerOllama:
		slog.Info("Initializing Ollama captioner", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return caption.NewOllama(cfg.OllamaURL, cfg.OllamaModel), nil
	}
	return nil, nil
}

// Handler returns the request router, for feeding requests directly
func (a *App) Handler() bot.Handler {
	return a.router
}

// Run opens the scanner, starts the retention runner, the ops server and
// the chat loop, and blocks until ctx ends or a component fails. It stops
// the application before returning.
func (a *App) Run(ctx context.Context) error {
	slog.Info("Starting scan bot",
		"scan_dir", a.storage.Dir(),
		"device", deviceLabel(a.cfg.ScannerDevice),
		"authorized_users", len(a.cfg.ChatIDs),
	)

	// A scanner that is off at startup is retried on the first scan
	if err := a.session.Open(ctx); err != nil {
		slog.Warn("Scanner not available yet", "error", err)
	}

	a.runner.Start(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The chat loop ending for any reason ends the run
		defer cancel()
		return a.messenger.Run(gctx, a.router)
	})
	if a.ops != nil {
		g.Go(func() error {
			return a.ops.Start(a.cfg.HTTPAddr)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			return a.ops.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()
	if runErr != nil {
		slog.Error("Scan bot failed", "error", runErr)
	}
	return errors.Join(runErr, a.Stop())
}

// Stop stops the retention runner and releases the scanner, the history
// database and the captioner. It is safe to call more than once.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		slog.Info("Shutting down")
		a.runner.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.session.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing scanner: %w", err))
		}
		if a.captioner != nil {
			if err := a.captioner.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing captioner: %w", err))
			}
		}
		if err := a.closeStores(); err != nil {
			errs = append(errs, err)
		}
		a.stopErr = errors.Join(errs...)
		slog.Info("Scan bot stopped")
	})
	return a.stopErr
}

func (a *App) closeStores() error {
	if err := a.ledger.Close(); err != nil {
		return fmt.Errorf("closing scan history: %w", err)
	}
	return nil
}

func deviceLabel(name string) string {
	if name == "" {
		return "auto"
	}
	return name
}
