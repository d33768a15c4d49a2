// Package bot turns chat requests into scanner operations and renders the
// replies. The chat network itself sits behind Transport.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/zombor/scanbot/internal/auth"
	"github.com/zombor/scanbot/internal/caption"
	"github.com/zombor/scanbot/internal/device"
	"github.com/zombor/scanbot/internal/imaging"
	"github.com/zombor/scanbot/internal/metrics"
	"github.com/zombor/scanbot/internal/scan"
	"github.com/zombor/scanbot/internal/serrors"
	"github.com/zombor/scanbot/internal/store"
)

// Command is what a request asks for
type Command string

const (
	CommandStart   Command = "start"
	CommandHelp    Command = "help"
	CommandScan    Command = "scan"
	CommandStatus  Command = "status"
	CommandCleanup Command = "cleanup"
	CommandUnknown Command = "unknown"
)

// ParseCommand maps a command name (without the slash) or a button token
// to a Command.
func ParseCommand(name string) Command {
	switch c := Command(strings.ToLower(strings.TrimSpace(name))); c {
	case CommandStart, CommandHelp, CommandScan, CommandStatus, CommandCleanup:
		return c
	}
	return CommandUnknown
}

// Request is one inbound chat event
type Request struct {
	UserID  int64
	ChatID  int64
	Command Command
	Text    string
	// CallbackID is set when the request is a button press
	CallbackID string
	// Silent requests (plain text) get no answer when unauthorized
	Silent bool
}

// MessageRef identifies a sent message
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Message is an outbound text. Text is HTML.
type Message struct {
	Text string
	// Menu attaches the action buttons
	Menu bool
}

// Transport is the chat network
type Transport interface {
	Send(ctx context.Context, chatID int64, msg Message) (MessageRef, error)
	SendFile(ctx context.Context, chatID int64, path, caption string) error
	Edit(ctx context.Context, ref MessageRef, msg Message) error
	Delete(ctx context.Context, ref MessageRef) error
	Ack(ctx context.Context, callbackID, text string) error
}

// Scanner runs the scan procedure
type Scanner interface {
	ScanDocument(ctx context.Context, requestedBy int64) (*scan.File, error)
}

// Sweeper runs the retention sweep
type Sweeper interface {
	Sweep(ctx context.Context, window time.Duration) (int, error)
}

// DeviceStatus reports the scanner session state
type DeviceStatus interface {
	Status() device.Status
}

// FileCounter counts files in the output directory
type FileCounter interface {
	Count() (int, error)
}

// LatestScan returns the newest ledger entry
type LatestScan interface {
	LatestRecord() (*store.Record, error)
}

// Settings are shown in help and status replies
type Settings struct {
	DPI            int
	Mode           string
	Format         imaging.Format
	MaxFileSizeMB  int
	RetentionHours int
	ScanDir        string
}

// Deps are the collaborators of the router. History, Captioner and
// Metrics may be nil.
type Deps struct {
	Gate      *auth.Gate
	Scanner   Scanner
	Sweeper   Sweeper
	Device    DeviceStatus
	Files     FileCounter
	History   LatestScan
	Captioner caption.Captioner
	Metrics   *metrics.Metrics
}

// Router handles requests
type Router struct {
	transport Transport
	deps      Deps
	settings  Settings
}

// NewRouter creates a router replying through transport
func NewRouter(transport Transport, deps Deps, settings Settings) *Router {
	return &Router{
		transport: transport,
		deps:      deps,
		settings:  settings,
	}
}

// Handle processes one request. Failures of the scanner or the sweeper are
// rendered as replies; the returned error is about the transport only.
func (r *Router) Handle(ctx context.Context, req Request) error {
	authorized := r.deps.Gate.IsAuthorized(req.UserID)
	r.deps.Metrics.ObserveRequest(string(req.Command), authorized)

	if req.CallbackID != "" {
		if err := r.transport.Ack(ctx, req.CallbackID, ""); err != nil {
			slog.Warn("Failed to acknowledge button press", "user_id", req.UserID, "error", err)
		}
	}

	if !authorized {
		slog.Warn("Unauthorized request", "user_id", req.UserID, "command", req.Command)
		if req.Silent {
			return nil
		}
		return r.reply(ctx, req, Message{Text: msgDenied})
	}

	switch req.Command {
	case CommandStart:
		slog.Info("User started the bot", "user_id", req.UserID)
		return r.reply(ctx, req, Message{Text: msgWelcome, Menu: true})
	case CommandHelp:
		return r.reply(ctx, req, Message{Text: msgHelp(r.settings)})
	case CommandScan:
		return r.scan(ctx, req)
	case CommandStatus:
		return r.status(ctx, req)
	case CommandCleanup:
		return r.cleanup(ctx, req)
	default:
		return r.reply(ctx, req, Message{Text: msgUnrecognized, Menu: true})
	}
}

func (r *Router) reply(ctx context.Context, req Request, msg Message) error {
	if _, err := r.transport.Send(ctx, req.ChatID, msg); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

func (r *Router) scan(ctx context.Context, req Request) error {
	slog.Info("Scan requested", "user_id", req.UserID)

	notice, err := r.transport.Send(ctx, req.ChatID, Message{Text: msgScanStarted})
	if err != nil {
		return fmt.Errorf("sending scan notice: %w", err)
	}

	file, err := r.deps.Scanner.ScanDocument(ctx, req.UserID)
	if err != nil {
		msg := Message{Text: msgUnexpectedError(err)}
		if serrors.KindOf(err) == serrors.Scan {
			msg = Message{Text: msgScannerError(err), Menu: true}
		}
		if editErr := r.transport.Edit(ctx, notice, msg); editErr != nil {
			return fmt.Errorf("reporting scan failure: %w", editErr)
		}
		return nil
	}

	if err := r.transport.Edit(ctx, notice, Message{Text: msgScanSending}); err != nil {
		slog.Warn("Failed to update scan notice", "error", err)
	}

	if err := r.transport.SendFile(ctx, req.ChatID, file.Path, msgScanCaption(file.CreatedAt, r.title(ctx, file))); err != nil {
		slog.Error("Failed to send scan", "file", file.Name, "user_id", req.UserID, "error", err)
		if editErr := r.transport.Edit(ctx, notice, Message{Text: msgSendFailed(err), Menu: true}); editErr != nil {
			return fmt.Errorf("reporting send failure: %w", editErr)
		}
		return nil
	}

	if err := r.transport.Delete(ctx, notice); err != nil {
		slog.Warn("Failed to delete scan notice", "error", err)
	}
	slog.Info("Scan delivered", "file", file.Name, "user_id", req.UserID)
	return nil
}

// title asks the captioner for a document title. Any failure leaves the
// caption plain.
func (r *Router) title(ctx context.Context, file *scan.File) string {
	if r.deps.Captioner == nil {
		return ""
	}
	data, err := os.ReadFile(file.Path)
	if err != nil {
		slog.Warn("Failed to read scan for captioning", "file", file.Name, "error", err)
		return ""
	}
	summary, err := r.deps.Captioner.Describe(ctx, data, file.Format.ContentType())
	if err != nil {
		slog.Warn("Failed to caption scan", "file", file.Name, "error", err)
		return ""
	}
	return summary.Caption()
}

func (r *Router) status(ctx context.Context, req Request) error {
	count, err := r.deps.Files.Count()
	if err != nil {
		slog.Error("Failed to count scan files", "error", err)
		return r.reply(ctx, req, Message{Text: msgStatusFailed(err)})
	}

	var latest *store.Record
	if r.deps.History != nil {
		latest, err = r.deps.History.LatestRecord()
		if err != nil {
			slog.Warn("Failed to read last scan", "error", err)
		}
	}

	return r.reply(ctx, req, Message{Text: msgStatus(r.deps.Device.Status(), r.settings, count, latest)})
}

func (r *Router) cleanup(ctx context.Context, req Request) error {
	window := time.Duration(r.settings.RetentionHours) * time.Hour
	deleted, err := r.deps.Sweeper.Sweep(ctx, window)
	if err != nil {
		slog.Error("Cleanup failed", "user_id", req.UserID, "error", err)
		return r.reply(ctx, req, Message{Text: msgCleanupFailed(err)})
	}
	slog.Info("Cleanup requested", "user_id", req.UserID, "deleted", deleted)

	if deleted > 0 {
		return r.reply(ctx, req, Message{Text: msgCleaned(deleted)})
	}
	return r.reply(ctx, req, Message{Text: msgCleanNothing})
}
