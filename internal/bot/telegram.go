package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Handler processes inbound requests
type Handler interface {
	Handle(ctx context.Context, req Request) error
}

// Telegram implements Transport on the Telegram Bot API and feeds updates
// from long polling to a Handler.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

// NewTelegram connects to the Bot API and checks the token
func NewTelegram(token string) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{})
}

// NewTelegramWithEndpoint connects to a custom Bot API endpoint, in the
// format of tgbotapi.APIEndpoint
func NewTelegramWithEndpoint(token, endpoint string, client *http.Client) (*Telegram, error) {
	if err := tgbotapi.SetLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn)); err != nil {
		return nil, fmt.Errorf("setting telegram logger: %w", err)
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	slog.Info("Connected to Telegram", "bot", api.Self.UserName)

	return &Telegram{
		bot: api,
		// Telegram allows about 30 messages per second per bot
		limiter: rate.NewLimiter(rate.Every(time.Second/25), 5),
	}, nil
}

// Run drops updates queued while the bot was offline, then long-polls and
// dispatches every request on its own goroutine until ctx ends. It returns
// after all dispatched handlers have returned.
func (t *Telegram) Run(ctx context.Context, h Handler) error {
	if _, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("dropping pending updates: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)
	slog.Info("Polling Telegram for updates")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.wg.Wait()
			slog.Info("Stopped polling Telegram")
			return nil
		case update, ok := <-updates:
			if !ok {
				t.wg.Wait()
				return nil
			}
			req, ok := requestFromUpdate(update)
			if !ok {
				continue
			}
			t.dispatch(ctx, h, req)
		}
	}
}

func (t *Telegram) dispatch(ctx context.Context, h Handler, req Request) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				slog.Error("Handler panicked", "command", req.Command, "user_id", req.UserID, "panic", p)
			}
		}()
		if err := h.Handle(ctx, req); err != nil {
			slog.Error("Failed to handle request", "command", req.Command, "user_id", req.UserID, "error", err)
		}
	}()
}

// requestFromUpdate converts commands, plain text and button presses.
// Everything else is ignored.
func requestFromUpdate(u tgbotapi.Update) (Request, bool) {
	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if q.From == nil || q.Message == nil || q.Message.Chat == nil {
			return Request{}, false
		}
		return Request{
			UserID:     q.From.ID,
			ChatID:     q.Message.Chat.ID,
			Command:    ParseCommand(q.Data),
			CallbackID: q.ID,
		}, true
	case u.Message != nil:
		m := u.Message
		if m.From == nil || m.Chat == nil {
			return Request{}, false
		}
		if m.IsCommand() {
			return Request{
				UserID:  m.From.ID,
				ChatID:  m.Chat.ID,
				Command: ParseCommand(m.Command()),
				Text:    m.Text,
			}, true
		}
		if m.Text == "" {
			return Request{}, false
		}
		return Request{
			UserID:  m.From.ID,
			ChatID:  m.Chat.ID,
			Command: CommandUnknown,
			Text:    m.Text,
			Silent:  true,
		}, true
	}
	return Request{}, false
}

func menuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📄 Scan", string(CommandScan)),
			tgbotapi.NewInlineKeyboardButtonData("📊 Status", string(CommandStatus)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑️ Cleanup", string(CommandCleanup)),
			tgbotapi.NewInlineKeyboardButtonData("❓ Help", string(CommandHelp)),
		),
	)
}

// Send sends an HTML text message
func (t *Telegram) Send(ctx context.Context, chatID int64, msg Message) (MessageRef, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return MessageRef{}, err
	}
	cfg := tgbotapi.NewMessage(chatID, msg.Text)
	cfg.ParseMode = tgbotapi.ModeHTML
	if msg.Menu {
		cfg.ReplyMarkup = menuKeyboard()
	}
	sent, err := t.bot.Send(cfg)
	if err != nil {
		return MessageRef{}, fmt.Errorf("sending message: %w", err)
	}
	return MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// SendFile uploads a file as a document with a plain text caption
func (t *Telegram) SendFile(ctx context.Context, chatID int64, path, caption string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = caption
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("sending document: %w", err)
	}
	return nil
}

// Edit replaces the text of a sent message
func (t *Telegram) Edit(ctx context.Context, ref MessageRef, msg Message) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	cfg := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, msg.Text)
	cfg.ParseMode = tgbotapi.ModeHTML
	if msg.Menu {
		kb := menuKeyboard()
		cfg.ReplyMarkup = &kb
	}
	if _, err := t.bot.Send(cfg); err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	return nil
}

// Delete removes a sent message
func (t *Telegram) Delete(ctx context.Context, ref MessageRef) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// Ack answers a button press
func (t *Telegram) Ack(ctx context.Context, callbackID, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answering callback: %w", err)
	}
	return nil
}
