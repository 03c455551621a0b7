// Package notify relays formatted messages to a Telegram chat.
package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// MinPhotoLength is the shortest encoded photo treated as a real image.
// Anything at or below it is sent as text only.
const MinPhotoLength = 1000

// DefaultAPIBase is the Telegram Bot API host.
const DefaultAPIBase = "https://api.telegram.org"

var ErrNotConfigured = errors.New("telegram bot token or chat id not configured")

// Config is built once at startup and handed to New.
type Config struct {
	BotToken string
	ChatID   string
	APIBase  string
	Timeout  time.Duration
	// RateLimit caps outbound calls per second. Zero means unlimited.
	RateLimit float64
}

// Configured reports whether both credentials are present.
func (c Config) Configured() bool {
	return c.BotToken != "" && c.ChatID != ""
}

// BotAPI is the outbound boundary to the messaging provider.
type BotAPI interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendPhoto(ctx context.Context, chatID string, photo []byte, caption string) error
}

// Notifier sends messages, degrading from photo to text.
type Notifier struct {
	logger  *slog.Logger
	config  Config
	api     BotAPI
	limiter *rate.Limiter
}

var tracer = otel.Tracer("notify")

// New returns a Notifier that talks to api. When api is nil a TelegramClient
// is built from config.
func New(logger *slog.Logger, config Config, api BotAPI) *Notifier {
	if api == nil {
		api = NewTelegramClient(config)
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &Notifier{
		logger:  logger.With("module", "notify"),
		config:  config,
		api:     api,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Configured reports whether outbound relay is enabled.
func (n *Notifier) Configured() bool {
	return n.config.Configured()
}

// Notify relays message, attaching photo when it looks like a real image.
// It reports whether the provider accepted the message in whatever form
// it was finally sent. Failures are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, message, photo string) bool {
	ctx, span := tracer.Start(ctx, "Notify")
	defer span.End()

	if !n.config.Configured() {
		n.logger.Warn("skipping notification", "err", ErrNotConfigured)
		notificationsSent.WithLabelValues("none", "not_configured").Inc()
		return false
	}

	if len(photo) > MinPhotoLength {
		span.SetAttributes(attribute.Int("photo_length", len(photo)))

		err := n.sendPhoto(ctx, photo, message)
		if err == nil {
			notificationsSent.WithLabelValues("photo", "ok").Inc()
			return true
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			n.logger.Error("telegram rejected photo, falling back to text", "err", err)
			notificationsSent.WithLabelValues("photo", "rejected").Inc()
		} else {
			n.logger.Error("failed to send photo, falling back to text", "err", err)
			notificationsSent.WithLabelValues("photo", "failed").Inc()
		}
	}

	if err := n.sendMessage(ctx, message); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			n.logger.Error("telegram rejected message", "err", err)
			notificationsSent.WithLabelValues("text", "rejected").Inc()
		} else {
			n.logger.Error("failed to send message", "err", err)
			notificationsSent.WithLabelValues("text", "failed").Inc()
		}
		return false
	}

	notificationsSent.WithLabelValues("text", "ok").Inc()
	return true
}

func (n *Notifier) sendMessage(ctx context.Context, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}
	return n.api.SendMessage(ctx, n.config.ChatID, text)
}

func (n *Notifier) sendPhoto(ctx context.Context, photo, caption string) error {
	img, err := DecodePhoto(photo)
	if err != nil {
		return err
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}
	return n.api.SendPhoto(ctx, n.config.ChatID, img, caption)
}

var dataURLPrefix = regexp.MustCompile(`^data:image/[A-Za-z0-9.+-]+;base64,`)

// StripDataURL removes a data:image/<fmt>;base64, header if present.
func StripDataURL(photo string) string {
	return dataURLPrefix.ReplaceAllString(photo, "")
}

// DecodePhoto strips any data-URL header and decodes the base64 payload.
func DecodePhoto(photo string) ([]byte, error) {
	img, err := base64.StdEncoding.DecodeString(StripDataURL(photo))
	if err != nil {
		return nil, fmt.Errorf("failed to decode photo: %w", err)
	}
	return img, nil
}
