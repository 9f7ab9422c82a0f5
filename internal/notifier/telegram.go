package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/himera-billing/internal/errors"
	"github.com/Proton-105/himera-billing/internal/i18n"
	"github.com/Proton-105/himera-billing/pkg/config"
	"github.com/Proton-105/himera-billing/pkg/metrics"
)

// Sender is the part of telebot.Bot used to deliver messages.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// NewBot creates a send-only Telegram bot. No updates are polled.
func NewBot(cfg config.BotConfig) (*telebot.Bot, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return bot, nil
}

// TelegramNotifier renders catalog messages and sends them as chat messages.
type TelegramNotifier struct {
	sender  Sender
	catalog *i18n.Manager
	lang    string
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
}

// NewTelegramNotifier creates a notifier sending through sender, guarded by a circuit breaker.
func NewTelegramNotifier(sender Sender, catalog *i18n.Manager, lang string, log *slog.Logger) *TelegramNotifier {
	if log == nil {
		log = slog.Default()
	}

	breaker := apperrors.NewCircuitBreaker("telegram", func(name string, from, to apperrors.State) {
		metrics.SetCircuitBreakerState(name, int(to))
		log.Warn("circuit breaker state changed",
			slog.String("name", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})

	return &TelegramNotifier{
		sender:  sender,
		catalog: catalog,
		lang:    lang,
		breaker: breaker,
		log:     log,
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := n.catalog.Translator(n.lang).Tf(msg.Key, msg.Params)

	err := n.breaker.Call(func() error {
		_, sendErr := n.sender.Send(telebot.ChatID(msg.UserID), text)
		return sendErr
	})
	if err != nil {
		status := "error"
		if errors.Is(err, apperrors.ErrCircuitOpen) {
			status = "circuit_open"
		}
		metrics.RecordNotification(msg.Key, status)
		return apperrors.NewExternalAPIError("telegram", err)
	}

	metrics.RecordNotification(msg.Key, "sent")
	return nil
}
