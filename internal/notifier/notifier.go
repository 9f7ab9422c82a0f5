// Package notifier delivers best-effort messages to users.
//
// Delivery is decoupled from the state changes that trigger it: callers log a
// failed Notify and carry on.
package notifier

import (
	"context"
	"log/slog"
)

const (
	KeyActivationConfirmed = "activation.confirmed"
	KeyReferralRewarded    = "referral.rewarded"
	keyPromoPrefix         = "promo."
)

// PromoKey returns the catalog key of a promotion reminder.
func PromoKey(threshold string) string {
	return keyPromoPrefix + threshold
}

// Message is a catalog key rendered for one user.
type Message struct {
	UserID int64             `json:"user_id"`
	Key    string            `json:"key"`
	Params map[string]string `json:"params,omitempty"`
}

// Notifier delivers a message to a user.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log. Used when no chat transport is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.log.InfoContext(ctx, "notification",
		slog.Int64("user_id", msg.UserID),
		slog.String("key", msg.Key),
		slog.Any("params", msg.Params),
	)
	return nil
}
