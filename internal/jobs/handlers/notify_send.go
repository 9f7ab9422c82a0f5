package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/himera-billing/internal/jobs"
	"github.com/Proton-105/himera-billing/internal/notifier"
)

// NotifySendHandler delivers queued notifications through the chat transport.
type NotifySendHandler struct {
	transport notifier.Notifier
	log       *slog.Logger
}

func NewNotifySendHandler(transport notifier.Notifier, log *slog.Logger) *NotifySendHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NotifySendHandler{transport: transport, log: log}
}

// ProcessTask delivers the message once. Delivery failures are logged and the task completes.
func (h *NotifySendHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "notify: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("decode notify payload: %w: %w", err, asynq.SkipRetry)
	}

	msg := notifier.Message{UserID: payload.UserID, Key: payload.Key, Params: payload.Params}
	if err := h.transport.Notify(ctx, msg); err != nil {
		h.log.WarnContext(ctx, "notify: delivery failed",
			slog.Int64("user_id", payload.UserID),
			slog.String("key", payload.Key),
			slog.Any("error", err),
		)
	}

	return nil
}
