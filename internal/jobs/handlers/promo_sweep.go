package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/himera-billing/internal/promo"
)

// PromoSweeper runs one promotion sweep.
type PromoSweeper interface {
	Sweep(ctx context.Context, now time.Time) (promo.SweepResult, error)
}

type PromoSweepHandler struct {
	sweeper PromoSweeper
	now     func() time.Time
	log     *slog.Logger
}

func NewPromoSweepHandler(sweeper PromoSweeper, log *slog.Logger) *PromoSweepHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PromoSweepHandler{sweeper: sweeper, now: time.Now, log: log}
}

func (h *PromoSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	started := h.now().UTC()

	result, err := h.sweeper.Sweep(ctx, started)

	attrs := []any{
		slog.String("task_type", t.Type()),
		slog.Int("scanned", result.Scanned),
		slog.Int("fired", result.Fired),
		slog.Int("skipped", result.Skipped),
	}
	if err != nil {
		h.log.ErrorContext(ctx, "promo sweep finished with errors", append(attrs, slog.Any("error", err))...)
		return err
	}

	h.log.InfoContext(ctx, "promo sweep finished", attrs...)
	return nil
}
