package promo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/himera-billing/internal/notifier"
	"github.com/Proton-105/himera-billing/internal/repository"
	"github.com/Proton-105/himera-billing/pkg/metrics"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int
	Fired   int
	Skipped int
}

// Sweeper evaluates every open promotion once per tick.
type Sweeper struct {
	users    repository.UserRepository
	notifier notifier.Notifier
	log      *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(users repository.UserRepository, n notifier.Notifier, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{users: users, notifier: n, log: log}
}

// Sweep fires due reminders as of now. The flag is claimed with a compare-and-set before
// notifying, so overlapping sweeps never notify a user twice for the same threshold.
// Per-user store failures do not stop the sweep; they are joined into the returned error.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.ObservePromoSweep(time.Since(start))
	}()

	var result SweepResult

	users, err := s.users.ListPromoPending(ctx, now.Add(Horizon()))
	if err != nil {
		return result, fmt.Errorf("list promo users: %w", err)
	}

	var errs []error
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		result.Scanned++
		if user.PromoEnd == nil {
			continue
		}

		threshold, due := Select(user.PromoEnd.Sub(now), user.NotifiedThresholds)
		if !due {
			continue
		}

		claimed, err := s.users.MarkThreshold(ctx, user.ID, threshold.Flag)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %d threshold %s: %w", user.ID, threshold.Name, err))
			continue
		}
		if !claimed {
			result.Skipped++
			continue
		}

		result.Fired++
		metrics.RecordPromoReminder(threshold.Name)

		if err := s.notifier.Notify(ctx, notifier.Message{
			UserID: user.ID,
			Key:    notifier.PromoKey(threshold.Name),
		}); err != nil {
			s.log.WarnContext(ctx, "promo reminder delivery failed",
				slog.Int64("user_id", user.ID),
				slog.String("threshold", threshold.Name),
				slog.Any("error", err),
			)
		}
	}

	return result, errors.Join(errs...)
}
