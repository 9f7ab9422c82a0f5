package billing

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Proton-105/himera-billing/internal/domain"
	"github.com/Proton-105/himera-billing/internal/notifier"
	"github.com/Proton-105/himera-billing/internal/repository"
	"github.com/Proton-105/himera-billing/pkg/metrics"
)

const notifyTimeout = 5 * time.Second

// ProfileInvalidator drops cached user profiles.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...int64) error
}

// Activation describes the effect of one activation attempt.
type Activation struct {
	// Activated is false when the ticket had already left pending or the transaction id
	// had already completed another ticket; nothing changed then.
	Activated      bool
	ReferrerID     *int64
	ReferralReward int64
	QuotaResetAt   time.Time
}

// Activator completes tickets and grants the purchased plan exactly once.
type Activator struct {
	store    repository.ActivationRepository
	pricing  *Pricing
	notifier notifier.Notifier
	cache    ProfileInvalidator
	now      func() time.Time
	log      *slog.Logger
}

// NewActivator constructs an Activator. cache may be nil.
func NewActivator(store repository.ActivationRepository, pricing *Pricing, n notifier.Notifier, cache ProfileInvalidator, log *slog.Logger) *Activator {
	if log == nil {
		log = slog.Default()
	}

	return &Activator{
		store:    store,
		pricing:  pricing,
		notifier: n,
		cache:    cache,
		now:      time.Now,
		log:      log,
	}
}

// Activate completes ticket with the external transaction id, grants its plan, resets
// the owner's quota and credits the owner's referrer, all in one transaction guarded by
// a compare-and-set on the ticket status. Store errors are returned as-is and are safe
// to retry. Notifications are sent after commit and their failure is only logged.
func (a *Activator) Activate(ctx context.Context, ticket *domain.Ticket, transID string) (Activation, error) {
	now := a.now().UTC()
	resetAt := now.Add(ticket.PlanRequested.QuotaPeriod())

	started := time.Now()
	record, err := a.store.Activate(ctx, repository.ActivationParams{
		TicketID:       ticket.ID,
		OwnerID:        ticket.OwnerID,
		Plan:           ticket.PlanRequested,
		TransID:        transID,
		CompletedAt:    now,
		QuotaResetAt:   resetAt,
		ReferralReward: a.pricing.ReferralReward(ticket.PlanRequested),
	})
	metrics.ObserveActivation(time.Since(started))
	if err != nil {
		return Activation{}, err
	}

	if !record.Activated {
		a.log.InfoContext(ctx, "ticket already handled",
			slog.Int64("ticket_id", ticket.ID),
			slog.String("trans_id", transID),
		)
		return Activation{}, nil
	}

	result := Activation{
		Activated:      true,
		ReferrerID:     record.ReferrerID,
		ReferralReward: record.ReferrerCredited,
		QuotaResetAt:   resetAt,
	}

	a.log.InfoContext(ctx, "plan activated",
		slog.Int64("ticket_id", ticket.ID),
		slog.Int64("owner_id", ticket.OwnerID),
		slog.String("plan", string(ticket.PlanRequested)),
		slog.String("trans_id", transID),
		slog.Int64("referral_reward", record.ReferrerCredited),
	)
	metrics.RecordReferralReward(string(ticket.PlanRequested), record.ReferrerCredited)

	a.afterCommit(ctx, ticket, result)

	return result, nil
}

func (a *Activator) afterCommit(ctx context.Context, ticket *domain.Ticket, result Activation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	touched := []int64{ticket.OwnerID}
	if result.ReferrerID != nil {
		touched = append(touched, *result.ReferrerID)
	}
	if a.cache != nil {
		if err := a.cache.Invalidate(ctx, touched...); err != nil {
			a.log.WarnContext(ctx, "failed to invalidate profile cache", slog.Any("error", err))
		}
	}

	a.notify(ctx, notifier.Message{
		UserID: ticket.OwnerID,
		Key:    notifier.KeyActivationConfirmed,
		Params: map[string]string{
			"plan":     string(ticket.PlanRequested),
			"reset_at": result.QuotaResetAt.Format("2006-01-02"),
		},
	})

	if result.ReferrerID != nil && result.ReferralReward > 0 {
		a.notify(ctx, notifier.Message{
			UserID: *result.ReferrerID,
			Key:    notifier.KeyReferralRewarded,
			Params: map[string]string{"reward": strconv.FormatInt(result.ReferralReward, 10)},
		})
	}
}

func (a *Activator) notify(ctx context.Context, msg notifier.Message) {
	if a.notifier == nil {
		return
	}

	if err := a.notifier.Notify(ctx, msg); err != nil {
		metrics.RecordNotification(msg.Key, "error")
		a.log.WarnContext(ctx, "notification failed",
			slog.Int64("user_id", msg.UserID),
			slog.String("key", msg.Key),
			slog.Any("error", err),
		)
	}
}
