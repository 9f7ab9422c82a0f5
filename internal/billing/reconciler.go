package billing

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Proton-105/himera-billing/internal/domain"
	"github.com/Proton-105/himera-billing/internal/repository"
	"github.com/Proton-105/himera-billing/pkg/metrics"
)

// Outcome is the result of reconciling one notification.
type Outcome string

const (
	OutcomeActivated      Outcome = "activated"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeNoMatch        Outcome = "no_match"
)

// SynthesizedTransIDPrefix marks transaction ids generated for balance transfers
// that arrived without one.
const SynthesizedTransIDPrefix = "BAL-"

// Notification is a validated payment notification.
type Notification struct {
	Query   domain.MatchQuery
	TransID string
}

// Result reports what reconciling a notification did.
type Result struct {
	Outcome  Outcome
	TicketID int64
}

// Reconciler matches a notification to a ticket and activates it.
type Reconciler struct {
	matcher   *Matcher
	activator *Activator
	tickets   repository.TicketRepository
	log       *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(matcher *Matcher, activator *Activator, tickets repository.TicketRepository, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}

	return &Reconciler{
		matcher:   matcher,
		activator: activator,
		tickets:   tickets,
		log:       log,
	}
}

// Reconcile processes a notification. Neither a missing match nor a transaction id
// that already completed a ticket is an error: both are acknowledged so the sender
// stops retrying. Errors are store failures, safe to retry.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (Result, error) {
	rail := string(n.Query.Rail)

	done, err := r.completedBy(ctx, n)
	if err != nil {
		return Result{}, err
	}
	if done != nil {
		metrics.RecordReconciliation(rail, string(OutcomeAlreadyHandled))
		return Result{Outcome: OutcomeAlreadyHandled, TicketID: done.ID}, nil
	}

	ticket, err := r.matcher.FindCandidate(ctx, n.Query)
	if err != nil {
		return Result{}, err
	}

	if ticket == nil {
		r.log.InfoContext(ctx, "notification matched no ticket",
			slog.String("rail", rail),
			slog.String("trans_id", n.TransID),
		)
		metrics.RecordReconciliation(rail, string(OutcomeNoMatch))
		return Result{Outcome: OutcomeNoMatch}, nil
	}

	activation, err := r.activator.Activate(ctx, ticket, n.TransID)
	if err != nil {
		return Result{}, err
	}

	result := Result{Outcome: OutcomeAlreadyHandled, TicketID: ticket.ID}
	if activation.Activated {
		result.Outcome = OutcomeActivated
	}

	metrics.RecordReconciliation(rail, string(result.Outcome))
	return result, nil
}

// completedBy returns the ticket a sender-issued transaction id already completed.
// Synthesized ids are fresh per delivery and never looked up.
func (r *Reconciler) completedBy(ctx context.Context, n Notification) (*domain.Ticket, error) {
	if n.TransID == "" || strings.HasPrefix(n.TransID, SynthesizedTransIDPrefix) {
		return nil, nil
	}

	return r.tickets.FindCompletedByTransID(ctx, n.Query.Rail, n.TransID)
}
