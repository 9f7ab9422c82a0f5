package billing

import (
	"context"
	"fmt"

	"github.com/Proton-105/himera-billing/internal/domain"
	apperrors "github.com/Proton-105/himera-billing/internal/errors"
	"github.com/Proton-105/himera-billing/internal/repository"
)

// Matcher finds the pending ticket a payment notification pays for.
type Matcher struct {
	tickets repository.TicketRepository
}

// NewMatcher constructs a Matcher.
func NewMatcher(tickets repository.TicketRepository) *Matcher {
	return &Matcher{tickets: tickets}
}

// FindCandidate returns the earliest pending ticket on the rail that satisfies every
// predicate present in q, or nil when nothing matches. A query without predicates
// is rejected since it would match any ticket on the rail.
func (m *Matcher) FindCandidate(ctx context.Context, q domain.MatchQuery) (*domain.Ticket, error) {
	if !q.Rail.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown rail %q", q.Rail))
	}

	q.OriginPhone = NormalizePhone(q.OriginPhone)
	q.DestinationCard = NormalizeCard(q.DestinationCard)
	if !q.Constrained() {
		return nil, apperrors.NewMissingFieldsError("match predicates")
	}

	return m.tickets.FindCandidate(ctx, q)
}
