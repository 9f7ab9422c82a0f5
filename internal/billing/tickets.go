package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Proton-105/himera-billing/internal/domain"
	apperrors "github.com/Proton-105/himera-billing/internal/errors"
	"github.com/Proton-105/himera-billing/internal/repository"
	"github.com/Proton-105/himera-billing/pkg/metrics"
)

// InvoiceState is the externally visible state of a crypto invoice.
type InvoiceState string

const (
	InvoicePaid      InvoiceState = "paid"
	InvoicePending   InvoiceState = "pending"
	InvoiceCancelled InvoiceState = "cancelled"
	InvoiceNotFound  InvoiceState = "not_found"
)

// CreateTicketRequest is a purchase intent.
type CreateTicketRequest struct {
	OwnerID int64
	Plan    domain.Plan
	Rail    domain.Rail
	Phone   string
}

// TicketService manages the ticket lifecycle on behalf of chat and web front-ends.
type TicketService struct {
	tickets repository.TicketRepository
	users   repository.UserRepository
	pricing *Pricing
	now     func() time.Time
	log     *slog.Logger
}

// NewTicketService constructs a TicketService.
func NewTicketService(tickets repository.TicketRepository, users repository.UserRepository, pricing *Pricing, log *slog.Logger) *TicketService {
	if log == nil {
		log = slog.Default()
	}

	return &TicketService{
		tickets: tickets,
		users:   users,
		pricing: pricing,
		now:     time.Now,
		log:     log,
	}
}

// CreateTicket opens a pending ticket priced for the owner. It fails with
// domain.ErrAlreadyPending when the owner already has one.
func (s *TicketService) CreateTicket(ctx context.Context, req CreateTicketRequest) (*domain.Ticket, error) {
	if !req.Plan.Paid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("plan %q cannot be purchased", req.Plan))
	}
	if !req.Rail.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown rail %q", req.Rail))
	}

	predicates, err := s.predicates(req)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load ticket owner: %w", err)
	}

	quote, err := s.pricing.Quote(req.Plan, req.Rail, user.PromoActive(s.now()))
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	ticket, err := s.tickets.Create(ctx, domain.NewTicket{
		OwnerID:    req.OwnerID,
		Plan:       req.Plan,
		Rail:       req.Rail,
		Amount:     quote.Amount,
		Currency:   quote.Currency,
		Predicates: predicates,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyPending) {
			metrics.RecordTicketConflict()
		}
		return nil, err
	}

	metrics.RecordTicketCreated(string(ticket.Rail), string(ticket.PlanRequested))
	s.log.InfoContext(ctx, "ticket created",
		slog.Int64("ticket_id", ticket.ID),
		slog.Int64("owner_id", ticket.OwnerID),
		slog.String("rail", string(ticket.Rail)),
		slog.String("plan", string(ticket.PlanRequested)),
		slog.String("amount", ticket.Amount.String()),
	)

	return ticket, nil
}

func (s *TicketService) predicates(req CreateTicketRequest) (domain.Predicates, error) {
	switch req.Rail {
	case domain.RailCard, domain.RailMobileBalance:
		phone := NormalizePhone(req.Phone)
		if !ValidPhone(phone) {
			return domain.Predicates{}, apperrors.NewMissingFieldsError("phone")
		}

		p := domain.Predicates{OriginPhone: phone}
		if req.Rail == domain.RailCard {
			p.DestinationCard = s.pricing.DestinationCard()
		}
		return p, nil
	default:
		return domain.Predicates{InvoiceID: uuid.NewString()}, nil
	}
}

// CancelTicket cancels the owner's pending ticket. Having none is not an error.
func (s *TicketService) CancelTicket(ctx context.Context, ownerID int64) (bool, error) {
	cancelled, err := s.tickets.CancelPending(ctx, ownerID)
	if err != nil {
		return false, err
	}

	if cancelled {
		metrics.RecordTicketCancelled()
		s.log.InfoContext(ctx, "ticket cancelled", slog.Int64("owner_id", ownerID))
	}

	return cancelled, nil
}

// PendingTicket returns the owner's pending ticket, or nil.
func (s *TicketService) PendingTicket(ctx context.Context, ownerID int64) (*domain.Ticket, error) {
	return s.tickets.GetPending(ctx, ownerID)
}

// InvoiceStatus reports the state of the ticket behind a crypto invoice.
func (s *TicketService) InvoiceStatus(ctx context.Context, invoiceID string) (InvoiceState, error) {
	ticket, err := s.tickets.FindByInvoiceID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, domain.ErrTicketNotFound) {
			return InvoiceNotFound, nil
		}
		return "", err
	}

	switch ticket.Status {
	case domain.StatusCompleted:
		return InvoicePaid, nil
	case domain.StatusCancelled:
		return InvoiceCancelled, nil
	default:
		return InvoicePending, nil
	}
}
