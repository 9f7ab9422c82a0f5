package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/Proton-105/himera-billing/internal/domain"
)

const ticketColumns = `id, owner_id, plan_requested, rail, amount, currency, status,
		origin_phone, destination_card, invoice_id, created_at, completed_at, external_trans_id`

// TicketRepository defines persistence operations for payment tickets.
type TicketRepository interface {
	// Create inserts a pending ticket. It fails with domain.ErrAlreadyPending when the
	// owner already holds one and with domain.ErrUserNotFound for an unknown owner.
	Create(ctx context.Context, ticket domain.NewTicket) (*domain.Ticket, error)
	// CancelPending cancels the owner's pending ticket and reports whether one existed.
	CancelPending(ctx context.Context, ownerID int64) (bool, error)
	// GetPending returns the owner's pending ticket or nil.
	GetPending(ctx context.Context, ownerID int64) (*domain.Ticket, error)
	// FindCandidate returns the earliest pending ticket satisfying every supplied predicate, or nil.
	FindCandidate(ctx context.Context, query domain.MatchQuery) (*domain.Ticket, error)
	FindByInvoiceID(ctx context.Context, invoiceID string) (*domain.Ticket, error)
	// FindCompletedByTransID returns the ticket a notification already completed, or nil.
	FindCompletedByTransID(ctx context.Context, rail domain.Rail, transID string) (*domain.Ticket, error)
	CountPending(ctx context.Context) (int64, error)
}

type ticketRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewTicketRepository creates a new SQL-backed ticket repository.
func NewTicketRepository(db *sql.DB, log *slog.Logger) TicketRepository {
	if log == nil {
		log = slog.Default()
	}

	return &ticketRepository{
		db:  db,
		log: log,
	}
}

func (r *ticketRepository) Create(ctx context.Context, ticket domain.NewTicket) (*domain.Ticket, error) {
	const query = `
		INSERT INTO payment_tickets (owner_id, plan_requested, rail, amount, currency, status,
			origin_phone, destination_card, invoice_id)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8)
		RETURNING ` + ticketColumns

	row := r.db.QueryRowContext(
		ctx,
		query,
		ticket.OwnerID,
		string(ticket.Plan),
		string(ticket.Rail),
		ticket.Amount,
		ticket.Currency,
		nullString(ticket.Predicates.OriginPhone),
		nullString(ticket.Predicates.DestinationCard),
		nullString(ticket.Predicates.InvoiceID),
	)

	created, err := scanTicket(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch {
			case pqErr.Code == uniqueViolation && pqErr.Constraint == onePendingPerOwnerConstraint:
				return nil, domain.ErrAlreadyPending
			case pqErr.Code == foreignKeyViolation:
				return nil, domain.ErrUserNotFound
			}
		}

		r.log.Error("failed to create ticket", slog.Int64("owner_id", ticket.OwnerID), slog.Any("error", err))
		return nil, fmt.Errorf("insert ticket: %w", err)
	}

	return created, nil
}

func (r *ticketRepository) CancelPending(ctx context.Context, ownerID int64) (bool, error) {
	const query = `
		UPDATE payment_tickets
		SET status = 'cancelled'
		WHERE owner_id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, ownerID)
	if err != nil {
		r.log.Error("failed to cancel ticket", slog.Int64("owner_id", ownerID), slog.Any("error", err))
		return false, fmt.Errorf("cancel pending ticket: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel pending ticket rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *ticketRepository) GetPending(ctx context.Context, ownerID int64) (*domain.Ticket, error) {
	const query = `
		SELECT ` + ticketColumns + `
		FROM payment_tickets
		WHERE owner_id = $1 AND status = 'pending'
	`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		r.log.Error("failed to fetch pending ticket", slog.Int64("owner_id", ownerID), slog.Any("error", err))
		return nil, fmt.Errorf("select pending ticket: %w", err)
	}

	return ticket, nil
}

func (r *ticketRepository) FindCandidate(ctx context.Context, q domain.MatchQuery) (*domain.Ticket, error) {
	var (
		conditions = []string{"status = 'pending'"}
		args       []any
	)

	where := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	where("rail", string(q.Rail))
	if q.OriginPhone != "" {
		where("origin_phone", q.OriginPhone)
	}
	if q.DestinationCard != "" {
		where("destination_card", q.DestinationCard)
	}
	if q.InvoiceID != "" {
		where("invoice_id", q.InvoiceID)
	}
	if q.Amount.Valid {
		where("amount", q.Amount.Decimal)
	}

	query := `
		SELECT ` + ticketColumns + `
		FROM payment_tickets
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at, id
		LIMIT 1
	`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		r.log.Error("failed to find candidate ticket", slog.String("rail", string(q.Rail)), slog.Any("error", err))
		return nil, fmt.Errorf("select candidate ticket: %w", err)
	}

	return ticket, nil
}

func (r *ticketRepository) FindByInvoiceID(ctx context.Context, invoiceID string) (*domain.Ticket, error) {
	const query = `
		SELECT ` + ticketColumns + `
		FROM payment_tickets
		WHERE invoice_id = $1
	`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}

		r.log.Error("failed to fetch ticket by invoice", slog.String("invoice_id", invoiceID), slog.Any("error", err))
		return nil, fmt.Errorf("select ticket by invoice: %w", err)
	}

	return ticket, nil
}

func (r *ticketRepository) FindCompletedByTransID(ctx context.Context, rail domain.Rail, transID string) (*domain.Ticket, error) {
	const query = `
		SELECT ` + ticketColumns + `
		FROM payment_tickets
		WHERE rail = $1 AND external_trans_id = $2 AND status = 'completed'
		ORDER BY completed_at
		LIMIT 1
	`

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, string(rail), transID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		r.log.Error("failed to fetch ticket by transaction", slog.String("trans_id", transID), slog.Any("error", err))
		return nil, fmt.Errorf("select ticket by transaction: %w", err)
	}

	return ticket, nil
}

func (r *ticketRepository) CountPending(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM payment_tickets WHERE status = 'pending'`

	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending tickets: %w", err)
	}

	return count, nil
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		ticket          domain.Ticket
		plan            string
		rail            string
		status          string
		originPhone     sql.NullString
		destinationCard sql.NullString
		invoiceID       sql.NullString
		completedAt     sql.NullTime
		transID         sql.NullString
	)

	if err := row.Scan(
		&ticket.ID,
		&ticket.OwnerID,
		&plan,
		&rail,
		&ticket.Amount,
		&ticket.Currency,
		&status,
		&originPhone,
		&destinationCard,
		&invoiceID,
		&ticket.CreatedAt,
		&completedAt,
		&transID,
	); err != nil {
		return nil, err
	}

	ticket.PlanRequested = domain.Plan(plan)
	ticket.Rail = domain.Rail(rail)
	ticket.Status = domain.TicketStatus(status)
	ticket.Predicates = domain.Predicates{
		OriginPhone:     originPhone.String,
		DestinationCard: destinationCard.String,
		InvoiceID:       invoiceID.String,
	}
	ticket.ExternalTransID = transID.String
	if completedAt.Valid {
		at := completedAt.Time
		ticket.CompletedAt = &at
	}

	return &ticket, nil
}
