package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Proton-105/himera-billing/internal/domain"
)

// ActivationParams describes one ticket completion and the plan grant it pays for.
type ActivationParams struct {
	TicketID       int64
	OwnerID        int64
	Plan           domain.Plan
	TransID        string
	CompletedAt    time.Time
	QuotaResetAt   time.Time
	ReferralReward int64
}

// ActivationRecord reports what an activation transaction changed.
type ActivationRecord struct {
	// Activated is false when the ticket was no longer pending or the transaction id
	// already completed another ticket on the same rail; nothing was written then.
	Activated        bool
	ReferrerID       *int64
	ReferrerCredited int64
}

// ActivationRepository completes tickets and grants plans atomically.
type ActivationRepository interface {
	Activate(ctx context.Context, params ActivationParams) (ActivationRecord, error)
}

type activationRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewActivationRepository creates a repository running activations in one transaction.
func NewActivationRepository(db *sql.DB, log *slog.Logger) ActivationRepository {
	if log == nil {
		log = slog.Default()
	}

	return &activationRepository{db: db, log: log}
}

// Activate flips the ticket from pending to completed, grants the plan to its owner and
// credits the owner's referrer. Either all three writes commit or none do.
func (r *activationRepository) Activate(ctx context.Context, p ActivationParams) (record ActivationRecord, err error) {
	const completeTicket = `
		UPDATE payment_tickets
		SET status = 'completed', completed_at = $2, external_trans_id = $3
		WHERE id = $1 AND status = 'pending'
	`
	const grantPlan = `
		UPDATE users
		SET plan = $2, quota_used = 0, quota_reset_at = $3
		WHERE id = $1
		RETURNING referrer_id
	`
	const creditReferrer = `
		UPDATE users
		SET discount_accumulator = discount_accumulator + $2
		WHERE id = $1
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return record, fmt.Errorf("begin activation: %w", err)
	}

	defer func() {
		if err == nil && record.Activated {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.log.Error("activation rollback failed", slog.Int64("ticket_id", p.TicketID), slog.Any("error", rbErr))
		}
	}()

	res, err := tx.ExecContext(ctx, completeTicket, p.TicketID, p.CompletedAt, p.TransID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == completedTransIDConstraint {
			r.log.Info("transaction id already completed a ticket",
				slog.Int64("ticket_id", p.TicketID),
				slog.String("trans_id", p.TransID),
			)
			return record, nil
		}
		return record, fmt.Errorf("complete ticket: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return record, fmt.Errorf("complete ticket rows affected: %w", err)
	}
	if affected == 0 {
		return record, nil
	}

	var referrerID sql.NullInt64
	if err = tx.QueryRowContext(ctx, grantPlan, p.OwnerID, string(p.Plan), p.QuotaResetAt).Scan(&referrerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrUserNotFound
		}
		return record, fmt.Errorf("grant plan: %w", err)
	}

	if referrerID.Valid {
		id := referrerID.Int64
		record.ReferrerID = &id

		if p.ReferralReward > 0 {
			if _, err = tx.ExecContext(ctx, creditReferrer, id, p.ReferralReward); err != nil {
				return record, fmt.Errorf("credit referrer: %w", err)
			}
			record.ReferrerCredited = p.ReferralReward
		}
	}

	if err = tx.Commit(); err != nil {
		return ActivationRecord{}, fmt.Errorf("commit activation: %w", err)
	}

	record.Activated = true
	return record, nil
}
