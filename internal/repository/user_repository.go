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

// ErrDuplicateReferralCode is returned by Create when the generated referral code is taken.
var ErrDuplicateReferralCode = errors.New("referral code already taken")

const userColumns = `id, plan, quota_used, quota_reset_at, referral_code, referrer_id,
		discount_accumulator, promo_end, notified_thresholds, created_at`

// UserRepository defines persistence operations for users.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByReferralCode(ctx context.Context, code string) (*domain.User, error)
	// Create inserts the user and reports false when the id already exists.
	Create(ctx context.Context, user *domain.User) (bool, error)
	// ListPromoPending returns users whose promotion ends before the given instant
	// and who have not received the expiry reminder yet.
	ListPromoPending(ctx context.Context, endsBefore time.Time) ([]*domain.User, error)
	// MarkThreshold sets flag on the user only if it is not set yet and reports whether it did.
	MarkThreshold(ctx context.Context, id int64, flag domain.ThresholdFlag) (bool, error)
}

type userRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewUserRepository creates a new SQL-backed user repository.
func NewUserRepository(db *sql.DB, log *slog.Logger) UserRepository {
	if log == nil {
		log = slog.Default()
	}

	return &userRepository{
		db:  db,
		log: log,
	}
}

// FindByID retrieves a user by chat identifier.
func (r *userRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}

		r.log.Error("failed to fetch user", slog.Int64("user_id", id), slog.Any("error", err))
		return nil, fmt.Errorf("select user by id: %w", err)
	}

	return user, nil
}

// FindByReferralCode retrieves the owner of a referral code.
func (r *userRepository) FindByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE referral_code = $1
	`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}

		r.log.Error("failed to fetch user by referral code", slog.Any("error", err))
		return nil, fmt.Errorf("select user by referral code: %w", err)
	}

	return user, nil
}

// Create persists a new user record in the database.
func (r *userRepository) Create(ctx context.Context, user *domain.User) (bool, error) {
	const query = `
		INSERT INTO users (id, plan, quota_used, quota_reset_at, referral_code, referrer_id,
			discount_accumulator, promo_end, notified_thresholds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	res, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		string(user.Plan),
		user.QuotaUsed,
		user.QuotaResetAt,
		user.ReferralCode,
		nullInt64(user.ReferrerID),
		user.DiscountAccumulator,
		nullTime(user.PromoEnd),
		int16(user.NotifiedThresholds),
		user.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return false, ErrDuplicateReferralCode
		}

		r.log.Error("failed to create user", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return false, fmt.Errorf("insert user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert user rows affected: %w", err)
	}

	return affected == 1, nil
}

// ListPromoPending returns users with an open promotion automaton.
func (r *userRepository) ListPromoPending(ctx context.Context, endsBefore time.Time) ([]*domain.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE promo_end IS NOT NULL
		  AND (notified_thresholds & $1) = 0
		  AND promo_end < $2
		ORDER BY promo_end, id
	`

	rows, err := r.db.QueryContext(ctx, query, int16(domain.FlagExpired), endsBefore)
	if err != nil {
		r.log.Error("failed to list promo users", slog.Any("error", err))
		return nil, fmt.Errorf("select promo users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promo user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate promo users: %w", err)
	}

	return users, nil
}

// MarkThreshold atomically sets a reminder flag.
func (r *userRepository) MarkThreshold(ctx context.Context, id int64, flag domain.ThresholdFlag) (bool, error) {
	const query = `
		UPDATE users
		SET notified_thresholds = notified_thresholds | $2
		WHERE id = $1 AND (notified_thresholds & $2) = 0
	`

	res, err := r.db.ExecContext(ctx, query, id, int16(flag))
	if err != nil {
		r.log.Error("failed to mark promo threshold",
			slog.Int64("user_id", id),
			slog.Int("flag", int(flag)),
			slog.Any("error", err),
		)
		return false, fmt.Errorf("mark threshold: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark threshold rows affected: %w", err)
	}

	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user       domain.User
		plan       string
		referrerID sql.NullInt64
		promoEnd   sql.NullTime
		flags      int16
	)

	if err := row.Scan(
		&user.ID,
		&plan,
		&user.QuotaUsed,
		&user.QuotaResetAt,
		&user.ReferralCode,
		&referrerID,
		&user.DiscountAccumulator,
		&promoEnd,
		&flags,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}

	user.Plan = domain.Plan(plan)
	user.NotifiedThresholds = domain.ThresholdFlag(flags)
	if referrerID.Valid {
		id := referrerID.Int64
		user.ReferrerID = &id
	}
	if promoEnd.Valid {
		end := promoEnd.Time
		user.PromoEnd = &end
	}

	return &user, nil
}
