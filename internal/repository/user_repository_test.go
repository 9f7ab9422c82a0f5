package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-billing/internal/domain"
)

var userColumnNames = []string{
	"id", "plan", "quota_used", "quota_reset_at", "referral_code", "referrer_id",
	"discount_accumulator", "promo_end", "notified_thresholds", "created_at",
}

func TestUserRepository_FindByID(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	promoEnd := now.Add(24 * time.Hour)

	t.Run("scans nullable columns", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, testLogger())

		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows(userColumnNames).AddRow(
				int64(42), "tier1", int64(3), now, "ab12cd34", int64(9), int64(10), promoEnd, int64(3), now,
			))

		user, err := repo.FindByID(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, domain.PlanTier1, user.Plan)
		require.NotNil(t, user.ReferrerID)
		assert.Equal(t, int64(9), *user.ReferrerID)
		require.NotNil(t, user.PromoEnd)
		assert.True(t, user.NotifiedThresholds.Has(domain.FlagFiveHour|domain.FlagOneHour))
	})

	t.Run("unknown user", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, testLogger())

		mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows(userColumnNames))

		_, err := repo.FindByID(context.Background(), 404)
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})
}

func TestUserRepository_Create(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	user := &domain.User{
		ID:           42,
		Plan:         domain.PlanFree,
		QuotaResetAt: now.Add(24 * time.Hour),
		ReferralCode: "ab12cd34",
		CreatedAt:    now,
	}

	testCases := []struct {
		name     string
		affected int64
		expected bool
	}{
		{name: "inserts new user", affected: 1, expected: true},
		{name: "existing user untouched", affected: 0, expected: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewUserRepository(db, testLogger())

			mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO NOTHING")).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			created, err := repo.Create(context.Background(), user)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, created)
		})
	}

	t.Run("referral code collision", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, testLogger())

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
			WillReturnError(&pq.Error{Code: uniqueViolation, Constraint: "users_referral_code_key"})

		_, err := repo.Create(context.Background(), user)
		assert.ErrorIs(t, err, ErrDuplicateReferralCode)
	})
}

func TestUserRepository_MarkThreshold(t *testing.T) {
	testCases := []struct {
		name     string
		affected int64
		expected bool
	}{
		{name: "first mark wins", affected: 1, expected: true},
		{name: "flag already set", affected: 0, expected: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewUserRepository(db, testLogger())

			mock.ExpectExec(regexp.QuoteMeta("SET notified_thresholds = notified_thresholds | $2")).
				WithArgs(int64(42), int16(domain.FlagOneHour)).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			marked, err := repo.MarkThreshold(context.Background(), 42, domain.FlagOneHour)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, marked)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepository_ListPromoPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, testLogger())

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	horizon := now.Add(6 * time.Hour)
	end := now.Add(5 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("(notified_thresholds & $1) = 0")).
		WithArgs(int16(domain.FlagExpired), horizon).
		WillReturnRows(sqlmock.NewRows(userColumnNames).
			AddRow(int64(1), "free", int64(0), now, "code0001", nil, int64(0), end, int64(0), now).
			AddRow(int64(2), "free", int64(0), now, "code0002", nil, int64(0), end, int64(1), now))

	users, err := repo.ListPromoPending(context.Background(), horizon)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Nil(t, users[0].ReferrerID)
	assert.True(t, users[1].NotifiedThresholds.Has(domain.FlagFiveHour))
	assert.NoError(t, mock.ExpectationsWereMet())
}
