package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Proton-105/himera-billing/internal/domain"
	"github.com/Proton-105/himera-billing/internal/repository"
)

const (
	referralCodeLength   = 8
	referralCodeAttempts = 5
)

// ProfileCache is the read-through cache in front of the users table.
type ProfileCache interface {
	Get(ctx context.Context, userID int64) (*domain.User, error)
	Set(ctx context.Context, user *domain.User) error
}

// Profile is the view of a user served to front-ends.
type Profile struct {
	User        *domain.User
	QuotaLimit  int
	PromoActive bool
}

// Service provides business operations over users.
type Service struct {
	repo        repository.UserRepository
	cache       ProfileCache
	promoWindow time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// NewService constructs a new Service instance. cache may be nil.
func NewService(repo repository.UserRepository, cache ProfileCache, promoWindow time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		repo:        repo,
		cache:       cache,
		promoWindow: promoWindow,
		now:         time.Now,
		log:         log,
	}
}

// Register creates the user on first contact and reports whether it was created.
// A known user is returned unchanged. referralCode is optional; an unknown code or
// the user's own code is ignored.
func (s *Service) Register(ctx context.Context, userID int64, referralCode string) (*domain.User, bool, error) {
	existing, err := s.repo.FindByID(ctx, userID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		s.logError(ctx, "register.find", userID, err)
		return nil, false, fmt.Errorf("get user: %w", err)
	}

	referrerID, err := s.resolveReferrer(ctx, userID, referralCode)
	if err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	promoEnd := now.Add(s.promoWindow)
	newUser := &domain.User{
		ID:           userID,
		Plan:         domain.PlanFree,
		QuotaResetAt: now.Add(domain.PlanFree.QuotaPeriod()),
		ReferrerID:   referrerID,
		PromoEnd:     &promoEnd,
		CreatedAt:    now,
	}

	for attempt := 1; ; attempt++ {
		newUser.ReferralCode = newReferralCode()

		created, err := s.repo.Create(ctx, newUser)
		if err == nil {
			if !created {
				// registered concurrently
				existing, err := s.repo.FindByID(ctx, userID)
				return existing, false, err
			}
			break
		}
		if errors.Is(err, repository.ErrDuplicateReferralCode) && attempt < referralCodeAttempts {
			continue
		}

		s.logError(ctx, "register.create", userID, err)
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	s.log.InfoContext(ctx, "user registered",
		slog.Int64("user_id", userID),
		slog.Bool("referred", referrerID != nil),
		slog.Time("promo_end", promoEnd),
	)

	return newUser, true, nil
}

func (s *Service) resolveReferrer(ctx context.Context, userID int64, code string) (*int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil
	}

	referrer, err := s.repo.FindByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, nil
		}
		s.logError(ctx, "register.referrer", userID, err)
		return nil, fmt.Errorf("resolve referral code: %w", err)
	}

	if referrer.ID == userID {
		return nil, nil
	}

	id := referrer.ID
	return &id, nil
}

// Profile returns the user together with derived quota and promotion state.
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	user := s.cached(ctx, userID)
	if user == nil {
		var err error
		user, err = s.repo.FindByID(ctx, userID)
		if err != nil {
			if !errors.Is(err, domain.ErrUserNotFound) {
				s.logError(ctx, "profile", userID, err)
			}
			return nil, err
		}

		if s.cache != nil {
			if err := s.cache.Set(ctx, user); err != nil {
				s.log.WarnContext(ctx, "failed to cache user", slog.Int64("user_id", userID), slog.Any("error", err))
			}
		}
	}

	return &Profile{
		User:        user,
		QuotaLimit:  user.Plan.QuotaLimit(),
		PromoActive: user.PromoActive(s.now()),
	}, nil
}

func (s *Service) cached(ctx context.Context, userID int64) *domain.User {
	if s.cache == nil {
		return nil
	}

	user, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.log.WarnContext(ctx, "user cache read failed", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil
	}
	return user
}

func newReferralCode() string {
	code := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(code[:referralCodeLength])
}

func (s *Service) logError(ctx context.Context, operation string, userID int64, err error) {
	if err == nil {
		return
	}

	s.log.ErrorContext(ctx, "user service operation failed",
		slog.String("operation", operation),
		slog.Int64("user_id", userID),
		slog.Any("error", err),
	)
}
