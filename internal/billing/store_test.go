package billing

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Proton-105/himera-billing/internal/domain"
	"github.com/Proton-105/himera-billing/internal/notifier"
	"github.com/Proton-105/himera-billing/internal/repository"
	"github.com/Proton-105/himera-billing/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testDestinationCard = "9200 1111 2222 3333"

func testPricing() *Pricing {
	p, err := NewPricing(config.BillingConfig{
		Prices: map[string]config.RailPrices{
			"tier1": {Card: 250, MobileBalance: 120, Crypto: 0.5},
			"tier2": {Card: 600, MobileBalance: 300, Crypto: 1.0},
		},
		Currencies: config.Currencies{
			Card:          "CUP",
			MobileBalance: "CUP",
			Crypto:        "USDT",
		},
		DestinationCard: testDestinationCard,
		Referral:        config.ReferralRewards{Tier1: 10, Tier2: 15},
	}, config.PromoConfig{
		Window:         24 * time.Hour,
		DiscountFactor: 0.75,
		CryptoPrice:    0.75,
		SweepSchedule:  "*/5 * * * *",
	})
	if err != nil {
		panic(err)
	}
	return p
}

// memStore keeps users and tickets in memory and applies activations atomically,
// the way the SQL repositories do inside one transaction.
type memStore struct {
	mu      sync.Mutex
	users   map[int64]*domain.User
	tickets map[int64]*domain.Ticket
	nextID  int64
	clock   time.Time

	activateErr error
	activations int
}

func newMemStore(users ...*domain.User) *memStore {
	s := &memStore{
		users:   make(map[int64]*domain.User),
		tickets: make(map[int64]*domain.Ticket),
		clock:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) user(id int64) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.users[id]
}

func (s *memStore) ticket(id int64) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tickets[id]
}

func (s *memStore) ticketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

func (s *memStore) Create(_ context.Context, t domain.NewTicket) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[t.OwnerID]; !ok {
		return nil, domain.ErrUserNotFound
	}
	for _, existing := range s.tickets {
		if existing.OwnerID == t.OwnerID && existing.Status == domain.StatusPending {
			return nil, domain.ErrAlreadyPending
		}
	}

	s.nextID++
	s.clock = s.clock.Add(time.Second)
	ticket := &domain.Ticket{
		ID:            s.nextID,
		OwnerID:       t.OwnerID,
		PlanRequested: t.Plan,
		Rail:          t.Rail,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Status:        domain.StatusPending,
		Predicates:    t.Predicates,
		CreatedAt:     s.clock,
	}
	s.tickets[ticket.ID] = ticket

	cp := *ticket
	return &cp, nil
}

func (s *memStore) CancelPending(_ context.Context, ownerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.OwnerID == ownerID && t.Status == domain.StatusPending {
			t.Status = domain.StatusCancelled
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) GetPending(_ context.Context, ownerID int64) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.OwnerID == ownerID && t.Status == domain.StatusPending {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindCandidate(_ context.Context, q domain.MatchQuery) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*domain.Ticket
	for _, t := range s.tickets {
		if t.Status != domain.StatusPending || t.Rail != q.Rail {
			continue
		}
		if q.OriginPhone != "" && t.Predicates.OriginPhone != q.OriginPhone {
			continue
		}
		if q.DestinationCard != "" && t.Predicates.DestinationCard != q.DestinationCard {
			continue
		}
		if q.InvoiceID != "" && t.Predicates.InvoiceID != q.InvoiceID {
			continue
		}
		if q.Amount.Valid && !t.Amount.Equal(q.Amount.Decimal) {
			continue
		}
		matches = append(matches, t)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	cp := *matches[0]
	return &cp, nil
}

func (s *memStore) FindByInvoiceID(_ context.Context, invoiceID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.Predicates.InvoiceID == invoiceID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrTicketNotFound
}

func (s *memStore) FindCompletedByTransID(_ context.Context, rail domain.Rail, transID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.Status == domain.StatusCompleted && t.Rail == rail && t.ExternalTransID == transID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) CountPending(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tickets {
		if t.Status == domain.StatusPending {
			n++
		}
	}
	return n, nil
}

// memUsers is the user side of memStore. Both repositories declare Create.
type memUsers struct {
	*memStore
}

func (u memUsers) Create(_ context.Context, user *domain.User) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.users[user.ID]; ok {
		return false, nil
	}
	cp := *user
	u.users[user.ID] = &cp
	return true, nil
}

func (s *memStore) FindByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) FindByReferralCode(_ context.Context, code string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ReferralCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *memStore) ListPromoPending(context.Context, time.Time) ([]*domain.User, error) {
	return nil, nil
}

func (s *memStore) MarkThreshold(context.Context, int64, domain.ThresholdFlag) (bool, error) {
	return false, nil
}

func (s *memStore) Activate(_ context.Context, p repository.ActivationParams) (repository.ActivationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activateErr != nil {
		return repository.ActivationRecord{}, s.activateErr
	}

	t, ok := s.tickets[p.TicketID]
	if !ok || t.Status != domain.StatusPending {
		return repository.ActivationRecord{}, nil
	}
	for _, done := range s.tickets {
		if done.Status == domain.StatusCompleted && done.Rail == t.Rail && done.ExternalTransID == p.TransID {
			return repository.ActivationRecord{}, nil
		}
	}
	owner, ok := s.users[p.OwnerID]
	if !ok {
		return repository.ActivationRecord{}, domain.ErrUserNotFound
	}

	s.activations++
	completedAt := p.CompletedAt
	t.Status = domain.StatusCompleted
	t.CompletedAt = &completedAt
	t.ExternalTransID = p.TransID

	owner.Plan = p.Plan
	owner.QuotaUsed = 0
	owner.QuotaResetAt = p.QuotaResetAt

	record := repository.ActivationRecord{Activated: true, ReferrerID: owner.ReferrerID}
	if owner.ReferrerID != nil && p.ReferralReward > 0 {
		if referrer, ok := s.users[*owner.ReferrerID]; ok {
			referrer.DiscountAccumulator += p.ReferralReward
			record.ReferrerCredited = p.ReferralReward
		}
	}

	return record, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notifier.Message
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notifier.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func (n *recordingNotifier) keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]string, 0, len(n.messages))
	for _, m := range n.messages {
		keys = append(keys, m.Key)
	}
	return keys
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingInvalidator) Invalidate(_ context.Context, ids ...int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, ids...)
	return nil
}
