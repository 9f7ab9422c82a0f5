package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-billing/internal/billing"
	"github.com/Proton-105/himera-billing/internal/domain"
	apperrors "github.com/Proton-105/himera-billing/internal/errors"
	"github.com/Proton-105/himera-billing/internal/user"
)

type mockTickets struct {
	mock.Mock
}

func (m *mockTickets) CreateTicket(ctx context.Context, req billing.CreateTicketRequest) (*domain.Ticket, error) {
	args := m.Called(ctx, req)
	ticket, _ := args.Get(0).(*domain.Ticket)
	return ticket, args.Error(1)
}

func (m *mockTickets) CancelTicket(ctx context.Context, ownerID int64) (bool, error) {
	args := m.Called(ctx, ownerID)
	return args.Bool(0), args.Error(1)
}

func (m *mockTickets) PendingTicket(ctx context.Context, ownerID int64) (*domain.Ticket, error) {
	args := m.Called(ctx, ownerID)
	ticket, _ := args.Get(0).(*domain.Ticket)
	return ticket, args.Error(1)
}

func (m *mockTickets) InvoiceStatus(ctx context.Context, invoiceID string) (billing.InvoiceState, error) {
	args := m.Called(ctx, invoiceID)
	return args.Get(0).(billing.InvoiceState), args.Error(1)
}

type mockUsers struct {
	mock.Mock
}

func (m *mockUsers) Register(ctx context.Context, userID int64, referralCode string) (*domain.User, bool, error) {
	args := m.Called(ctx, userID, referralCode)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Bool(1), args.Error(2)
}

func (m *mockUsers) Profile(ctx context.Context, userID int64) (*user.Profile, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*user.Profile)
	return p, args.Error(1)
}

func newTestHandler() (*Handler, *mockTickets, *mockUsers) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tickets := new(mockTickets)
	users := new(mockUsers)
	return NewHandler(tickets, users, apperrors.NewHandler(log, false), log), tickets, users
}

func sampleTicket() *domain.Ticket {
	return &domain.Ticket{
		ID:            11,
		OwnerID:       1,
		PlanRequested: domain.PlanTier1,
		Rail:          domain.RailCard,
		Amount:        decimal.NewFromInt(250),
		Currency:      "CUP",
		Status:        domain.StatusPending,
		Predicates:    domain.Predicates{OriginPhone: "55512345", DestinationCard: "9234567890123456"},
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateTicket(t *testing.T) {
	h, tickets, _ := newTestHandler()
	tickets.On("CreateTicket", mock.Anything, billing.CreateTicketRequest{
		OwnerID: 1, Plan: domain.PlanTier1, Rail: domain.RailCard, Phone: "55512345",
	}).Return(sampleTicket(), nil)

	rec := httptest.NewRecorder()
	h.CreateTicket(rec, httptest.NewRequest(http.MethodPost, "/api/tickets",
		strings.NewReader(`{"owner_id":1,"plan":"tier1","rail":"card","phone":"55512345"}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)

	var body ticketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(11), body.ID)
	assert.Equal(t, "250", body.Amount)
	assert.Equal(t, "9234567890123456", body.DestinationCard)
}

func TestCreateTicket_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "already pending", body: `{"owner_id":1,"plan":"tier1","rail":"crypto"}`, err: domain.ErrAlreadyPending, status: http.StatusConflict, code: apperrors.CodeAlreadyPending},
		{name: "missing phone", body: `{"owner_id":1,"plan":"tier1","rail":"card"}`, err: apperrors.NewMissingFieldsError("phone"), status: http.StatusBadRequest, code: apperrors.CodeValidation},
		{name: "unknown owner", body: `{"owner_id":1,"plan":"tier1","rail":"crypto"}`, err: domain.ErrUserNotFound, status: http.StatusNotFound, code: apperrors.CodeNotFound},
		{name: "store down", body: `{"owner_id":1,"plan":"tier1","rail":"crypto"}`, err: errors.New("dial tcp: refused"), status: http.StatusServiceUnavailable, code: apperrors.CodeDatabase},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			h, tickets, _ := newTestHandler()
			tickets.On("CreateTicket", mock.Anything, mock.Anything).Return(nil, tc.err)

			rec := httptest.NewRecorder()
			h.CreateTicket(rec, httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(tc.body)))

			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.code)
		})
	}
}

func TestCreateTicket_BadBody(t *testing.T) {
	h, tickets, _ := newTestHandler()

	for _, body := range []string{`{`, `{"owner_id":1}`, `{"owner_id":1,"plan":"tier1","rail":"card","extra":1}`} {
		rec := httptest.NewRecorder()
		h.CreateTicket(rec, httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	tickets.AssertNotCalled(t, "CreateTicket", mock.Anything, mock.Anything)
}

func TestCancelTicket(t *testing.T) {
	h, tickets, _ := newTestHandler()
	tickets.On("CancelTicket", mock.Anything, int64(1)).Return(false, nil)

	rec := httptest.NewRecorder()
	h.CancelTicket(rec, httptest.NewRequest(http.MethodPost, "/api/tickets/cancel", strings.NewReader(`{"owner_id":1}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","exists":false}`, rec.Body.String())
}

func TestPendingTicket(t *testing.T) {
	h, tickets, _ := newTestHandler()
	tickets.On("PendingTicket", mock.Anything, int64(1)).Return(sampleTicket(), nil)
	tickets.On("PendingTicket", mock.Anything, int64(2)).Return(nil, nil)

	rec := httptest.NewRecorder()
	h.PendingTicket(rec, httptest.NewRequest(http.MethodGet, "/api/tickets/pending?owner_id=1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"exists":true`)

	rec = httptest.NewRecorder()
	h.PendingTicket(rec, httptest.NewRequest(http.MethodGet, "/api/tickets/pending?owner_id=2", nil))
	assert.JSONEq(t, `{"exists":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.PendingTicket(rec, httptest.NewRequest(http.MethodGet, "/api/tickets/pending", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvoiceStatus(t *testing.T) {
	h, tickets, _ := newTestHandler()
	tickets.On("InvoiceStatus", mock.Anything, "inv-1").Return(billing.InvoicePaid, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/invoices/inv-1", nil)
	req.SetPathValue("invoice_id", "inv-1")
	rec := httptest.NewRecorder()
	h.InvoiceStatus(rec, req)

	assert.JSONEq(t, `{"invoice_id":"inv-1","status":"paid"}`, rec.Body.String())
}

func TestRegisterUser(t *testing.T) {
	h, _, users := newTestHandler()
	users.On("Register", mock.Anything, int64(5), "ABCD1234").Return(&domain.User{ID: 5, Plan: domain.PlanFree, ReferralCode: "ZZZZ0000"}, true, nil)

	rec := httptest.NewRecorder()
	h.RegisterUser(rec, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"id":5,"referral_code":"ABCD1234"}`)))

	assert.Equal(t, http.StatusCreated, rec.Code)

	var body profileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Created)
	assert.Equal(t, 5, body.QuotaLimit)
	assert.Equal(t, "ZZZZ0000", body.ReferralCode)
}

func TestGetUser(t *testing.T) {
	h, _, users := newTestHandler()
	users.On("Profile", mock.Anything, int64(5)).Return(&user.Profile{
		User:       &domain.User{ID: 5, Plan: domain.PlanTier2, DiscountAccumulator: 15},
		QuotaLimit: 1000,
	}, nil)
	users.On("Profile", mock.Anything, int64(6)).Return(nil, domain.ErrUserNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/users/5", nil)
	req.SetPathValue("id", "5")
	rec := httptest.NewRecorder()
	h.GetUser(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"discount_accumulator":15`)

	req = httptest.NewRequest(http.MethodGet, "/api/users/6", nil)
	req.SetPathValue("id", "6")
	rec = httptest.NewRecorder()
	h.GetUser(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/users/x", nil)
	req.SetPathValue("id", "x")
	rec = httptest.NewRecorder()
	h.GetUser(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
