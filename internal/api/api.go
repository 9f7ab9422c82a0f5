// Package api serves the ticket lifecycle endpoints used by the chat and web front-ends.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Proton-105/himera-billing/internal/billing"
	"github.com/Proton-105/himera-billing/internal/domain"
	apperrors "github.com/Proton-105/himera-billing/internal/errors"
	"github.com/Proton-105/himera-billing/internal/user"
	"github.com/Proton-105/himera-billing/pkg/httpjson"
)

const maxRequestBytes = 16 << 10

// Tickets is the ticket lifecycle used by the API.
type Tickets interface {
	CreateTicket(ctx context.Context, req billing.CreateTicketRequest) (*domain.Ticket, error)
	CancelTicket(ctx context.Context, ownerID int64) (bool, error)
	PendingTicket(ctx context.Context, ownerID int64) (*domain.Ticket, error)
	InvoiceStatus(ctx context.Context, invoiceID string) (billing.InvoiceState, error)
}

// Users registers users and reads profiles.
type Users interface {
	Register(ctx context.Context, userID int64, referralCode string) (*domain.User, bool, error)
	Profile(ctx context.Context, userID int64) (*user.Profile, error)
}

// Handler groups the API endpoints.
type Handler struct {
	tickets    Tickets
	users      Users
	errHandler *apperrors.Handler
	log        *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(tickets Tickets, users Users, errHandler *apperrors.Handler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if errHandler == nil {
		errHandler = apperrors.NewHandler(log, false)
	}

	return &Handler{
		tickets:    tickets,
		users:      users,
		errHandler: errHandler,
		log:        log,
	}
}

type registerRequest struct {
	ID           int64  `json:"id"`
	ReferralCode string `json:"referral_code"`
}

type profileResponse struct {
	ID                  int64      `json:"id"`
	Plan                string     `json:"plan"`
	QuotaUsed           int        `json:"quota_used"`
	QuotaLimit          int        `json:"quota_limit"`
	QuotaResetAt        time.Time  `json:"quota_reset_at"`
	ReferralCode        string     `json:"referral_code"`
	DiscountAccumulator int64      `json:"discount_accumulator"`
	PromoEnd            *time.Time `json:"promo_end,omitempty"`
	PromoActive         bool       `json:"promo_active"`
	Created             bool       `json:"created,omitempty"`
}

type createTicketRequest struct {
	OwnerID int64  `json:"owner_id"`
	Plan    string `json:"plan"`
	Rail    string `json:"rail"`
	Phone   string `json:"phone"`
}

type ticketResponse struct {
	ID              int64     `json:"id"`
	OwnerID         int64     `json:"owner_id"`
	Plan            string    `json:"plan"`
	Rail            string    `json:"rail"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	DestinationCard string    `json:"destination_card,omitempty"`
	InvoiceID       string    `json:"invoice_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type ownerRequest struct {
	OwnerID int64 `json:"owner_id"`
}

// RegisterUser creates the user on first contact.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID <= 0 {
		h.errHandler.WriteHTTP(r.Context(), w, apperrors.NewMissingFieldsError("id"))
		return
	}

	u, created, err := h.users.Register(r.Context(), req.ID, req.ReferralCode)
	if err != nil {
		h.errHandler.WriteHTTP(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	resp := toProfile(&user.Profile{User: u, QuotaLimit: u.Plan.QuotaLimit(), PromoActive: u.PromoActive(time.Now())})
	resp.Created = created
	httpjson.Write(w, status, resp)
}

// GetUser returns the user's profile.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	profile, err := h.users.Profile(r.Context(), id)
	if err != nil {
		h.errHandler.WriteHTTP(r.Context(), w, err)
		return
	}

	httpjson.Write(w, http.StatusOK, toProfile(profile))
}

// CreateTicket opens a pending ticket.
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.OwnerID <= 0 || req.Plan == "" || req.Rail == "" {
		h.errHandler.WriteHTTP(r.Context(), w, apperrors.NewMissingFieldsError("owner_id", "plan", "rail"))
		return
	}

	ticket, err := h.tickets.CreateTicket(r.Context(), billing.CreateTicketRequest{
		OwnerID: req.OwnerID,
		Plan:    domain.Plan(req.Plan),
		Rail:    domain.Rail(req.Rail),
		Phone:   req.Phone,
	})
	if err != nil {
		h.errHandler.WriteHTTP(r.Context(), w, err)
		return
	}

	httpjson.Write(w, http.StatusCreated, toTicket(ticket))
}

// CancelTicket cancels the owner's pending ticket, if any.
func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.OwnerID <= 0 {
		h.errHandler.WriteHTTP(r.Context(), w, apperrors.NewMissingFieldsError("owner_id"))
		return
	}

	cancelled, err := h.tickets.CancelTicket(r.Context(), req.OwnerID)
	if err != nil {
		h.errHandler.WriteHTTP(r.Context(), w, err)
		return
	}

	httpjson.Write(w, http.StatusOK, map[string]any{"status": "ok", "exists": cancelled})
}

// PendingTicket reports whether the owner has a pending ticket.
func (h *Handler) PendingTicket(w http.ResponseWriter, r *http.Request) {
	ownerID, err := strconv.ParseInt(r.URL.Query().Get("owner_id"), 10, 64)
	if err != nil || ownerID <= 0 {
		h.errHandler.WriteHTTP(r.Context(), w, apperrors.NewMissingFieldsError("owner_id"))
		return
	}

	ticket, err := h.tickets.PendingTicket(r.Context(), ownerID)
	if err != nil {
		h.errHandler.WriteHTTP(r.Context(), w, err)
		return
	}

	resp := map[string]any{"exists": ticket != nil}
	if ticket != nil {
		resp["ticket"] = toTicket(ticket)
	}
	httpjson.Write(w, http.StatusOK, resp)
}

// InvoiceStatus reports the state of a crypto invoice.
func (h *Handler) InvoiceStatus(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.PathValue("invoice_id")
	if invoiceID == "" {
		h.errHandler.WriteHTTP(r.Context(), w, apperrors.NewMissingFieldsError("invoice_id"))
		return
	}

	state, err := h.tickets.InvoiceStatus(r.Context(), invoiceID)
	if err != nil {
		h.errHandler.WriteHTTP(r.Context(), w, err)
		return
	}

	httpjson.Write(w, http.StatusOK, map[string]string{"invoice_id": invoiceID, "status": string(state)})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.errHandler.WriteHTTP(r.Context(), w, apperrors.NewValidationError(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		h.errHandler.WriteHTTP(r.Context(), w, apperrors.NewValidationError(fmt.Sprintf("invalid %s", name)))
		return 0, false
	}
	return id, true
}

func toProfile(p *user.Profile) profileResponse {
	u := p.User
	return profileResponse{
		ID:                  u.ID,
		Plan:                string(u.Plan),
		QuotaUsed:           u.QuotaUsed,
		QuotaLimit:          p.QuotaLimit,
		QuotaResetAt:        u.QuotaResetAt,
		ReferralCode:        u.ReferralCode,
		DiscountAccumulator: u.DiscountAccumulator,
		PromoEnd:            u.PromoEnd,
		PromoActive:         p.PromoActive,
	}
}

func toTicket(t *domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:              t.ID,
		OwnerID:         t.OwnerID,
		Plan:            string(t.PlanRequested),
		Rail:            string(t.Rail),
		Amount:          t.Amount.String(),
		Currency:        t.Currency,
		Status:          string(t.Status),
		DestinationCard: t.Predicates.DestinationCard,
		InvoiceID:       t.Predicates.InvoiceID,
		CreatedAt:       t.CreatedAt,
	}
}
