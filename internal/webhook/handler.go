package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Proton-105/himera-billing/internal/billing"
	apperrors "github.com/Proton-105/himera-billing/internal/errors"
	"github.com/Proton-105/himera-billing/pkg/httpjson"
	"github.com/Proton-105/himera-billing/pkg/metrics"
)

const (
	statusOK      = "ok"
	statusIgnored = "ignored"
	reasonNotPaid = "not_paid"
)

const defaultMaxBodyBytes = 64 << 10

// Reconciler applies a payment notification.
type Reconciler interface {
	Reconcile(ctx context.Context, n billing.Notification) (billing.Result, error)
}

// Response is the acknowledgement body returned to notifiers.
type Response struct {
	Status   string `json:"status"`
	TicketID int64  `json:"ticket_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Handler serves the payment and invoice notification endpoints. Authentication is
// applied by middleware in front of it.
type Handler struct {
	reconciler   Reconciler
	errHandler   *apperrors.Handler
	maxBodyBytes int64
	log          *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(reconciler Reconciler, errHandler *apperrors.Handler, maxBodyBytes int64, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	if errHandler == nil {
		errHandler = apperrors.NewHandler(log, false)
	}

	return &Handler{
		reconciler:   reconciler,
		errHandler:   errHandler,
		maxBodyBytes: maxBodyBytes,
		log:          log,
	}
}

// Payments handles card and balance transfer notifications.
func (h *Handler) Payments(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, "payments")
	if !ok {
		return
	}

	event, err := ParsePayment(body)
	if err != nil {
		h.reject(w, r, "payments", err)
		return
	}

	h.reconcile(w, r, event.Notification())
}

// Invoices handles crypto invoice notifications. Statuses other than paid are
// acknowledged without matching.
func (h *Handler) Invoices(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, "invoices")
	if !ok {
		return
	}

	event, err := ParseInvoice(body)
	if err != nil {
		h.reject(w, r, "invoices", err)
		return
	}

	if !event.Paid() {
		h.log.InfoContext(r.Context(), "invoice notification ignored",
			slog.String("invoice_id", event.InvoiceID),
			slog.String("status", event.Status),
		)
		metrics.RecordReconciliation(string(event.Rail()), reasonNotPaid)
		httpjson.Write(w, http.StatusOK, Response{Status: statusIgnored, Reason: reasonNotPaid})
		return
	}

	h.reconcile(w, r, event.Notification())
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request, n billing.Notification) {
	ctx := r.Context()

	var result billing.Result
	err := apperrors.WithRetry(ctx, func() error {
		var err error
		result, err = h.reconciler.Reconcile(ctx, n)
		if err != nil {
			return apperrors.Classify(err)
		}
		return nil
	})
	if err != nil {
		h.errHandler.WriteHTTP(ctx, w, err)
		return
	}

	switch result.Outcome {
	case billing.OutcomeActivated:
		httpjson.Write(w, http.StatusOK, Response{Status: statusOK, TicketID: result.TicketID})
	default:
		httpjson.Write(w, http.StatusOK, Response{
			Status:   statusIgnored,
			TicketID: result.TicketID,
			Reason:   string(result.Outcome),
		})
	}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, source string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordWebhookRejected(source, "too_large")
			httpjson.Error(w, http.StatusRequestEntityTooLarge, "payload too large")
			return nil, false
		}
		h.reject(w, r, source, err)
		return nil, false
	}
	return body, true
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, source string, err error) {
	metrics.RecordWebhookRejected(source, "malformed")
	h.log.WarnContext(r.Context(), "rejected malformed notification",
		slog.String("source", source),
		slog.Any("error", err),
	)
	httpjson.Error(w, http.StatusBadRequest, err.Error())
}
