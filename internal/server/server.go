// Package server assembles the HTTP route table and its middleware chain.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/himera-billing/internal/api"
	apperrors "github.com/Proton-105/himera-billing/internal/errors"
	"github.com/Proton-105/himera-billing/internal/idempotency"
	"github.com/Proton-105/himera-billing/internal/lifecycle"
	"github.com/Proton-105/himera-billing/internal/middleware"
	"github.com/Proton-105/himera-billing/internal/ratelimit"
	"github.com/Proton-105/himera-billing/internal/webhook"
	"github.com/Proton-105/himera-billing/pkg/config"
	"github.com/Proton-105/himera-billing/pkg/httpjson"
	"github.com/Proton-105/himera-billing/pkg/logger"
)

// Token sources, used as log and metric labels.
const (
	SourcePayment = "payment"
	SourceInvoice = "invoice"
	SourceAPI     = "api"
)

// Deps are the handlers and collaborators mounted by New.
type Deps struct {
	Config      *config.Config
	Webhooks    *webhook.Handler
	API         *api.Handler
	RateLimit   *middleware.RateLimitMiddleware
	Idempotency idempotency.Manager
	Probes      lifecycle.HealthChecker
	Metrics     http.Handler
	ErrHandler  *apperrors.Handler
	Log         *slog.Logger
}

type chain []func(http.Handler) http.Handler

func (c chain) then(h http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		h = c[i](h)
	}
	return h
}

// New returns the root handler.
func New(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	if d.ErrHandler == nil {
		d.ErrHandler = apperrors.NewHandler(log, false)
	}
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	if d.Probes == nil {
		d.Probes = lifecycle.NewProbes(nil, log)
	}

	cfg := d.Config
	trust := cfg.Server.TrustForwarded
	mux := http.NewServeMux()

	handle := func(pattern string, h http.HandlerFunc, mw ...func(http.Handler) http.Handler) {
		c := append(chain{middleware.Metrics(pattern)}, mw...)
		mux.Handle(pattern, c.then(h))
	}

	webhookLimit := d.RateLimit.Handle("webhook", (*ratelimit.Rules).GetWebhookLimit)
	apiLimit := d.RateLimit.Handle("api", (*ratelimit.Rules).GetPerClientLimit)

	paymentAuth := chain{
		middleware.AllowCIDRs(cfg.Webhook.AllowedCIDRs, trust, SourcePayment, log),
		middleware.RequireToken(cfg.Webhook.PaymentToken, SourcePayment, log),
		webhookLimit,
	}
	invoiceAuth := chain{
		middleware.RequireToken(cfg.Webhook.InvoiceToken, SourceInvoice, log),
		webhookLimit,
	}
	apiAuth := chain{
		middleware.RequireToken(cfg.API.Token, SourceAPI, log),
		apiLimit,
	}

	handle("POST /webhooks/payments", d.Webhooks.Payments, paymentAuth...)
	handle("POST /webhooks/invoices", d.Webhooks.Invoices, invoiceAuth...)

	handle("POST /api/users", d.API.RegisterUser, apiAuth...)
	handle("GET /api/users/{id}", d.API.GetUser, apiAuth...)
	createAuth := append(chain{}, apiAuth...)
	createAuth = append(createAuth, middleware.Idempotency(d.Idempotency, cfg.API.IdempotencyTTL, log))
	handle("POST /api/tickets", d.API.CreateTicket, createAuth...)
	handle("POST /api/tickets/cancel", d.API.CancelTicket, apiAuth...)
	handle("GET /api/tickets/pending", d.API.PendingTicket, apiAuth...)
	handle("GET /api/invoices/{invoice_id}", d.API.InvoiceStatus, apiAuth...)

	handle("GET /healthz", probe(d.Probes.Liveness))
	handle("GET /readyz", probe(d.Probes.Readiness))
	mux.Handle("GET /metrics", d.Metrics)

	return chain{
		logger.Middleware,
		middleware.Logging(log),
		middleware.Recover(d.ErrHandler, log),
	}.then(mux)
}

func probe(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			httpjson.Write(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		httpjson.Write(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewHTTPServer applies the configured timeouts to handler.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}
