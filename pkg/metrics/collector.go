// Package metrics exposes the billing engine's Prometheus collectors.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticketsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_tickets_created_total",
			Help: "Total number of payment tickets created labeled by rail and plan",
		},
		[]string{"rail", "plan"},
	)
	ticketsCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_tickets_cancelled_total",
			Help: "Total number of pending tickets cancelled by their owner",
		},
	)
	ticketConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_ticket_conflicts_total",
			Help: "Total number of ticket creations rejected because one was already pending",
		},
	)
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_jobs_enqueued_total",
			Help: "Total number of background tasks submitted labeled by task type and result",
		},
		[]string{"task_type", "result"},
	)
	reconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reconciliations_total",
			Help: "Total number of payment notifications reconciled labeled by rail and outcome",
		},
		[]string{"rail", "outcome"},
	)
	activationDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_activation_duration_seconds",
			Help:    "Duration of the activation transaction in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	referralRewardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_referral_rewards_total",
			Help: "Total discount units credited to referrers labeled by purchased plan",
		},
		[]string{"plan"},
	)
	promoRemindersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_promo_reminders_total",
			Help: "Total number of promotion reminders fired labeled by threshold",
		},
		[]string{"threshold"},
	)
	promoSweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_promo_sweep_duration_seconds",
			Help:    "Duration of one promotion sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_notifications_total",
			Help: "Total number of user notifications labeled by kind and status",
		},
		[]string{"kind", "status"},
	)
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_http_requests_total",
			Help: "Total number of HTTP requests labeled by route, method and status code",
		},
		[]string{"route", "method", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds labeled by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	webhookRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_rejected_total",
			Help: "Total number of payment notifications rejected before matching labeled by source and reason",
		},
		[]string{"source", "reason"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	pendingTickets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "billing_pending_tickets",
			Help: "Current number of pending payment tickets",
		},
	)
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

func label(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

// RecordTicketCreated counts a new pending ticket.
func RecordTicketCreated(rail, plan string) {
	ticketsCreatedTotal.WithLabelValues(label(rail), label(plan)).Inc()
}

// RecordTicketCancelled counts a cancellation that changed a ticket.
func RecordTicketCancelled() {
	ticketsCancelledTotal.Inc()
}

// RecordTicketConflict counts a creation rejected by the one-pending-ticket rule.
func RecordTicketConflict() {
	ticketConflictsTotal.Inc()
}

// RecordReconciliation counts a processed notification.
func RecordReconciliation(rail, outcome string) {
	reconciliationsTotal.WithLabelValues(label(rail), label(outcome)).Inc()
}

// ObserveActivation records the duration of an activation transaction.
func ObserveActivation(duration time.Duration) {
	activationDurationSeconds.Observe(duration.Seconds())
}

// RecordReferralReward adds credited discount units.
func RecordReferralReward(plan string, amount int64) {
	if amount <= 0 {
		return
	}
	referralRewardsTotal.WithLabelValues(label(plan)).Add(float64(amount))
}

// RecordPromoReminder counts a fired promotion threshold.
func RecordPromoReminder(threshold string) {
	promoRemindersTotal.WithLabelValues(label(threshold)).Inc()
}

// ObservePromoSweep records the duration of a sweep.
func ObservePromoSweep(duration time.Duration) {
	promoSweepDurationSeconds.Observe(duration.Seconds())
}

// RecordNotification counts a notification attempt.
func RecordNotification(kind, status string) {
	notificationsTotal.WithLabelValues(label(kind), label(status)).Inc()
}

// RecordJobEnqueued counts a task submission; result is ok, duplicate or error.
func RecordJobEnqueued(taskType, result string) {
	jobsEnqueuedTotal.WithLabelValues(label(taskType), result).Inc()
}

// RecordHTTPRequest counts a served request under its route pattern.
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	route = label(route)
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordWebhookRejected counts a webhook refused before reconciliation.
func RecordWebhookRejected(source, reason string) {
	webhookRejectedTotal.WithLabelValues(label(source), reason).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	errorsTotal.WithLabelValues(label(errType), label(severity)).Inc()
}

// SetCircuitBreakerState publishes a breaker state.
func SetCircuitBreakerState(name string, state int) {
	circuitBreakerState.WithLabelValues(label(name)).Set(float64(state))
}

// PendingCounter reports how many tickets are pending.
type PendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// PendingCollector periodically publishes the number of pending tickets.
type PendingCollector struct {
	counter  PendingCounter
	interval time.Duration
	log      *slog.Logger
}

// NewPendingCollector builds a collector polling counter every interval (30s when zero).
func NewPendingCollector(counter PendingCounter, interval time.Duration, log *slog.Logger) *PendingCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &PendingCollector{counter: counter, interval: interval, log: log}
}

// Run polls until ctx is cancelled.
func (c *PendingCollector) Run(ctx context.Context) {
	if c == nil || c.counter == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.collect(ctx); err != nil {
			c.log.Warn("failed to collect pending tickets", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *PendingCollector) collect(ctx context.Context) error {
	count, err := c.counter.CountPending(ctx)
	if err != nil {
		return err
	}

	pendingTickets.Set(float64(count))
	return nil
}
