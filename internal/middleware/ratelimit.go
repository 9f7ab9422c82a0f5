package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Proton-105/himera-billing/internal/netutil"
	"github.com/Proton-105/himera-billing/internal/ratelimit"
	"github.com/Proton-105/himera-billing/pkg/httpjson"
)

// RuleFunc selects the limit applied to a route.
type RuleFunc func(*ratelimit.Rules) (int, time.Duration, error)

// RateLimitMiddleware enforces per-client-address limits.
type RateLimitMiddleware struct {
	limiter        ratelimit.Limiter
	rules          *ratelimit.Rules
	trustForwarded bool
	log            *slog.Logger
}

// NewRateLimitMiddleware constructs a rate-limit middleware component.
func NewRateLimitMiddleware(limiter ratelimit.Limiter, rules *ratelimit.Rules, trustForwarded bool, log *slog.Logger) *RateLimitMiddleware {
	if log == nil {
		log = slog.Default()
	}

	return &RateLimitMiddleware{
		limiter:        limiter,
		rules:          rules,
		trustForwarded: trustForwarded,
		log:            log,
	}
}

// Handle limits requests under scope using the rule picked by rule. Limiter failures let
// the request through.
func (m *RateLimitMiddleware) Handle(scope string, rule RuleFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil || m.limiter == nil || !m.rules.Enabled() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := netutil.ClientIP(r, m.trustForwarded)
			if m.rules.IsWhitelisted(ip) {
				next.ServeHTTP(w, r)
				return
			}

			limit, window, err := rule(m.rules)
			if err != nil {
				m.log.ErrorContext(r.Context(), "failed to load rate limit rule", slog.String("scope", scope), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			result, err := m.limiter.Check(r.Context(), ratelimit.Key(scope, ip), limit, window)
			if err != nil && !errors.Is(err, ratelimit.ErrLimitExceeded) {
				m.log.WarnContext(r.Context(), "rate limiter error", slog.String("ip", ip), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			if result != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			}

			if errors.Is(err, ratelimit.ErrLimitExceeded) || (result != nil && !result.Allowed) {
				retryAfter := window
				if result != nil {
					retryAfter = result.RetryAfter(time.Now())
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				m.log.WarnContext(r.Context(), "rate limit exceeded", slog.String("scope", scope), slog.String("ip", ip))
				httpjson.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
