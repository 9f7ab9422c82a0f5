package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Proton-105/himera-billing/internal/netutil"
	"github.com/Proton-105/himera-billing/pkg/httpjson"
	"github.com/Proton-105/himera-billing/pkg/metrics"
)

// Token headers accepted from callers, in order of preference.
const (
	HeaderAuthToken = "X-Auth-Token"
	HeaderAPIToken  = "X-Api-Token"
	bearerPrefix    = "Bearer "
)

// PresentedToken extracts the shared secret a caller sent.
func PresentedToken(r *http.Request) string {
	if token := r.Header.Get(HeaderAuthToken); token != "" {
		return token
	}
	if token := r.Header.Get(HeaderAPIToken); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(auth[len(bearerPrefix):])
	}
	return ""
}

// TokenMatches compares secrets in constant time.
func TokenMatches(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// RequireToken rejects requests that do not carry the expected shared secret with 401.
// source labels the rejection metric.
func RequireToken(expected, source string, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !TokenMatches(PresentedToken(r), expected) {
				metrics.RecordWebhookRejected(source, "auth")
				log.WarnContext(r.Context(), "rejected unauthenticated request",
					slog.String("source", source),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				httpjson.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AllowCIDRs rejects callers outside the allowed networks with 403. An empty list allows everyone.
func AllowCIDRs(cidrs []string, trustForwarded bool, source string, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if len(cidrs) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := netutil.ClientIP(r, trustForwarded)
			if !netutil.IsAllowedIP(ip, cidrs) {
				metrics.RecordWebhookRejected(source, "source_ip")
				log.WarnContext(r.Context(), "rejected request from disallowed address",
					slog.String("source", source),
					slog.String("ip", ip),
				)
				httpjson.Error(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
