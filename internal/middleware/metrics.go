package middleware

import (
	"net/http"
	"time"

	"github.com/Proton-105/himera-billing/pkg/metrics"
)

// Metrics measures latency and status of requests served under route.
func Metrics(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			metrics.RecordHTTPRequest(route, r.Method, rec.Status(), time.Since(start))
		})
	}
}
