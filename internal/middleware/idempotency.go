package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/Proton-105/himera-billing/internal/idempotency"
	"github.com/Proton-105/himera-billing/pkg/httpjson"
)

// HeaderIdempotencyKey lets API clients retry a mutating request safely.
const HeaderIdempotencyKey = "Idempotency-Key"

const replayedHeader = "Idempotent-Replayed"

// Idempotency replays the stored response when a request is retried with the same
// Idempotency-Key. Requests without the header pass through. Server errors are not
// stored so a retry re-executes.
func Idempotency(manager idempotency.Manager, ttl time.Duration, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if manager == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(HeaderIdempotencyKey)
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := idempotency.GenerateKey(r.Method, r.URL.Path, PresentedToken(r), clientKey)

			result, err := manager.Execute(r.Context(), key, ttl, func(context.Context) (*idempotency.Response, bool, error) {
				recorder := httptest.NewRecorder()
				next.ServeHTTP(recorder, r)

				resp := &idempotency.Response{
					StatusCode:  recorder.Code,
					ContentType: recorder.Header().Get("Content-Type"),
					Body:        recorder.Body.Bytes(),
				}
				copyHeaders(w, recorder.Header())
				return resp, recorder.Code < http.StatusInternalServerError, nil
			})
			if err != nil {
				if errors.Is(err, idempotency.ErrRequestInProgress) {
					httpjson.Error(w, http.StatusConflict, "request with this idempotency key is in progress")
					return
				}

				log.ErrorContext(r.Context(), "idempotent request failed", slog.String("key", clientKey), slog.Any("error", err))
				httpjson.Error(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}

			resp := result.Response
			if result.FromCache {
				w.Header().Set(replayedHeader, "true")
				if resp.ContentType != "" {
					w.Header().Set("Content-Type", resp.ContentType)
				}
			}

			w.WriteHeader(resp.StatusCode)
			_, _ = w.Write(resp.Body)
		})
	}
}

func copyHeaders(w http.ResponseWriter, header http.Header) {
	for key, values := range header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
}
