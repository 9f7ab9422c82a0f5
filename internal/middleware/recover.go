package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	apperrors "github.com/Proton-105/himera-billing/internal/errors"
)

// Recover turns a handler panic into a 500 reported through the error handler.
func Recover(errHandler *apperrors.Handler, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.ErrorContext(r.Context(), "panic recovered in handler",
					slog.Any("panic", rec),
					slog.String("stack", string(debug.Stack())),
				)

				errHandler.WriteHTTP(r.Context(), w, apperrors.NewInternalError(fmt.Sprintf("panic recovered: %v", rec)))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
