package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskingHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewMaskingHandler(slog.NewJSONHandler(&buf, nil)))

	log.With(slog.String("api_key", "k")).Info("webhook",
		slog.String("X-Auth-Token", "secret"),
		slog.Group("card", slog.String("destination_card", "9234567890123456"), slog.Int("ticket_id", 7)),
		slog.String("origin_phone", "55512345"),
	)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "***", record["api_key"])
	assert.Equal(t, "***", record["X-Auth-Token"])
	assert.Equal(t, "55512345", record["origin_phone"])

	group := record["card"].(map[string]any)
	assert.Equal(t, "***", group["destination_card"])
	assert.Equal(t, float64(7), group["ticket_id"])
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("WARN")
	assert.Equal(t, slog.LevelWarn, level.Level())

	SetLevel("bogus")
	assert.Equal(t, slog.LevelInfo, level.Level())
}

func TestMiddleware_CorrelationID(t *testing.T) {
	var seen string
	handler := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(CorrelationIDHeader))

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
	req.Header.Set(CorrelationIDHeader, incoming)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, incoming, seen)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/payments", nil)
	req.Header.Set(CorrelationIDHeader, "not-a-uuid")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "not-a-uuid", seen)

	assert.Empty(t, CorrelationIDFromContext(context.Background()))
}
