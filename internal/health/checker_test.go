package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-billing/pkg/config"
	appredis "github.com/Proton-105/himera-billing/pkg/redis"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type fakeBot struct {
	err   error
	delay time.Duration
}

func (b fakeBot) Raw(string, interface{}) ([]byte, error) {
	time.Sleep(b.delay)
	return []byte(`{"ok":true}`), b.err
}

func TestChecker_ReportsEveryComponent(t *testing.T) {
	checker := NewChecker(testLogger())
	checker.AddCheck("ok", checkFunc(func(context.Context) error { return nil }))
	checker.AddCheck("broken", checkFunc(func(context.Context) error { return errors.New("down") }))
	checker.AddCheck("", checkFunc(func(context.Context) error { return nil }))
	checker.AddCheck("nil", nil)

	results := checker.Check(context.Background())

	assert.Equal(t, map[string]string{"ok": StatusOK, "broken": "down"}, results)

	err := checker.Err(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: down")
}

func TestChecker_ErrNilWhenHealthy(t *testing.T) {
	checker := NewChecker(nil)
	checker.AddCheck("ok", checkFunc(func(context.Context) error { return nil }))

	assert.NoError(t, checker.Err(context.Background()))
}

func TestDBChecker(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	assert.NoError(t, NewDBChecker(db).HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, NewDBChecker(db).HealthCheck(context.Background()))

	assert.Error(t, NewDBChecker(nil).HealthCheck(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := appredis.New(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NoError(t, NewRedisChecker(client).HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, NewRedisChecker(client).HealthCheck(context.Background()))
	assert.Error(t, NewRedisChecker(nil).HealthCheck(context.Background()))
}

func TestTelegramChecker(t *testing.T) {
	assert.NoError(t, NewTelegramChecker(fakeBot{}).HealthCheck(context.Background()))
	assert.Error(t, NewTelegramChecker(fakeBot{err: errors.New("401")}).HealthCheck(context.Background()))
	assert.Error(t, NewTelegramChecker(nil).HealthCheck(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, NewTelegramChecker(fakeBot{delay: 200 * time.Millisecond}).HealthCheck(ctx), context.DeadlineExceeded)
}
