package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
database:
  host: db
  port: "5432"
  user: billing
  name: billing
redis:
  addr: redis:6379
webhook:
  payment_token: p
  invoice_token: i
api:
  token: a
billing:
  prices:
    tier1: {card: 250, mobile_balance: 120, crypto: 0.5}
    tier2: {card: 600, mobile_balance: 300, crypto: 1.0}
  currencies: {card: CUP, mobile_balance: CUP, crypto: USDT}
  destination_card: "9234567890123456"
  referral: {tier1: 10, tier2: 15}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_RepositoryConfigs(t *testing.T) {
	for _, env := range []string{"development", "production"} {
		env := env
		t.Run(env, func(t *testing.T) {
			cfg, v, err := LoadFile(filepath.Join("..", "..", "configs", env+".yaml"), env)
			require.NoError(t, err)
			require.NotNil(t, v)

			assert.Equal(t, env, cfg.AppEnv)
			assert.Equal(t, "8080", cfg.Server.Port)
			assert.Equal(t, 600.0, cfg.Billing.Prices["tier2"].Card)
			assert.Less(t, cfg.Billing.Referral.Tier1, cfg.Billing.Referral.Tier2)
			assert.Equal(t, 24*time.Hour, cfg.Promo.Window)
		})
	}
}

func TestLoadFile_AppliesDefaults(t *testing.T) {
	cfg, _, err := LoadFile(writeConfig(t, minimalConfig), "test")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, int64(64<<10), cfg.Webhook.MaxBodyBytes)
	assert.Equal(t, 24*time.Hour, cfg.API.IdempotencyTTL)
	assert.Equal(t, 0.75, cfg.Promo.DiscountFactor)
	assert.Equal(t, "*/5 * * * *", cfg.Promo.SweepSchedule)
	assert.Equal(t, RateLimitRule{Limit: 600, Window: "1m"}, cfg.RateLimit.Webhook)
	assert.Equal(t, "es", cfg.I18n.DefaultLang)
}

func TestLoadFile_EnvironmentOverridesFile(t *testing.T) {
	t.Setenv("WEBHOOK_PAYMENT_TOKEN", "from-env")
	t.Setenv("LOGGER_LEVEL", "warn")

	cfg, _, err := LoadFile(writeConfig(t, minimalConfig), "test")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Webhook.PaymentToken)
	assert.Equal(t, "warn", cfg.Logger.Level)
}

func TestLoadFile_Validation(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "missing api token", body: strings.Replace(minimalConfig, "  token: a", "  token: \"\"", 1)},
		{name: "inverted referral rewards", body: strings.Replace(minimalConfig, "{tier1: 10, tier2: 15}", "{tier1: 20, tier2: 15}", 1)},
		{name: "bad cidr", body: strings.Replace(minimalConfig, "  invoice_token: i", "  invoice_token: i\n  allowed_cidrs: [\"not-a-cidr\"]", 1)},
		{name: "unknown log level", body: minimalConfig + "logger:\n  level: loud\n"},
		{name: "non-positive price", body: strings.Replace(minimalConfig, "crypto: 0.5", "crypto: 0", 1)},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := LoadFile(writeConfig(t, tc.body), "test")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_RejectsNonPositiveIdempotencyTTL(t *testing.T) {
	t.Setenv("API_IDEMPOTENCY_TTL", "0")

	_, _, err := LoadFile(writeConfig(t, minimalConfig), "test")
	assert.Error(t, err)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"), "test")
	assert.Error(t, err)
}

func TestGetDBConnectionString(t *testing.T) {
	cfg := Config{Database: DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n"}}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", cfg.GetDBConnectionString())
}
