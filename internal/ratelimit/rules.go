package ratelimit

import (
	"errors"
	"time"

	"github.com/Proton-105/himera-billing/internal/netutil"
	"github.com/Proton-105/himera-billing/pkg/config"
)

// Rules encapsulates configured rate limits and helper methods.
type Rules struct {
	config config.RateLimitConfig
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	return &Rules{config: cfg}
}

// Enabled reports whether limiting is switched on.
func (r *Rules) Enabled() bool {
	return r != nil && r.config.Enabled
}

// IsWhitelisted returns true if the client address bypasses rate limits.
func (r *Rules) IsWhitelisted(ip string) bool {
	return netutil.IsAllowedIP(ip, r.config.Whitelist)
}

// GetPerClientLimit returns the rule applied to every API client address.
func (r *Rules) GetPerClientLimit() (int, time.Duration, error) {
	return parseRule(r.config.PerClient)
}

// GetWebhookLimit returns the rule applied to payment notifiers.
func (r *Rules) GetWebhookLimit() (int, time.Duration, error) {
	return parseRule(r.config.Webhook)
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Window == "" {
		return rule.Limit, 0, errors.New("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	return rule.Limit, window, nil
}
