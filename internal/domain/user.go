package domain

import "time"

// Plan is a subscription tier.
type Plan string

const (
	// PlanFree is the default plan of every new user.
	PlanFree Plan = "free"
	// PlanTier1 is the basic paid plan.
	PlanTier1 Plan = "tier1"
	// PlanTier2 is the premium paid plan.
	PlanTier2 Plan = "tier2"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanTier1, PlanTier2:
		return true
	}
	return false
}

// Paid reports whether p can be purchased.
func (p Plan) Paid() bool {
	return p == PlanTier1 || p == PlanTier2
}

// QuotaPeriod is the length of the quota window granted by the plan.
func (p Plan) QuotaPeriod() time.Duration {
	if p == PlanFree {
		return 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// QuotaLimit is the number of requests allowed per quota period.
func (p Plan) QuotaLimit() int {
	switch p {
	case PlanTier1:
		return 100
	case PlanTier2:
		return 1000
	default:
		return 5
	}
}

// User is a subscriber stored in the users table.
type User struct {
	ID                  int64
	Plan                Plan
	QuotaUsed           int
	QuotaResetAt        time.Time
	ReferralCode        string
	ReferrerID          *int64
	DiscountAccumulator int64
	PromoEnd            *time.Time
	NotifiedThresholds  ThresholdFlag
	CreatedAt           time.Time
}

// PromoActive reports whether the welcome promotion still applies at now.
func (u *User) PromoActive(now time.Time) bool {
	return u != nil && u.PromoEnd != nil && now.Before(*u.PromoEnd)
}

// ThresholdFlag is a bit set of promotion reminders already sent to a user.
type ThresholdFlag int16

const (
	FlagFiveHour ThresholdFlag = 1 << iota
	FlagOneHour
	FlagThirtyMin
	FlagTenMin
	FlagExpired
)

// Has reports whether every bit of flag is set.
func (f ThresholdFlag) Has(flag ThresholdFlag) bool {
	return flag != 0 && f&flag == flag
}
