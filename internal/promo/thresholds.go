// Package promo sends the welcome-promotion countdown reminders.
//
// Every user with a promotion runs through the same ordered list of thresholds.
// A threshold fires when the remaining time falls inside its half-open band
// [Target-HalfWidth, Target+HalfWidth), or for the terminal threshold when the
// promotion is over. Each fires at most once and never after a later one.
package promo

import (
	"fmt"
	"time"

	"github.com/Proton-105/himera-billing/internal/domain"
)

// Threshold is one reminder of the countdown.
type Threshold struct {
	Name      string
	Flag      domain.ThresholdFlag
	Target    time.Duration
	HalfWidth time.Duration
	Terminal  bool
}

// Thresholds is the countdown, ordered from the earliest reminder to expiry.
var Thresholds = []Threshold{
	{Name: "five_hour", Flag: domain.FlagFiveHour, Target: 5 * time.Hour, HalfWidth: 30 * time.Minute},
	{Name: "one_hour", Flag: domain.FlagOneHour, Target: time.Hour, HalfWidth: 10 * time.Minute},
	{Name: "thirty_min", Flag: domain.FlagThirtyMin, Target: 30 * time.Minute, HalfWidth: 5 * time.Minute},
	{Name: "ten_min", Flag: domain.FlagTenMin, Target: 10 * time.Minute, HalfWidth: 4 * time.Minute},
	{Name: "expired", Flag: domain.FlagExpired, Terminal: true},
}

// Contains reports whether remaining falls inside the threshold's band.
func (t Threshold) Contains(remaining time.Duration) bool {
	if t.Terminal {
		return remaining <= 0
	}
	return remaining >= t.Target-t.HalfWidth && remaining < t.Target+t.HalfWidth
}

// Select returns the threshold that should fire for a user with the given remaining
// time and already-sent flags. Thresholds ordered before the latest sent one are skipped.
func Select(remaining time.Duration, sent domain.ThresholdFlag) (Threshold, bool) {
	start := 0
	for i, th := range Thresholds {
		if sent.Has(th.Flag) {
			start = i + 1
		}
	}

	for _, th := range Thresholds[start:] {
		if th.Contains(remaining) {
			return th, true
		}
	}

	return Threshold{}, false
}

// Horizon is the largest remaining time at which any threshold can fire.
func Horizon() time.Duration {
	var horizon time.Duration
	for _, th := range Thresholds {
		if upper := th.Target + th.HalfWidth; upper > horizon {
			horizon = upper
		}
	}
	return horizon
}

// ValidateCadence fails when a sweep every period could step over a band entirely,
// which happens unless every half-width exceeds period/2.
func ValidateCadence(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("promo: sweep period must be positive, got %s", period)
	}

	for _, th := range Thresholds {
		if th.Terminal {
			continue
		}
		if 2*th.HalfWidth <= period {
			return fmt.Errorf("promo: threshold %s band half-width %s must exceed half the sweep period %s",
				th.Name, th.HalfWidth, period)
		}
	}

	return nil
}
