package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		name     string
		from     TicketStatus
		to       TicketStatus
		expected bool
	}{
		{name: "pending to completed", from: StatusPending, to: StatusCompleted, expected: true},
		{name: "pending to cancelled", from: StatusPending, to: StatusCancelled, expected: true},
		{name: "pending to pending invalid", from: StatusPending, to: StatusPending, expected: false},
		{name: "completed to pending invalid", from: StatusCompleted, to: StatusPending, expected: false},
		{name: "completed to cancelled invalid", from: StatusCompleted, to: StatusCancelled, expected: false},
		{name: "cancelled to completed invalid", from: StatusCancelled, to: StatusCompleted, expected: false},
		{name: "cancelled to pending invalid", from: StatusCancelled, to: StatusPending, expected: false},
		{name: "unknown status invalid", from: TicketStatus("refunded"), to: StatusCompleted, expected: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if actual := CanTransition(tc.from, tc.to); actual != tc.expected {
				t.Errorf("CanTransition(%s -> %s) = %t, expected %t", tc.from, tc.to, actual, tc.expected)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Error("pending must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Error("completed and cancelled must be terminal")
	}
}

func TestPlanQuota(t *testing.T) {
	if PlanFree.QuotaPeriod() != 24*time.Hour {
		t.Errorf("free quota period = %s", PlanFree.QuotaPeriod())
	}
	if PlanTier2.QuotaPeriod() != 30*24*time.Hour {
		t.Errorf("tier2 quota period = %s", PlanTier2.QuotaPeriod())
	}
	if PlanFree.QuotaLimit() != 5 || PlanTier1.QuotaLimit() != 100 || PlanTier2.QuotaLimit() != 1000 {
		t.Error("unexpected quota limits")
	}
	if PlanFree.Paid() || !PlanTier1.Paid() {
		t.Error("only tier plans are purchasable")
	}
}

func TestPromoActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(time.Hour)

	var nilUser *User
	if nilUser.PromoActive(now) {
		t.Error("nil user has no promo")
	}
	if (&User{}).PromoActive(now) {
		t.Error("user without promo_end has no promo")
	}
	if !(&User{PromoEnd: &end}).PromoActive(now) {
		t.Error("promo should be active before promo_end")
	}
	if (&User{PromoEnd: &end}).PromoActive(end) {
		t.Error("promo should be over at promo_end")
	}
}

func TestThresholdFlagHas(t *testing.T) {
	flags := FlagFiveHour | FlagTenMin
	if !flags.Has(FlagFiveHour) || !flags.Has(FlagTenMin) {
		t.Error("expected set bits")
	}
	if flags.Has(FlagOneHour) || flags.Has(0) {
		t.Error("unexpected bits reported")
	}
}
