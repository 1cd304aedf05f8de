package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingCycleAdvance(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		cycle BillingCycle
		start time.Time
		want  time.Time
	}{
		{name: "weekly", cycle: BillingCycleWeekly, start: base, want: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)},
		{name: "monthly", cycle: BillingCycleMonthly, start: base, want: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{name: "quarterly", cycle: BillingCycleQuarterly, start: base, want: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		{name: "yearly", cycle: BillingCycleYearly, start: base, want: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "unknown defaults to monthly", cycle: BillingCycle("biweekly"), start: base, want: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{
			name:  "monthly preserves time of day",
			cycle: BillingCycleMonthly,
			start: time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC),
			want:  time.Date(2024, 4, 15, 9, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cycle.Advance(tt.start)
			require.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.start))
		})
	}
}

func TestSubscriptionStatusTerminal(t *testing.T) {
	assert.True(t, SubscriptionStatusCancelled.Terminal())
	for _, s := range []SubscriptionStatus{
		SubscriptionStatusPending, SubscriptionStatusTrial, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusSuspended, SubscriptionStatusExpired,
	} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestEnumValidation(t *testing.T) {
	assert.True(t, SubscriptionStatusPastDue.Valid())
	assert.False(t, SubscriptionStatus("paused").Valid())
	assert.True(t, BillingCycleQuarterly.Valid())
	assert.False(t, BillingCycle("daily").Valid())
}
