package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestInitialState(t *testing.T) {
	start := date(2024, 1, 1)

	tests := []struct {
		name          string
		plan          *models.Plan
		override      *types.SubscriptionStatus
		wantStatus    types.SubscriptionStatus
		wantTrialEnds *time.Time
	}{
		{
			name:       "plan without trial starts active",
			plan:       &models.Plan{BillingCycle: types.BillingCycleMonthly},
			wantStatus: types.SubscriptionStatusActive,
		},
		{
			name:          "plan with trial starts in trial",
			plan:          &models.Plan{BillingCycle: types.BillingCycleMonthly, TrialPeriodDays: 14},
			wantStatus:    types.SubscriptionStatusTrial,
			wantTrialEnds: ptr(date(2024, 1, 15)),
		},
		{
			name:       "explicit status wins over trial default",
			plan:       &models.Plan{BillingCycle: types.BillingCycleMonthly, TrialPeriodDays: 14},
			override:   ptr(types.SubscriptionStatusPending),
			wantStatus: types.SubscriptionStatusPending,
			// trial end still recorded even when status is overridden
			wantTrialEnds: ptr(date(2024, 1, 15)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, trialEnd := initialState(tt.plan, start, tt.override)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantTrialEnds == nil {
				assert.Nil(t, trialEnd)
			} else {
				assert.NotNil(t, trialEnd)
				assert.Equal(t, *tt.wantTrialEnds, *trialEnd)
			}
		})
	}
}

func TestRenewedEndDate(t *testing.T) {
	now := date(2024, 1, 20)

	tests := []struct {
		name    string
		current *time.Time
		custom  *time.Time
		cycle   types.BillingCycle
		want    time.Time
	}{
		{
			name:    "monthly rolls forward from previous end",
			current: ptr(date(2024, 1, 1)),
			cycle:   types.BillingCycleMonthly,
			want:    date(2024, 2, 1),
		},
		{
			name:    "late renewal still anchors on old end date",
			current: ptr(date(2024, 1, 10)),
			cycle:   types.BillingCycleMonthly,
			want:    date(2024, 2, 10),
		},
		{
			name:    "yearly cycle",
			current: ptr(date(2024, 3, 15)),
			cycle:   types.BillingCycleYearly,
			want:    date(2025, 3, 15),
		},
		{
			name:  "missing end date falls back to now",
			cycle: types.BillingCycleWeekly,
			want:  date(2024, 1, 27),
		},
		{
			name:    "custom date overrides cycle arithmetic",
			current: ptr(date(2024, 1, 1)),
			custom:  ptr(date(2024, 6, 1)),
			cycle:   types.BillingCycleMonthly,
			want:    date(2024, 6, 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := renewedEndDate(tt.current, tt.custom, tt.cycle, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransitionAllowed(t *testing.T) {
	tests := []struct {
		name string
		cur  types.SubscriptionStatus
		next types.SubscriptionStatus
		want bool
	}{
		{"cancelled cannot reactivate", types.SubscriptionStatusCancelled, types.SubscriptionStatusActive, false},
		{"cancelled cannot go pending", types.SubscriptionStatusCancelled, types.SubscriptionStatusPending, false},
		{"cancelled cannot go past_due", types.SubscriptionStatusCancelled, types.SubscriptionStatusPastDue, false},
		{"cancelled restated is a no-op", types.SubscriptionStatusCancelled, types.SubscriptionStatusCancelled, true},
		{"active may cancel", types.SubscriptionStatusActive, types.SubscriptionStatusCancelled, true},
		{"trial may activate", types.SubscriptionStatusTrial, types.SubscriptionStatusActive, true},
		{"past_due may suspend", types.SubscriptionStatusPastDue, types.SubscriptionStatusSuspended, true},
		{"expired is not terminal", types.SubscriptionStatusExpired, types.SubscriptionStatusActive, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transitionAllowed(tt.cur, tt.next))
		})
	}
}

func TestActiveConflictStatuses(t *testing.T) {
	// Exactly active and trial block a second subscription; past_due and
	// suspended users may start over.
	assert.ElementsMatch(t,
		[]types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrial},
		activeConflictStatuses())
}

func ptr[T any](v T) *T { return &v }
