package types

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Terminal reports whether the status can never be left again through the
// subscription state machine.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled
}

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusPending, SubscriptionStatusTrial, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusSuspended,
		SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

type BillingCycle string

const (
	BillingCycleWeekly    BillingCycle = "weekly"
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleYearly    BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	switch c {
	case BillingCycleWeekly, BillingCycleMonthly, BillingCycleQuarterly, BillingCycleYearly:
		return true
	}
	return false
}

// Advance returns the end of one billing period starting at t.
// Monthly/quarterly/yearly use calendar arithmetic, so Jan 31 + 1 month
// normalizes the way time.AddDate does. An unrecognized cycle falls back to
// monthly rather than failing.
func (c BillingCycle) Advance(t time.Time) time.Time {
	switch c {
	case BillingCycleWeekly:
		return t.AddDate(0, 0, 7)
	case BillingCycleMonthly:
		return t.AddDate(0, 1, 0)
	case BillingCycleQuarterly:
		return t.AddDate(0, 3, 0)
	case BillingCycleYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type PaymentType string

const (
	PaymentTypeOneTime      PaymentType = "one_time"
	PaymentTypeSubscription PaymentType = "subscription"
)

type BillingRecordStatus string

const (
	BillingRecordStatusPaid   BillingRecordStatus = "paid"
	BillingRecordStatusFailed BillingRecordStatus = "failed"
)
