package models

import (
	"time"

	"github.com/fatflowers/billing/pkg/types"
)

// Subscription is the local subscription row driven by the lifecycle state
// machine. User and plan are referenced by id; the handlers resolve them when
// a response needs the full objects.
type Subscription struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:uuid;not null;index:idx_sub_user_status,priority:1" json:"user_id"`
	PlanID string `gorm:"column:plan_id;type:uuid;not null;index" json:"plan_id"`

	Status types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;default:'pending';index:idx_sub_user_status,priority:2;index:idx_sub_status_end,priority:1" json:"status"`
	// BillingCycle is snapshotted from the plan at subscribe time.
	BillingCycle types.BillingCycle `gorm:"column:billing_cycle;type:varchar(32);not null;default:'monthly'" json:"billing_cycle"`
	// SubscribedPrice snapshots the plan price (cents) at subscribe time and is
	// immune to later catalog changes.
	SubscribedPrice int64 `gorm:"column:subscribed_price;type:bigint;not null;default:0" json:"subscribed_price"`

	StartDate *time.Time `gorm:"column:start_date" json:"start_date"`
	EndDate   *time.Time `gorm:"column:end_date;index:idx_sub_status_end,priority:2" json:"end_date"`
	// TrialEndDate is set only when the plan had a trial period at subscribe time.
	TrialEndDate  *time.Time `gorm:"column:trial_end_date" json:"trial_end_date"`
	RenewedAt     *time.Time `gorm:"column:renewed_at" json:"renewed_at"`
	CancelledAt   *time.Time `gorm:"column:cancelled_at" json:"cancelled_at"`
	PlanChangedAt *time.Time `gorm:"column:plan_changed_at" json:"plan_changed_at"`

	NextBillingDate    *time.Time `gorm:"column:next_billing_date" json:"next_billing_date"`
	GracePeriodEndDate *time.Time `gorm:"column:grace_period_end_date" json:"grace_period_end_date"`

	IsAutoRenew  bool `gorm:"column:is_auto_renew;not null;default:true" json:"is_auto_renew"`
	RenewalCount int  `gorm:"column:renewal_count;not null;default:0" json:"renewal_count"`

	// PaymentReference links to the processor-side subscription id for webhook sync.
	PaymentReference   *string `gorm:"column:payment_reference;type:varchar(128);index" json:"payment_reference"`
	CancellationReason string  `gorm:"column:cancellation_reason;type:varchar(500)" json:"cancellation_reason"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) IsExpired() bool {
	return s != nil && s.EndDate != nil && time.Now().After(*s.EndDate)
}

func (s *Subscription) InTrial() bool {
	return s != nil && s.Status == types.SubscriptionStatusTrial &&
		s.TrialEndDate != nil && !time.Now().After(*s.TrialEndDate)
}

// DaysUntilExpiry returns nil when no end date is set.
func (s *Subscription) DaysUntilExpiry() *int {
	if s == nil || s.EndDate == nil {
		return nil
	}
	days := int(time.Until(*s.EndDate).Hours() / 24)
	return &days
}
