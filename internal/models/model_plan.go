package models

import (
	"time"

	"github.com/fatflowers/billing/pkg/types"
)

// Plan is a catalog entry. Price is stored in minor units (cents).
type Plan struct {
	ID          string             `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Name        string             `gorm:"column:name;type:varchar(255);not null;uniqueIndex" json:"name"`
	Description string             `gorm:"column:description;type:text" json:"description"`
	Price       int64              `gorm:"column:price;type:bigint;not null" json:"price"`
	BillingCycle types.BillingCycle `gorm:"column:billing_cycle;type:varchar(32);not null;default:'monthly'" json:"billing_cycle"`
	// TrialPeriodDays > 0 makes new subscriptions start in trial.
	TrialPeriodDays int  `gorm:"column:trial_period_days;not null;default:0" json:"trial_period_days"`
	IsActive        bool `gorm:"column:is_active;not null;default:true" json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

func (p *Plan) HasTrial() bool {
	return p != nil && p.TrialPeriodDays > 0
}
