package models

import (
	"time"

	"github.com/fatflowers/billing/pkg/types"
)

// BillingRecord is one receipt or failure entry in a customer's billing
// history. ProviderInvoiceID is unique so a redelivered webhook for the same
// invoice can never produce a second row.
type BillingRecord struct {
	ID                string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ProviderCustomerID string `gorm:"column:provider_customer_id;type:varchar(128);not null;index" json:"provider_customer_id"`
	ProviderInvoiceID string `gorm:"column:provider_invoice_id;type:varchar(128);not null;uniqueIndex" json:"provider_invoice_id"`

	Amount   int64  `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Currency string `gorm:"column:currency;type:varchar(3);not null" json:"currency"`

	Status        types.BillingRecordStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	InvoiceNumber string                    `gorm:"column:invoice_number;type:varchar(64)" json:"invoice_number"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`

	PaidAt    *time.Time `gorm:"column:paid_at" json:"paid_at"`
	FailedAt  *time.Time `gorm:"column:failed_at" json:"failed_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (BillingRecord) TableName() string { return "billing_records" }
