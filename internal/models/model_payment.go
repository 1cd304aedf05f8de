package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/billing/pkg/types"
)

// Payment records one processor-side charge attempt. The processor's intent
// id is unique, which is what keeps webhook redelivery from double-recording.
type Payment struct {
	ID                    string  `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ProviderPaymentID     *string `gorm:"column:provider_payment_id;type:varchar(128);uniqueIndex" json:"provider_payment_id"`
	ProviderSubscriptionID *string `gorm:"column:provider_subscription_id;type:varchar(128);index" json:"provider_subscription_id"`
	ProviderCustomerID    string  `gorm:"column:provider_customer_id;type:varchar(128);not null;index" json:"provider_customer_id"`
	UserID                *string `gorm:"column:user_id;type:uuid;index" json:"user_id"`

	Amount   int64  `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Currency string `gorm:"column:currency;type:varchar(3);not null" json:"currency"`

	Status types.PaymentStatus `gorm:"column:status;type:varchar(32);not null;default:'pending'" json:"status"`
	Type   types.PaymentType   `gorm:"column:type;type:varchar(32);not null;default:'one_time'" json:"type"`

	Description string            `gorm:"column:description;type:text" json:"description"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata;type:jsonb" json:"metadata"`

	ProcessedAt *time.Time `gorm:"column:processed_at" json:"processed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }
