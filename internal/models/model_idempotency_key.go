package models

import "time"

// IdempotencyKey caches the response of a completed mutating request. A
// replayed request bearing the same key gets the stored status and body
// verbatim until ExpiresAt passes.
type IdempotencyKey struct {
	Key    string  `gorm:"column:key;type:varchar(255);primary_key" json:"key"`
	UserID *string `gorm:"column:user_id;type:varchar(255);index:idx_idem_user_created,priority:1" json:"user_id"`

	// Response is the serialized body exactly as first written to the wire.
	Response   string `gorm:"column:response;type:text;not null" json:"response"`
	StatusCode int    `gorm:"column:status_code;not null" json:"status_code"`
	Method     string `gorm:"column:method;type:varchar(50);not null" json:"method"`
	Path       string `gorm:"column:path;type:varchar(500);not null" json:"path"`

	CreatedAt time.Time `gorm:"index:idx_idem_user_created,priority:2" json:"created_at"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
}

func (IdempotencyKey) TableName() string { return "idempotency_keys" }

func (k *IdempotencyKey) Expired(now time.Time) bool {
	return k != nil && now.After(k.ExpiresAt)
}
