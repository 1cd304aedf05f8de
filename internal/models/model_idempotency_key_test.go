package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyKeyExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		key  *IdempotencyKey
		want bool
	}{
		{
			name: "nil record is not expired",
			key:  nil,
			want: false,
		},
		{
			name: "record inside its TTL",
			key:  &IdempotencyKey{ExpiresAt: now.Add(time.Hour)},
			want: false,
		},
		{
			name: "record exactly at expiry",
			key:  &IdempotencyKey{ExpiresAt: now},
			want: false,
		},
		{
			name: "record past its TTL",
			key:  &IdempotencyKey{ExpiresAt: now.Add(-time.Second)},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.Expired(now))
		})
	}
}
