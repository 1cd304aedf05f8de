package scheduler

import (
	"testing"

	"github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
)

func TestRetryableInvoice(t *testing.T) {
	tests := []struct {
		name string
		inv  *stripe.Invoice
		want bool
	}{
		{
			name: "open with retries attempted",
			inv:  &stripe.Invoice{Status: stripe.InvoiceStatusOpen, AttemptCount: 2},
			want: true,
		},
		{
			name: "open but no attempt yet",
			inv:  &stripe.Invoice{Status: stripe.InvoiceStatusOpen, AttemptCount: 0},
			want: false,
		},
		{
			name: "already paid",
			inv:  &stripe.Invoice{Status: stripe.InvoiceStatusPaid, AttemptCount: 3},
			want: false,
		},
		{
			name: "voided",
			inv:  &stripe.Invoice{Status: stripe.InvoiceStatusVoid, AttemptCount: 1},
			want: false,
		},
		{
			name: "nil invoice",
			inv:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryableInvoice(tt.inv))
		})
	}
}
