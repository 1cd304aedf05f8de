package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUUID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"canonical v4", "9f1c3a52-4a0e-4f3b-9a6d-2c8e1b7d5f01", true},
		{"generated v7", GenerateUUIDV7(), true},
		{"uppercase hex", "9F1C3A52-4A0E-4F3B-9A6D-2C8E1B7D5F01", true},
		{"empty", "", false},
		{"random string", "not-a-uuid", false},
		{"urn form", "urn:uuid:9f1c3a52-4a0e-4f3b-9a6d-2c8e1b7d5f01", false},
		{"braced form", "{9f1c3a52-4a0e-4f3b-9a6d-2c8e1b7d5f01}", false},
		{"undashed hex", "9f1c3a524a0e4f3b9a6d2c8e1b7d5f01", false},
		{"non-hex characters", "9f1c3a52-4a0e-4f3b-9a6d-2c8e1b7d5g01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUUID(tt.in))
		})
	}
}
