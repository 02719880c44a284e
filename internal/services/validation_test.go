package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	t.Run("valid amounts", func(t *testing.T) {
		cases := map[string]string{
			"100":         "100",
			"0.00000001":  "0.00000001",
			"1.5":         "1.5",
			"42.12345678": "42.12345678",
		}

		for raw, want := range cases {
			amount, err := ParseAmount(raw)
			assert.NoError(t, err, raw)
			assert.Equal(t, want, amount.String(), raw)
		}
	})

	t.Run("invalid amounts", func(t *testing.T) {
		cases := []string{
			"",
			"0",           // not strictly positive
			"-5",          // negative
			"1.123456789", // more than 8 fractional digits
			"10.",         // dangling separator
			"1e5",         // scientific notation
			"abc",
			"1,5",
			" 1",
		}

		for _, raw := range cases {
			_, err := ParseAmount(raw)
			assert.Error(t, err, raw)
		}
	})
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	type request struct {
		UserID string `validate:"required"`
		Amount string `validate:"required"`
	}

	assert.NoError(t, vh.ValidateStruct(&request{UserID: "u1", Amount: "10"}))
	assert.Error(t, vh.ValidateStruct(&request{UserID: "u1"}))
}
