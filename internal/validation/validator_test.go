package validation

import (
	"testing"

	"github.com/fundquorum/treasury/internal/errors"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWithdrawal(t *testing.T) {
	v := NewValidator()
	fund := &model.Fund{ID: "fund-1", TotalContributed: decimal.NewFromInt(100)}

	tests := []struct {
		name      string
		requester string
		amount    string
		reason    string
		expectErr bool
	}{
		{"within total", "0xalice", "40", "gutters", false},
		{"exactly total", "0xalice", "100", "gutters", false},
		{"above total", "0xalice", "100.000000000000000001", "gutters", true},
		{"missing reason", "0xalice", "10", "", true},
		{"missing requester", "", "10", "gutters", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := model.NewSubmitWithdrawalIntent(fund.ID, tt.requester, decimal.RequireFromString(tt.amount), tt.reason)
			err := v.ValidateWithdrawal(intent, fund)
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewValidatorWithScale(t *testing.T) {
	tests := []struct {
		name      string
		scale     int32
		raw       string
		expectErr bool
	}{
		{"default scale accepts one wei", AmountScale, "0.000000000000000001", false},
		{"two digits accepts cents", 2, "12.34", false},
		{"two digits rejects mills", 2, "12.345", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidatorWithScale(tt.scale).ParseAmount(tt.raw)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
