package ledger

import (
	"math/big"
	"testing"

	"github.com/fundquorum/treasury/internal/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		expected  string
		expectErr bool
	}{
		{"whole", "1", "1000000000000000000", false},
		{"fraction", "0.5", "500000000000000000", false},
		{"smallest unit", "0.000000000000000001", "1", false},
		{"too precise", "0.0000000000000000001", "", true},
		{"zero", "0", "", true},
		{"negative", "-3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units, err := ToBaseUnits(decimal.RequireFromString(tt.amount), DefaultScale)
			if tt.expectErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, units.String())
		})
	}
}

func TestFromBaseUnits(t *testing.T) {
	units, _ := new(big.Int).SetString("1250000000000000000", 10)
	assert.True(t, FromBaseUnits(units, DefaultScale).Equal(decimal.RequireFromString("1.25")))
	assert.True(t, FromBaseUnits(nil, DefaultScale).IsZero())
}
