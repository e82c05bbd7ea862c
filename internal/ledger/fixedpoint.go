package ledger

import (
	"math/big"

	"github.com/fundquorum/treasury/internal/errors"
	"github.com/shopspring/decimal"
)

// DefaultScale is the number of fractional digits of one ledger base unit
const DefaultScale int32 = 18

// ToBaseUnits converts a decimal amount to integer base units at the given
// scale. Non-positive amounts and amounts that would lose precision are rejected.
func ToBaseUnits(amount decimal.Decimal, scale int32) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, errors.InvalidAmount(amount.String(), "amount must be positive")
	}
	if !amount.Equal(amount.Truncate(scale)) {
		return nil, errors.InvalidAmount(amount.String(), "amount has more fractional digits than the ledger supports")
	}
	return amount.Shift(scale).BigInt(), nil
}

// FromBaseUnits converts integer base units back to a decimal amount
func FromBaseUnits(units *big.Int, scale int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -scale)
}
