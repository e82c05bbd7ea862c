package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/fundquorum/treasury/internal/algorithm"
	"github.com/fundquorum/treasury/internal/errors"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/shopspring/decimal"
)

const (
	// Text limits
	MaxNameSize        = 128
	MaxDescriptionSize = 2048
	MaxReasonSize      = 1024
	MaxAddressSize     = 256

	// AmountScale is the ledger's fixed-point scale (base units per whole unit = 10^18)
	AmountScale = 18

	MinThresholdPercent = 1
	MaxThresholdPercent = 100
)

// Validator checks presentation input before any I/O happens
type Validator struct {
	maxNameSize        int
	maxDescriptionSize int
	maxReasonSize      int
	amountScale        int32
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxNameSize:        MaxNameSize,
		maxDescriptionSize: MaxDescriptionSize,
		maxReasonSize:      MaxReasonSize,
		amountScale:        AmountScale,
	}
}

// NewValidatorWithScale creates a validator for a ledger with a different fixed-point scale
func NewValidatorWithScale(scale int32) *Validator {
	v := NewValidator()
	v.amountScale = scale
	return v
}

// ParseAmount parses a user-entered decimal string into a positive amount
func (v *Validator) ParseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, errors.InvalidAmount(raw, "amount is required")
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, errors.InvalidAmount(raw, "amount is not a decimal number")
	}
	if err := v.ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount checks positivity and that the amount fits the ledger scale without rounding
func (v *Validator) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.InvalidAmount(amount.String(), "amount must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(v.amountScale)) {
		return errors.InvalidAmount(amount.String(),
			fmt.Sprintf("amount has more than %d fractional digits", v.amountScale))
	}
	return nil
}

// ValidateThreshold checks the approval threshold percent
func (v *Validator) ValidateThreshold(percent int) error {
	if percent < MinThresholdPercent || percent > MaxThresholdPercent {
		return errors.InvalidInput("threshold_percent",
			fmt.Sprintf("must be between %d and %d, got %d", MinThresholdPercent, MaxThresholdPercent, percent))
	}
	return nil
}

// ValidateAddress checks an account reference. The identity itself is
// opaque and pre-authenticated.
func (v *Validator) ValidateAddress(field, address string) error {
	if strings.TrimSpace(address) == "" {
		return errors.InvalidInput(field, "address is required")
	}
	if len(address) > MaxAddressSize {
		return errors.InvalidInput(field, fmt.Sprintf("address exceeds %d bytes", MaxAddressSize))
	}
	return checkControlChars(field, address)
}

// ValidateCreateFund validates a fund-creation intent
func (v *Validator) ValidateCreateFund(intent *model.CreateFundIntent) error {
	if err := v.ValidateAddress("creator", intent.Creator); err != nil {
		return err
	}
	if err := v.validateText("name", intent.Name, v.maxNameSize, true); err != nil {
		return err
	}
	if err := v.validateText("description", intent.Description, v.maxDescriptionSize, false); err != nil {
		return err
	}
	if !intent.Transparency.Valid() {
		return errors.InvalidInput("transparency", fmt.Sprintf("unknown mode %q", intent.Transparency))
	}
	return v.ValidateThreshold(intent.ThresholdPercent)
}

// ValidateContribute validates a contribution intent
func (v *Validator) ValidateContribute(intent *model.ContributeIntent) error {
	if intent.FundID == "" {
		return errors.InvalidInput("fund_id", "fund id is required")
	}
	if err := v.ValidateAddress("contributor", intent.Contributor); err != nil {
		return err
	}
	return v.ValidateAmount(intent.Amount)
}

// ValidateWithdrawal validates a withdrawal intent against the fund it draws on.
// The requested amount may not exceed the fund's total at creation time.
func (v *Validator) ValidateWithdrawal(intent *model.SubmitWithdrawalIntent, fund *model.Fund) error {
	if err := v.ValidateAddress("requester", intent.Requester); err != nil {
		return err
	}
	if err := v.ValidateAmount(intent.Amount); err != nil {
		return err
	}
	if err := v.validateText("reason", intent.Reason, v.maxReasonSize, true); err != nil {
		return err
	}
	if !algorithm.CanWithdraw(*fund, intent.Amount) {
		return errors.InvalidInput("amount",
			fmt.Sprintf("withdrawal of %s exceeds fund total of %s", intent.Amount, fund.TotalContributed)).
			WithDetail("fund_id", fund.ID)
	}
	return nil
}

// ValidateVote validates a vote intent
func (v *Validator) ValidateVote(intent *model.CastVoteIntent) error {
	if intent.RequestID == "" {
		return errors.InvalidInput("request_id", "request id is required")
	}
	if err := v.ValidateAddress("voter", intent.Voter); err != nil {
		return err
	}
	if !intent.Vote.Valid() {
		return errors.InvalidInput("kind", fmt.Sprintf("unknown vote kind %q", intent.Vote))
	}
	return nil
}

func (v *Validator) validateText(field, text string, maxSize int, required bool) error {
	if required && strings.TrimSpace(text) == "" {
		return errors.InvalidInput(field, "cannot be empty")
	}
	if len(text) > maxSize {
		return errors.InvalidInput(field, fmt.Sprintf("exceeds maximum size of %d bytes", maxSize))
	}
	return checkControlChars(field, text)
}

// checkControlChars rejects control characters other than tab and newline
func checkControlChars(field, text string) error {
	for _, r := range text {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return errors.InvalidInput(field, "cannot contain control characters")
		}
	}
	return nil
}
