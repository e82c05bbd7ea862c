package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transparency controls who may view a fund's activity
type Transparency string

const (
	// TransparencyPublic exposes activity to everyone
	TransparencyPublic Transparency = "public"
	// TransparencyPrivate exposes activity to contributors only
	TransparencyPrivate Transparency = "private"
	// TransparencyAll exposes activity to contributors and observers
	TransparencyAll Transparency = "all"
)

// Valid reports whether t is one of the known transparency modes
func (t Transparency) Valid() bool {
	switch t {
	case TransparencyPublic, TransparencyPrivate, TransparencyAll:
		return true
	default:
		return false
	}
}

// Fund is a shared treasury with an approval threshold
type Fund struct {
	ID                 string          `json:"id"`
	LedgerRef          string          `json:"ledger_ref"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Transparency       Transparency    `json:"transparency"`
	ThresholdPercent   int             `json:"threshold_percent"`
	TotalContributed   decimal.Decimal `json:"total_contributed"`
	PendingWithdrawals decimal.Decimal `json:"pending_withdrawals"`
	ContributorCount   int             `json:"contributor_count"`
	CreatorAddress     string          `json:"creator_address"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Contribution is an immutable record of money paid into a fund
type Contribution struct {
	ID            string          `json:"id"`
	FundID        string          `json:"fund_id"`
	Contributor   string          `json:"contributor"`
	Amount        decimal.Decimal `json:"amount"`
	SettlementRef string          `json:"settlement_ref"`
	CreatedAt     time.Time       `json:"created_at"`
}
