package ledger

import (
	"context"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/shopspring/decimal"
)

// FundRef identifies a fund on the ledger
type FundRef string

// RequestRef identifies a withdrawal request on the ledger
type RequestRef string

// SettlementRef identifies a committed ledger action (a transaction hash)
type SettlementRef string

// FundFacts are the ledger's authoritative values for a fund
type FundFacts struct {
	Balance          decimal.Decimal
	ContributorCount int
}

// RequestFacts are the ledger's authoritative vote counts for a request
type RequestFacts struct {
	ApproveCount int
	RejectCount  int
}

// Receipt is the outcome of a confirmed mutating call
type Receipt struct {
	Settlement SettlementRef
	FundRef    FundRef
	RequestRef RequestRef
}

// Gateway is the boundary to the authoritative ledger. Every mutating call
// blocks until the action is confirmed or the confirmation wait expires.
type Gateway interface {
	// WithAccount returns a gateway that acts as the given account
	WithAccount(address string) Gateway
	// Account returns the acting account, empty when unbound
	Account() string

	CreateFund(ctx context.Context, name string, thresholdPercent int) (Receipt, error)
	Contribute(ctx context.Context, fund FundRef, amount decimal.Decimal) (Receipt, error)
	SubmitWithdrawal(ctx context.Context, fund FundRef, amount decimal.Decimal, reason string) (Receipt, error)
	CastVote(ctx context.Context, request RequestRef, kind model.VoteKind) (Receipt, error)

	ReadFundFacts(ctx context.Context, fund FundRef) (FundFacts, error)
	ReadRequestFacts(ctx context.Context, request RequestRef) (RequestFacts, error)

	Ping(ctx context.Context) error
}
