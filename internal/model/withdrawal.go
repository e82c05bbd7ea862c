package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus is the lifecycle state of a withdrawal request
type RequestStatus string

const (
	// RequestStatusPending means the vote is still open
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusApproved means quorum was reached
	RequestStatusApproved RequestStatus = "approved"
	// RequestStatusRejected means at least one contributor rejected the request
	RequestStatusRejected RequestStatus = "rejected"
)

// IsTerminal reports whether the status can no longer change
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// Valid reports whether s is a known status
func (s RequestStatus) Valid() bool {
	return s == RequestStatusPending || s.IsTerminal()
}

// VoteKind is the choice a voter makes on a request
type VoteKind string

const (
	VoteApprove VoteKind = "approve"
	VoteReject  VoteKind = "reject"
)

// Valid reports whether k is approve or reject
func (k VoteKind) Valid() bool {
	return k == VoteApprove || k == VoteReject
}

// WithdrawalRequest asks the contributors of a fund to release money.
// RequiredApprovals is frozen when the request is created.
type WithdrawalRequest struct {
	ID                string          `json:"id"`
	FundID            string          `json:"fund_id"`
	LedgerRef         string          `json:"ledger_ref"`
	Requester         string          `json:"requester"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason"`
	Status            RequestStatus   `json:"status"`
	RequiredApprovals int             `json:"required_approvals"`
	ApproveCount      int             `json:"approve_count"`
	RejectCount       int             `json:"reject_count"`
	SettlementRef     string          `json:"settlement_ref"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Vote is one voter's current choice on a request. A later vote by the
// same voter replaces the earlier one.
type Vote struct {
	ID            string    `json:"id"`
	RequestID     string    `json:"request_id"`
	Voter         string    `json:"voter"`
	Kind          VoteKind  `json:"kind"`
	SettlementRef string    `json:"settlement_ref"`
	CastAt        time.Time `json:"cast_at"`
}
