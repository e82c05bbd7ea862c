package model

import "time"

// Snapshot is the authoritative, engine-derived view of the entities an
// intent or change event touched. Fields that were not affected are nil.
type Snapshot struct {
	IntentID     string             `json:"intent_id,omitempty"`
	State        IntentState        `json:"state,omitempty"`
	Fund         *Fund              `json:"fund,omitempty"`
	Request      *WithdrawalRequest `json:"request,omitempty"`
	Contribution *Contribution      `json:"contribution,omitempty"`
	Vote         *Vote              `json:"vote,omitempty"`
	DerivedAt    time.Time          `json:"derived_at"`
}

// ChangeTable names a mirror table in change notifications
type ChangeTable string

const (
	TableFunds              ChangeTable = "funds"
	TableContributions      ChangeTable = "contributions"
	TableWithdrawalRequests ChangeTable = "withdrawal_requests"
	TableVotes              ChangeTable = "votes"
)

// ChangeEvent signals that a mirror row changed. It carries no trusted
// payload; consumers re-read the entity.
type ChangeEvent struct {
	Table    ChangeTable `json:"table"`
	EntityID string      `json:"entity_id"`
	FundID   string      `json:"fund_id,omitempty"`
	// RequestID is set for vote rows so the owning request can be re-derived
	RequestID string    `json:"request_id,omitempty"`
	At        time.Time `json:"at"`
}
