package model

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentKind identifies what a client asked the coordinator to do
type IntentKind string

const (
	IntentCreateFund       IntentKind = "create_fund"
	IntentContribute       IntentKind = "contribute"
	IntentSubmitWithdrawal IntentKind = "submit_withdrawal"
	IntentCastVote         IntentKind = "cast_vote"
)

// IntentState tracks an intent from submission to mirroring
type IntentState string

const (
	// IntentDrafted means the intent has not been handed to the ledger
	IntentDrafted IntentState = "drafted"
	// IntentSubmitting means the ledger call is in flight
	IntentSubmitting IntentState = "submitting"
	// IntentConfirmed means the ledger settled the call
	IntentConfirmed IntentState = "confirmed"
	// IntentMirrored means the mirror holds a corroborating record
	IntentMirrored IntentState = "mirrored"
	// IntentFailed means the ledger call errored terminally
	IntentFailed IntentState = "failed"
)

var intentTransitions = map[IntentState][]IntentState{
	IntentDrafted:    {IntentSubmitting},
	IntentSubmitting: {IntentConfirmed, IntentFailed},
	IntentConfirmed:  {IntentMirrored},
}

// IntentMeta is the bookkeeping shared by every intent
type IntentMeta struct {
	mu        sync.Mutex
	id        string
	state     IntentState
	failure   string
	updatedAt time.Time
}

func (m *IntentMeta) draft() {
	m.id = uuid.New().String()
	m.state = IntentDrafted
	m.updatedAt = time.Now()
}

// ID returns the intent's identifier
func (m *IntentMeta) ID() string {
	return m.id
}

// State returns the current state
func (m *IntentMeta) State() IntentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Failure returns the reason recorded when the intent failed
func (m *IntentMeta) Failure() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Transition moves the intent to the next state, rejecting moves the
// lifecycle does not allow
func (m *IntentMeta) Transition(to IntentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range intentTransitions[m.state] {
		if allowed == to {
			m.state = to
			m.updatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("invalid intent transition %s -> %s", m.state, to)
}

// Fail marks a submitting intent as failed with a reason
func (m *IntentMeta) Fail(reason string) error {
	if err := m.Transition(IntentFailed); err != nil {
		return err
	}
	m.mu.Lock()
	m.failure = reason
	m.mu.Unlock()
	return nil
}

// Intent is a client action flowing towards the ledger
type Intent interface {
	Kind() IntentKind
	Meta() *IntentMeta
}

// CreateFundIntent opens a new fund
type CreateFundIntent struct {
	IntentMeta
	Name             string
	Description      string
	Transparency     Transparency
	ThresholdPercent int
	Creator          string
}

// NewCreateFundIntent drafts a fund-creation intent
func NewCreateFundIntent(creator, name, description string, transparency Transparency, thresholdPercent int) *CreateFundIntent {
	i := &CreateFundIntent{
		Name:             name,
		Description:      description,
		Transparency:     transparency,
		ThresholdPercent: thresholdPercent,
		Creator:          creator,
	}
	i.draft()
	return i
}

func (i *CreateFundIntent) Kind() IntentKind  { return IntentCreateFund }
func (i *CreateFundIntent) Meta() *IntentMeta { return &i.IntentMeta }

// ContributeIntent pays into a fund
type ContributeIntent struct {
	IntentMeta
	FundID      string
	Contributor string
	Amount      decimal.Decimal
}

// NewContributeIntent drafts a contribution intent
func NewContributeIntent(fundID, contributor string, amount decimal.Decimal) *ContributeIntent {
	i := &ContributeIntent{
		FundID:      fundID,
		Contributor: contributor,
		Amount:      amount,
	}
	i.draft()
	return i
}

func (i *ContributeIntent) Kind() IntentKind  { return IntentContribute }
func (i *ContributeIntent) Meta() *IntentMeta { return &i.IntentMeta }

// SubmitWithdrawalIntent opens a withdrawal vote
type SubmitWithdrawalIntent struct {
	IntentMeta
	FundID    string
	Requester string
	Amount    decimal.Decimal
	Reason    string
}

// NewSubmitWithdrawalIntent drafts a withdrawal request intent
func NewSubmitWithdrawalIntent(fundID, requester string, amount decimal.Decimal, reason string) *SubmitWithdrawalIntent {
	i := &SubmitWithdrawalIntent{
		FundID:    fundID,
		Requester: requester,
		Amount:    amount,
		Reason:    reason,
	}
	i.draft()
	return i
}

func (i *SubmitWithdrawalIntent) Kind() IntentKind  { return IntentSubmitWithdrawal }
func (i *SubmitWithdrawalIntent) Meta() *IntentMeta { return &i.IntentMeta }

// CastVoteIntent records a voter's choice on a request
type CastVoteIntent struct {
	IntentMeta
	RequestID string
	Voter     string
	Vote      VoteKind
}

// NewCastVoteIntent drafts a vote intent
func NewCastVoteIntent(requestID, voter string, kind VoteKind) *CastVoteIntent {
	i := &CastVoteIntent{
		RequestID: requestID,
		Voter:     voter,
		Vote:      kind,
	}
	i.draft()
	return i
}

func (i *CastVoteIntent) Kind() IntentKind  { return IntentCastVote }
func (i *CastVoteIntent) Meta() *IntentMeta { return &i.IntentMeta }
