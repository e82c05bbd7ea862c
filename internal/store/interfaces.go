package store

import (
	"context"
	"errors"
	"time"

	"github.com/fundquorum/treasury/internal/model"
)

// ErrNotFound is returned when a row is not found
var ErrNotFound = errors.New("not found")

// FundFilter narrows a fund listing
type FundFilter struct {
	// Query matches name or description, case-insensitive
	Query        string
	Transparency model.Transparency
	Creator      string
	Limit        int
	Offset       int
}

// RequestFilter narrows a withdrawal request listing
type RequestFilter struct {
	FundID string
	Status model.RequestStatus
	Limit  int
}

// MirrorStore is the queryable replica of ledger facts. Rows are only
// inserted or upserted by entity id, never deleted.
type MirrorStore interface {
	// Fund operations
	UpsertFund(ctx context.Context, fund *model.Fund) error
	GetFund(ctx context.Context, fundID string) (*model.Fund, error)
	ListFunds(ctx context.Context, filter FundFilter) ([]*model.Fund, error)

	// Contribution operations. InsertContribution is idempotent on the
	// settlement ref and reports whether a row was written.
	InsertContribution(ctx context.Context, c *model.Contribution) (bool, error)
	ListContributions(ctx context.Context, fundID string) ([]*model.Contribution, error)

	// Withdrawal request operations. A terminal status is never overwritten;
	// UpsertWithdrawalRequest reports whether the row was written.
	UpsertWithdrawalRequest(ctx context.Context, req *model.WithdrawalRequest) (bool, error)
	GetWithdrawalRequest(ctx context.Context, requestID string) (*model.WithdrawalRequest, error)
	ListWithdrawalRequests(ctx context.Context, filter RequestFilter) ([]*model.WithdrawalRequest, error)

	// Vote operations. One row per (request, voter); a later vote replaces the kind.
	UpsertVote(ctx context.Context, vote *model.Vote) error
	ListVotes(ctx context.Context, requestID string) ([]*model.Vote, error)

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// ChangeFeed carries change notifications for mirror rows
type ChangeFeed interface {
	Publish(ctx context.Context, event model.ChangeEvent) error
	// Subscribe streams events until ctx is cancelled
	Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error)
	Ping(ctx context.Context) error
	Close() error
}

// JournalEntry is the recorded outcome of an intent
type JournalEntry struct {
	IntentID  string            `json:"intent_id"`
	Kind      model.IntentKind  `json:"kind"`
	State     model.IntentState `json:"state"`
	Failure   string            `json:"failure,omitempty"`
	Snapshot  *model.Snapshot   `json:"snapshot,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IntentJournal guarantees an intent reaches the ledger at most once
type IntentJournal interface {
	// Begin claims the intent. Only the first caller gets true.
	Begin(ctx context.Context, intentID string, kind model.IntentKind) (bool, error)
	Record(ctx context.Context, entry *JournalEntry) error
	Get(ctx context.Context, intentID string) (*JournalEntry, error)
	Ping(ctx context.Context) error
	Close() error
}

func copyFund(f *model.Fund) *model.Fund {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

func copyRequest(r *model.WithdrawalRequest) *model.WithdrawalRequest {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
