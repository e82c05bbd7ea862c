package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fundquorum/treasury/internal/model"
	"go.uber.org/zap"
)

// MemoryMirrorStore implements MirrorStore in process memory
type MemoryMirrorStore struct {
	mu            sync.RWMutex
	funds         map[string]*model.Fund
	contributions map[string]*model.Contribution // keyed by settlement ref
	requests      map[string]*model.WithdrawalRequest
	votes         map[string]map[string]*model.Vote // request id -> voter -> vote
	writeErr      error
	logger        *zap.Logger
}

// NewMemoryMirrorStore creates an empty in-memory mirror
func NewMemoryMirrorStore(logger *zap.Logger) *MemoryMirrorStore {
	return &MemoryMirrorStore{
		funds:         make(map[string]*model.Fund),
		contributions: make(map[string]*model.Contribution),
		requests:      make(map[string]*model.WithdrawalRequest),
		votes:         make(map[string]map[string]*model.Vote),
		logger:        logger,
	}
}

// SetWriteError makes every write fail with err until cleared with nil
func (s *MemoryMirrorStore) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// UpsertFund inserts or replaces a fund row
func (s *MemoryMirrorStore) UpsertFund(ctx context.Context, fund *model.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.funds[fund.ID] = copyFund(fund)
	return nil
}

// GetFund returns a fund by id
func (s *MemoryMirrorStore) GetFund(ctx context.Context, fundID string) (*model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.funds[fundID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFund(f), nil
}

// ListFunds returns funds matching filter, newest first
func (s *MemoryMirrorStore) ListFunds(ctx context.Context, filter FundFilter) ([]*model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	funds := make([]*model.Fund, 0, len(s.funds))
	for _, f := range s.funds {
		if query != "" &&
			!strings.Contains(strings.ToLower(f.Name), query) &&
			!strings.Contains(strings.ToLower(f.Description), query) {
			continue
		}
		if filter.Transparency != "" && f.Transparency != filter.Transparency {
			continue
		}
		if filter.Creator != "" && !strings.EqualFold(f.CreatorAddress, filter.Creator) {
			continue
		}
		funds = append(funds, copyFund(f))
	}

	sort.Slice(funds, func(i, j int) bool {
		return funds[i].CreatedAt.After(funds[j].CreatedAt)
	})
	return paginate(funds, filter.Offset, filter.Limit), nil
}

// InsertContribution stores a contribution once per settlement ref
func (s *MemoryMirrorStore) InsertContribution(ctx context.Context, c *model.Contribution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return false, s.writeErr
	}
	if _, exists := s.contributions[c.SettlementRef]; exists {
		return false, nil
	}
	cp := *c
	s.contributions[c.SettlementRef] = &cp
	return true, nil
}

// ListContributions returns a fund's contributions in creation order
func (s *MemoryMirrorStore) ListContributions(ctx context.Context, fundID string) ([]*model.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Contribution, 0)
	for _, c := range s.contributions {
		if c.FundID == fundID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpsertWithdrawalRequest inserts or updates a request. A stored terminal
// status is kept even if the incoming row disagrees.
func (s *MemoryMirrorStore) UpsertWithdrawalRequest(ctx context.Context, req *model.WithdrawalRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return false, s.writeErr
	}
	if existing, ok := s.requests[req.ID]; ok && existing.Status.IsTerminal() {
		return false, nil
	}
	s.requests[req.ID] = copyRequest(req)
	return true, nil
}

// GetWithdrawalRequest returns a request by id
func (s *MemoryMirrorStore) GetWithdrawalRequest(ctx context.Context, requestID string) (*model.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(r), nil
}

// ListWithdrawalRequests returns requests matching filter, newest first
func (s *MemoryMirrorStore) ListWithdrawalRequests(ctx context.Context, filter RequestFilter) ([]*model.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WithdrawalRequest, 0)
	for _, r := range s.requests {
		if filter.FundID != "" && r.FundID != filter.FundID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, copyRequest(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, 0, filter.Limit), nil
}

// UpsertVote stores the voter's latest vote on a request
func (s *MemoryMirrorStore) UpsertVote(ctx context.Context, vote *model.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	byVoter, ok := s.votes[vote.RequestID]
	if !ok {
		byVoter = make(map[string]*model.Vote)
		s.votes[vote.RequestID] = byVoter
	}
	if existing, ok := byVoter[vote.Voter]; ok && existing.CastAt.After(vote.CastAt) {
		return nil
	}
	cp := *vote
	byVoter[vote.Voter] = &cp
	return nil
}

// ListVotes returns the current vote of every voter on a request
func (s *MemoryMirrorStore) ListVotes(ctx context.Context, requestID string) ([]*model.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Vote, 0, len(s.votes[requestID]))
	for _, v := range s.votes[requestID] {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CastAt.Before(out[j].CastAt)
	})
	return out, nil
}

// Ping always succeeds
func (s *MemoryMirrorStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryMirrorStore) Close() {}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
