package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fundquorum/treasury/internal/errors"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/shopspring/decimal"
)

// Fault is an injected failure for the next matching call on a MemoryGateway
type Fault struct {
	Op string
	// Err is returned instead of performing the call
	Err error
	// Commit applies the call before returning Err, simulating a lost confirmation
	Commit bool
}

type memFund struct {
	name         string
	threshold    int
	balance      decimal.Decimal
	contributors map[string]struct{}
}

type memRequest struct {
	fund   FundRef
	amount decimal.Decimal
	votes  map[string]model.VoteKind
}

type memState struct {
	mu        sync.Mutex
	funds     map[FundRef]*memFund
	requests  map[RequestRef]*memRequest
	fundSeq   int
	reqSeq    int
	txSeq     int
	faults    []Fault
	calls     map[string]int
	scale     int32
	latency   time.Duration
	reachable bool
}

// MemoryGateway is an in-process ledger. All accounts bound from the same
// root share one ledger state.
type MemoryGateway struct {
	state   *memState
	account string
}

// NewMemoryGateway creates an empty in-process ledger
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		state: &memState{
			funds:     make(map[FundRef]*memFund),
			requests:  make(map[RequestRef]*memRequest),
			calls:     make(map[string]int),
			scale:     DefaultScale,
			reachable: true,
		},
	}
}

// NewMemoryGatewayWithScale creates an in-process ledger with a non-default
// fixed-point scale
func NewMemoryGatewayWithScale(scale int32) *MemoryGateway {
	g := NewMemoryGateway()
	g.state.scale = scale
	return g
}

// WithAccount binds an acting account
func (g *MemoryGateway) WithAccount(address string) Gateway {
	return &MemoryGateway{state: g.state, account: address}
}

// Account returns the acting account
func (g *MemoryGateway) Account() string {
	return g.account
}

// InjectFault queues a failure for the next call of op
func (g *MemoryGateway) InjectFault(f Fault) {
	g.state.mu.Lock()
	defer g.state.mu.Unlock()
	g.state.faults = append(g.state.faults, f)
}

// SetLatency delays every mutating call, honoring ctx cancellation
func (g *MemoryGateway) SetLatency(d time.Duration) {
	g.state.mu.Lock()
	defer g.state.mu.Unlock()
	g.state.latency = d
}

// SetReachable toggles Ping and all calls between success and LedgerUnreachable
func (g *MemoryGateway) SetReachable(ok bool) {
	g.state.mu.Lock()
	defer g.state.mu.Unlock()
	g.state.reachable = ok
}

// Calls returns how many times op was submitted
func (g *MemoryGateway) Calls(op string) int {
	g.state.mu.Lock()
	defer g.state.mu.Unlock()
	return g.state.calls[op]
}

// CreateFund registers a new fund
func (g *MemoryGateway) CreateFund(ctx context.Context, name string, thresholdPercent int) (Receipt, error) {
	return g.mutate(ctx, "createFund", func(s *memState) (Receipt, error) {
		if thresholdPercent < 1 || thresholdPercent > 100 {
			return Receipt{}, errors.LedgerRejected("createFund", "invalid threshold")
		}
		s.fundSeq++
		ref := FundRef(strconv.Itoa(s.fundSeq))
		s.funds[ref] = &memFund{
			name:         name,
			threshold:    thresholdPercent,
			balance:      decimal.Zero,
			contributors: make(map[string]struct{}),
		}
		return Receipt{Settlement: s.nextTx(), FundRef: ref}, nil
	})
}

// Contribute credits amount to the fund from the acting account
func (g *MemoryGateway) Contribute(ctx context.Context, fund FundRef, amount decimal.Decimal) (Receipt, error) {
	if _, err := ToBaseUnits(amount, g.state.scale); err != nil {
		return Receipt{}, err
	}
	return g.mutate(ctx, "contribute", func(s *memState) (Receipt, error) {
		f, ok := s.funds[fund]
		if !ok {
			return Receipt{}, errors.LedgerRejected("contribute", "fund does not exist")
		}
		f.balance = f.balance.Add(amount)
		f.contributors[g.account] = struct{}{}
		return Receipt{Settlement: s.nextTx(), FundRef: fund}, nil
	})
}

// SubmitWithdrawal opens a withdrawal request against the fund
func (g *MemoryGateway) SubmitWithdrawal(ctx context.Context, fund FundRef, amount decimal.Decimal, reason string) (Receipt, error) {
	if _, err := ToBaseUnits(amount, g.state.scale); err != nil {
		return Receipt{}, err
	}
	return g.mutate(ctx, "submitWithdrawalRequest", func(s *memState) (Receipt, error) {
		f, ok := s.funds[fund]
		if !ok {
			return Receipt{}, errors.LedgerRejected("submitWithdrawalRequest", "fund does not exist")
		}
		if amount.GreaterThan(f.balance) {
			return Receipt{}, errors.LedgerRejected("submitWithdrawalRequest", "insufficient funds")
		}
		s.reqSeq++
		ref := RequestRef(strconv.Itoa(s.reqSeq))
		s.requests[ref] = &memRequest{fund: fund, amount: amount, votes: make(map[string]model.VoteKind)}
		return Receipt{Settlement: s.nextTx(), FundRef: fund, RequestRef: ref}, nil
	})
}

// CastVote records the acting account's vote, replacing any earlier one
func (g *MemoryGateway) CastVote(ctx context.Context, request RequestRef, kind model.VoteKind) (Receipt, error) {
	op := "approveRequest"
	if kind == model.VoteReject {
		op = "rejectRequest"
	}
	return g.mutate(ctx, op, func(s *memState) (Receipt, error) {
		r, ok := s.requests[request]
		if !ok {
			return Receipt{}, errors.LedgerRejected(op, "request does not exist")
		}
		if _, member := s.funds[r.fund].contributors[g.account]; !member {
			return Receipt{}, errors.LedgerRejected(op, "only contributors can vote")
		}
		r.votes[g.account] = kind
		return Receipt{Settlement: s.nextTx(), FundRef: r.fund, RequestRef: request}, nil
	})
}

// ReadFundFacts returns the fund's balance and distinct contributor count
func (g *MemoryGateway) ReadFundFacts(ctx context.Context, fund FundRef) (FundFacts, error) {
	s := g.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return FundFacts{}, errors.LedgerUnreachable("getFundDetails", fmt.Errorf("ledger offline"))
	}
	f, ok := s.funds[fund]
	if !ok {
		return FundFacts{}, errors.NotFound("fund", string(fund))
	}
	return FundFacts{Balance: f.balance, ContributorCount: len(f.contributors)}, nil
}

// ReadRequestFacts returns the request's current vote counts
func (g *MemoryGateway) ReadRequestFacts(ctx context.Context, request RequestRef) (RequestFacts, error) {
	s := g.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reachable {
		return RequestFacts{}, errors.LedgerUnreachable("getRequestDetails", fmt.Errorf("ledger offline"))
	}
	r, ok := s.requests[request]
	if !ok {
		return RequestFacts{}, errors.NotFound("withdrawal_request", string(request))
	}
	var facts RequestFacts
	for _, k := range r.votes {
		if k == model.VoteApprove {
			facts.ApproveCount++
		} else {
			facts.RejectCount++
		}
	}
	return facts, nil
}

// Ping reports whether the ledger is reachable
func (g *MemoryGateway) Ping(ctx context.Context) error {
	g.state.mu.Lock()
	defer g.state.mu.Unlock()
	if !g.state.reachable {
		return errors.LedgerUnreachable("ping", fmt.Errorf("ledger offline"))
	}
	return nil
}

func (g *MemoryGateway) mutate(ctx context.Context, op string, apply func(*memState) (Receipt, error)) (Receipt, error) {
	s := g.state
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return Receipt{}, errors.LedgerTimeout(op, "")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++
	if !s.reachable {
		return Receipt{}, errors.LedgerUnreachable(op, fmt.Errorf("ledger offline"))
	}
	if g.account == "" {
		return Receipt{}, errors.LedgerRejected(op, "no account bound")
	}

	if fault, ok := s.takeFault(op); ok {
		if fault.Commit {
			if _, err := apply(s); err != nil {
				return Receipt{}, err
			}
		}
		return Receipt{}, fault.Err
	}
	return apply(s)
}

func (s *memState) takeFault(op string) (Fault, bool) {
	for i, f := range s.faults {
		if f.Op == op {
			s.faults = append(s.faults[:i], s.faults[i+1:]...)
			return f, true
		}
	}
	return Fault{}, false
}

func (s *memState) nextTx() SettlementRef {
	s.txSeq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("tx-%d", s.txSeq)))
	return SettlementRef("0x" + hex.EncodeToString(sum[:]))
}
