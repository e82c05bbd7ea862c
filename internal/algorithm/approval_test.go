package algorithm

import (
	"fmt"
	"testing"
	"time"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func votes(approve, reject int) []model.Vote {
	now := time.Now()
	out := make([]model.Vote, 0, approve+reject)
	for i := 0; i < approve; i++ {
		out = append(out, model.Vote{Voter: fmt.Sprintf("0xa%d", i), Kind: model.VoteApprove, CastAt: now})
	}
	for i := 0; i < reject; i++ {
		out = append(out, model.Vote{Voter: fmt.Sprintf("0xr%d", i), Kind: model.VoteReject, CastAt: now})
	}
	return out
}

func TestRequiredApprovals(t *testing.T) {
	tests := []struct {
		name         string
		contributors int
		threshold    int
		expected     int
	}{
		{"hundred at 75", 100, 75, 75},
		{"three at 51", 3, 51, 2},
		{"three at 100", 3, 100, 3},
		{"one at 1", 1, 1, 1},
		{"ten at 33", 10, 33, 4},
		{"ten at 30", 10, 30, 3},
		{"no contributors", 0, 60, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RequiredApprovals(tt.contributors, tt.threshold))
		})
	}
}

func TestRequiredApprovals_MonotonicInThreshold(t *testing.T) {
	for n := 1; n <= 50; n++ {
		prev := 0
		for threshold := 1; threshold <= 100; threshold++ {
			r := RequiredApprovals(n, threshold)
			assert.GreaterOrEqual(t, r, prev, "n=%d threshold=%d", n, threshold)
			assert.LessOrEqual(t, r, n)
			assert.GreaterOrEqual(t, r, 1)
			prev = r
		}
	}
}

func TestTallyVotes_LatestVoteWins(t *testing.T) {
	t0 := time.Now()
	vs := []model.Vote{
		{Voter: "0x1", Kind: model.VoteReject, CastAt: t0},
		{Voter: "0x2", Kind: model.VoteApprove, CastAt: t0},
		{Voter: "0x1", Kind: model.VoteApprove, CastAt: t0.Add(time.Second)},
	}

	tally := TallyVotes(vs)
	assert.Equal(t, 2, tally.Approve)
	assert.Equal(t, 0, tally.Reject)
}

func TestTallyVotes_SameTimestampKeepsOrder(t *testing.T) {
	t0 := time.Now()
	vs := []model.Vote{
		{Voter: "0x1", Kind: model.VoteApprove, CastAt: t0},
		{Voter: "0x1", Kind: model.VoteReject, CastAt: t0},
	}

	tally := TallyVotes(vs)
	assert.Equal(t, 0, tally.Approve)
	assert.Equal(t, 1, tally.Reject)
}

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name     string
		current  model.RequestStatus
		approve  int
		required int
		reject   int
		expected model.RequestStatus
	}{
		{"74 of 75 stays pending", model.RequestStatusPending, 74, 75, 0, model.RequestStatusPending},
		{"75 of 75 approves", model.RequestStatusPending, 75, 75, 0, model.RequestStatusApproved},
		{"single reject rejects", model.RequestStatusPending, 0, 2, 1, model.RequestStatusRejected},
		{"quorum beats reject", model.RequestStatusPending, 2, 2, 1, model.RequestStatusApproved},
		{"approved is terminal", model.RequestStatusApproved, 0, 2, 3, model.RequestStatusApproved},
		{"rejected is terminal", model.RequestStatusRejected, 5, 2, 0, model.RequestStatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NextStatus(tt.current, tt.approve, tt.required, tt.reject))
		})
	}
}

func TestDeriveRequest_QuorumScenario(t *testing.T) {
	req := model.WithdrawalRequest{ID: "req-1", Status: model.RequestStatusPending, RequiredApprovals: RequiredApprovals(100, 75)}

	derived, tr := DeriveRequest(req, votes(74, 0))
	assert.Equal(t, model.RequestStatusPending, derived.Status)
	assert.Equal(t, TransitionNone, tr)
	assert.Equal(t, 74, derived.ApproveCount)

	derived, tr = DeriveRequest(derived, votes(75, 0))
	assert.Equal(t, model.RequestStatusApproved, derived.Status)
	assert.Equal(t, TransitionApproved, tr)
	assert.Equal(t, 75, derived.ApproveCount)
}

func TestDeriveRequest_SingleReject(t *testing.T) {
	req := model.WithdrawalRequest{ID: "req-1", Status: model.RequestStatusPending, RequiredApprovals: RequiredApprovals(3, 51)}
	require.Equal(t, 2, req.RequiredApprovals)

	derived, tr := DeriveRequest(req, votes(0, 1))
	assert.Equal(t, model.RequestStatusRejected, derived.Status)
	assert.Equal(t, TransitionRejected, tr)
}

func TestDeriveRequest_TerminalFreezesCounts(t *testing.T) {
	req := model.WithdrawalRequest{
		ID:                "req-1",
		Status:            model.RequestStatusApproved,
		RequiredApprovals: 2,
		ApproveCount:      2,
	}

	derived, tr := DeriveRequest(req, votes(2, 4))
	assert.Equal(t, model.RequestStatusApproved, derived.Status)
	assert.Equal(t, TransitionNone, tr)
	assert.Equal(t, 0, derived.RejectCount)
}

func TestDeriveRequest_StatusNeverRegresses(t *testing.T) {
	req := model.WithdrawalRequest{Status: model.RequestStatusPending, RequiredApprovals: 3}
	history := [][]model.Vote{votes(1, 0), votes(3, 0), votes(0, 0), votes(1, 2)}

	reachedTerminal := false
	for _, vs := range history {
		req, _ = DeriveRequest(req, vs)
		if reachedTerminal {
			assert.Equal(t, model.RequestStatusApproved, req.Status)
		}
		reachedTerminal = req.Status.IsTerminal()
	}
	assert.True(t, reachedTerminal)
}

func TestSettleApproval(t *testing.T) {
	tests := []struct {
		name          string
		total         string
		pending       string
		amount        string
		expectTotal   string
		expectPending string
	}{
		{"drains to zero", "100", "100", "100", "0", "0"},
		{"partial", "100", "40", "40", "60", "0"},
		{"floors at zero", "50", "80", "80", "0", "0"},
		{"fractional", "1.5", "0.25", "0.25", "1.25", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fund := model.Fund{
				TotalContributed:   decimal.RequireFromString(tt.total),
				PendingWithdrawals: decimal.RequireFromString(tt.pending),
			}
			req := model.WithdrawalRequest{Amount: decimal.RequireFromString(tt.amount)}

			settled := SettleApproval(fund, req)
			assert.True(t, settled.TotalContributed.Equal(decimal.RequireFromString(tt.expectTotal)), settled.TotalContributed.String())
			assert.True(t, settled.PendingWithdrawals.Equal(decimal.RequireFromString(tt.expectPending)))
			assert.False(t, settled.TotalContributed.IsNegative())
		})
	}
}

func TestReleasePending(t *testing.T) {
	fund := model.Fund{TotalContributed: decimal.NewFromInt(100), PendingWithdrawals: decimal.NewFromInt(30)}
	req := model.WithdrawalRequest{Amount: decimal.NewFromInt(30)}

	released := ReleasePending(fund, req)
	assert.True(t, released.TotalContributed.Equal(decimal.NewFromInt(100)))
	assert.True(t, released.PendingWithdrawals.IsZero())
}

func TestApplyContribution(t *testing.T) {
	fund := model.Fund{TotalContributed: decimal.NewFromInt(10), ContributorCount: 1}
	c := model.Contribution{Amount: decimal.RequireFromString("2.5")}

	fund = ApplyContribution(fund, c, false)
	assert.True(t, fund.TotalContributed.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, 1, fund.ContributorCount)

	fund = ApplyContribution(fund, c, true)
	assert.True(t, fund.TotalContributed.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, 2, fund.ContributorCount)
}

func TestOpenRequest_FreezesQuorum(t *testing.T) {
	fund := model.Fund{ID: "fund-1", ThresholdPercent: 75, ContributorCount: 100, TotalContributed: decimal.NewFromInt(500)}
	intent := model.NewSubmitWithdrawalIntent("fund-1", "0xreq", decimal.NewFromInt(50), "rent")

	req, updated := OpenRequest(fund, intent, "req-1", "0x01", time.Now())
	assert.Equal(t, 75, req.RequiredApprovals)
	assert.Equal(t, model.RequestStatusPending, req.Status)
	assert.True(t, updated.PendingWithdrawals.Equal(decimal.NewFromInt(50)))

	stale, present := IsQuorumStale(req, 120, fund.ThresholdPercent)
	assert.True(t, stale)
	assert.Equal(t, 90, present)

	stale, _ = IsQuorumStale(req, 100, fund.ThresholdPercent)
	assert.False(t, stale)
}

func TestCanWithdraw(t *testing.T) {
	fund := model.Fund{TotalContributed: decimal.NewFromInt(100)}
	assert.True(t, CanWithdraw(fund, decimal.NewFromInt(100)))
	assert.False(t, CanWithdraw(fund, decimal.NewFromInt(150)))
}

func TestApprovalProgress(t *testing.T) {
	assert.Equal(t, 0.5, ApprovalProgress(model.WithdrawalRequest{RequiredApprovals: 4, ApproveCount: 2}))
	assert.Equal(t, 1.0, ApprovalProgress(model.WithdrawalRequest{RequiredApprovals: 2, ApproveCount: 3}))
	assert.Equal(t, 1.0, ApprovalProgress(model.WithdrawalRequest{}))
}

func TestDeriveFund(t *testing.T) {
	fund := model.Fund{ID: "fund-1", ThresholdPercent: 51}
	contributions := []model.Contribution{
		{Contributor: "0x1", Amount: decimal.NewFromInt(60)},
		{Contributor: "0x2", Amount: decimal.NewFromInt(30)},
		{Contributor: "0x1", Amount: decimal.NewFromInt(10)},
	}
	requests := []model.WithdrawalRequest{
		{Amount: decimal.NewFromInt(40), Status: model.RequestStatusApproved},
		{Amount: decimal.NewFromInt(25), Status: model.RequestStatusPending},
		{Amount: decimal.NewFromInt(90), Status: model.RequestStatusRejected},
	}

	derived := DeriveFund(fund, contributions, requests)
	assert.True(t, derived.TotalContributed.Equal(decimal.NewFromInt(60)))
	assert.True(t, derived.PendingWithdrawals.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 2, derived.ContributorCount)

	overdrawn := DeriveFund(fund, contributions[:1], requests[:1])
	assert.True(t, overdrawn.TotalContributed.Equal(decimal.NewFromInt(20)))

	drained := DeriveFund(fund, []model.Contribution{{Contributor: "0x1", Amount: decimal.NewFromInt(100)}},
		[]model.WithdrawalRequest{{Amount: decimal.NewFromInt(100), Status: model.RequestStatusApproved}})
	assert.True(t, drained.TotalContributed.IsZero())
}

func TestDeriveFund_FloorIsKeptInHistory(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }
	fund := model.Fund{ID: "fund-1", ThresholdPercent: 100}

	tests := []struct {
		name          string
		contributions []model.Contribution
		requests      []model.WithdrawalRequest
		wantTotal     int64
	}{
		{
			name: "contribution after overdraw is kept",
			contributions: []model.Contribution{
				{Contributor: "0x1", Amount: decimal.NewFromInt(100), CreatedAt: at(0)},
				{Contributor: "0x1", Amount: decimal.NewFromInt(30), CreatedAt: at(5)},
			},
			requests: []model.WithdrawalRequest{
				{Amount: decimal.NewFromInt(100), Status: model.RequestStatusApproved, UpdatedAt: at(2)},
				{Amount: decimal.NewFromInt(100), Status: model.RequestStatusApproved, UpdatedAt: at(3)},
			},
			wantTotal: 30,
		},
		{
			name: "contribution before overdraw is absorbed",
			contributions: []model.Contribution{
				{Contributor: "0x1", Amount: decimal.NewFromInt(100), CreatedAt: at(0)},
				{Contributor: "0x1", Amount: decimal.NewFromInt(30), CreatedAt: at(1)},
			},
			requests: []model.WithdrawalRequest{
				{Amount: decimal.NewFromInt(100), Status: model.RequestStatusApproved, UpdatedAt: at(2)},
				{Amount: decimal.NewFromInt(100), Status: model.RequestStatusApproved, UpdatedAt: at(3)},
			},
			wantTotal: 0,
		},
		{
			name: "same timestamp credits first",
			contributions: []model.Contribution{
				{Contributor: "0x1", Amount: decimal.NewFromInt(50), CreatedAt: at(1)},
			},
			requests: []model.WithdrawalRequest{
				{Amount: decimal.NewFromInt(20), Status: model.RequestStatusApproved, UpdatedAt: at(1)},
			},
			wantTotal: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			derived := DeriveFund(fund, tt.contributions, tt.requests)
			assert.True(t, derived.TotalContributed.Equal(decimal.NewFromInt(tt.wantTotal)),
				"total %s", derived.TotalContributed)
		})
	}
}
