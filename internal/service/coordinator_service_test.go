package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/fundquorum/treasury/internal/errors"
	"github.com/fundquorum/treasury/internal/ledger"
	"github.com/fundquorum/treasury/internal/metrics"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/store"
	"github.com/fundquorum/treasury/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type harness struct {
	coord   *Coordinator
	ledger  *ledger.MemoryGateway
	mirror  *store.MemoryMirrorStore
	feed    *store.MemoryChangeFeed
	journal *store.MemoryIntentJournal
	repair  *MirrorRepairService
	payouts *MemoryPayoutPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())

	h := &harness{
		ledger:  ledger.NewMemoryGateway(),
		mirror:  store.NewMemoryMirrorStore(logger),
		feed:    store.NewMemoryChangeFeed(256),
		journal: store.NewMemoryIntentJournal(),
		payouts: NewMemoryPayoutPublisher(),
	}
	h.repair = NewMirrorRepairService(h.feed, RepairConfig{
		Interval:       time.Hour,
		InitialBackoff: time.Millisecond,
	}, m, logger)
	h.coord = NewCoordinator(h.ledger, h.mirror, h.feed, h.journal, h.repair, h.payouts,
		validation.NewValidator(),
		CoordinatorConfig{
			ConfirmTimeout:   time.Second,
			MirrorTimeout:    time.Second,
			ReconcileWorkers: 2,
		}, m, logger)
	t.Cleanup(h.coord.Stop)
	return h
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *harness) createFund(t *testing.T, creator string, threshold int) *model.Fund {
	t.Helper()
	snap, err := h.coord.Apply(context.Background(),
		model.NewCreateFundIntent(creator, "Roof repair", "", model.TransparencyPublic, threshold))
	require.NoError(t, err)
	require.NotNil(t, snap.Fund)
	return snap.Fund
}

func (h *harness) contribute(t *testing.T, fundID, contributor, value string) *model.Snapshot {
	t.Helper()
	snap, err := h.coord.Apply(context.Background(), model.NewContributeIntent(fundID, contributor, amount(value)))
	require.NoError(t, err)
	return snap
}

func (h *harness) withdraw(t *testing.T, fundID, requester, value string) *model.WithdrawalRequest {
	t.Helper()
	snap, err := h.coord.Apply(context.Background(),
		model.NewSubmitWithdrawalIntent(fundID, requester, amount(value), "contractor invoice"))
	require.NoError(t, err)
	require.NotNil(t, snap.Request)
	return snap.Request
}

func (h *harness) vote(t *testing.T, requestID, voter string, kind model.VoteKind) *model.Snapshot {
	t.Helper()
	snap, err := h.coord.Apply(context.Background(), model.NewCastVoteIntent(requestID, voter, kind))
	require.NoError(t, err)
	return snap
}

// fundWithContributors creates a fund where each member paid share
func (h *harness) fundWithContributors(t *testing.T, threshold int, members []string, share string) *model.Fund {
	t.Helper()
	fund := h.createFund(t, members[0], threshold)
	for _, member := range members {
		h.contribute(t, fund.ID, member, share)
	}
	f, err := h.coord.GetFund(context.Background(), fund.ID)
	require.NoError(t, err)
	return f
}

func members(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("0xmember%02d", i)
	}
	return out
}

func TestCoordinator_CreateFund(t *testing.T) {
	h := newHarness(t)

	intent := model.NewCreateFundIntent("0xalice", "Roof repair", "shared roof", model.TransparencyPublic, 60)
	snap, err := h.coord.Apply(context.Background(), intent)

	require.NoError(t, err)
	assert.Equal(t, model.IntentMirrored, snap.State)
	assert.Equal(t, intent.Meta().ID(), snap.IntentID)
	assert.Equal(t, "1", snap.Fund.LedgerRef)
	assert.True(t, snap.Fund.TotalContributed.IsZero())
	assert.Equal(t, 0, snap.Fund.ContributorCount)

	stored, err := h.mirror.GetFund(context.Background(), snap.Fund.ID)
	require.NoError(t, err)
	assert.Equal(t, "Roof repair", stored.Name)
	assert.Equal(t, 60, stored.ThresholdPercent)
}

func TestCoordinator_CreateFund_InvalidThreshold(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.Apply(context.Background(),
		model.NewCreateFundIntent("0xalice", "Roof repair", "", model.TransparencyPublic, 0))

	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, 0, h.ledger.Calls("createFund"))
}

func TestCoordinator_Contribute(t *testing.T) {
	h := newHarness(t)
	fund := h.createFund(t, "0xalice", 60)

	snap := h.contribute(t, fund.ID, "0xalice", "40")
	assert.Equal(t, model.IntentMirrored, snap.State)
	assert.True(t, snap.Fund.TotalContributed.Equal(amount("40")))
	assert.Equal(t, 1, snap.Fund.ContributorCount)
	require.NotNil(t, snap.Contribution)
	assert.NotEmpty(t, snap.Contribution.SettlementRef)

	snap = h.contribute(t, fund.ID, "0xalice", "10")
	assert.True(t, snap.Fund.TotalContributed.Equal(amount("50")))
	assert.Equal(t, 1, snap.Fund.ContributorCount, "repeat contributor counted once")

	snap = h.contribute(t, fund.ID, "0xbob", "0.000000000000000001")
	assert.True(t, snap.Fund.TotalContributed.Equal(amount("50.000000000000000001")))
	assert.Equal(t, 2, snap.Fund.ContributorCount)
}

func TestCoordinator_Contribute_UnknownFund(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.Apply(context.Background(), model.NewContributeIntent("missing", "0xalice", amount("1")))

	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	assert.Equal(t, 0, h.ledger.Calls("contribute"))
}

func TestCoordinator_Contribute_InvalidAmount(t *testing.T) {
	h := newHarness(t)
	fund := h.createFund(t, "0xalice", 60)

	tests := []struct {
		name   string
		amount string
	}{
		{"zero", "0"},
		{"negative", "-5"},
		{"too many decimals", "0.0000000000000000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.coord.Apply(context.Background(), model.NewContributeIntent(fund.ID, "0xalice", amount(tt.amount)))
			assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
		})
	}
	assert.Equal(t, 0, h.ledger.Calls("contribute"))
}

func TestCoordinator_ReplayedIntentSubmitsOnce(t *testing.T) {
	h := newHarness(t)
	fund := h.createFund(t, "0xalice", 60)

	intent := model.NewContributeIntent(fund.ID, "0xalice", amount("25"))
	first, err := h.coord.Apply(context.Background(), intent)
	require.NoError(t, err)

	second, err := h.coord.Apply(context.Background(), intent)
	require.NoError(t, err)

	assert.Equal(t, 1, h.ledger.Calls("contribute"))
	assert.Equal(t, first.IntentID, second.IntentID)
	assert.True(t, second.Fund.TotalContributed.Equal(amount("25")))

	contributions, err := h.mirror.ListContributions(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.Len(t, contributions, 1)
}

func TestCoordinator_FailedIntentIsNotResubmitted(t *testing.T) {
	h := newHarness(t)
	fund := h.createFund(t, "0xalice", 60)
	h.ledger.SetReachable(false)

	intent := model.NewContributeIntent(fund.ID, "0xalice", amount("25"))
	_, err := h.coord.Apply(context.Background(), intent)
	assert.True(t, errors.Is(err, errors.ErrCodeLedgerUnreachable))
	assert.Equal(t, model.IntentFailed, intent.Meta().State())

	h.ledger.SetReachable(true)
	_, err = h.coord.Apply(context.Background(), intent)
	assert.True(t, errors.Is(err, errors.ErrCodeIntentReplayed))
	assert.Equal(t, 1, h.ledger.Calls("contribute"))
}

func TestCoordinator_ConcurrentApplySameIntent(t *testing.T) {
	h := newHarness(t)
	fund := h.createFund(t, "0xalice", 60)
	intent := model.NewContributeIntent(fund.ID, "0xalice", amount("5"))

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := h.coord.Apply(context.Background(), intent)
			errs <- err
		}()
	}
	for i := 0; i < 4; i++ {
		err := <-errs
		if err != nil {
			assert.True(t, errors.Is(err, errors.ErrCodeIntentReplayed), "unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, h.ledger.Calls("contribute"))
}

func TestCoordinator_CancelledBeforeSubmit(t *testing.T) {
	h := newHarness(t)
	fund := h.createFund(t, "0xalice", 60)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	intent := model.NewContributeIntent(fund.ID, "0xalice", amount("5"))
	_, err := h.coord.Apply(ctx, intent)

	assert.Error(t, err)
	assert.Equal(t, model.IntentDrafted, intent.Meta().State())
	assert.Equal(t, 0, h.ledger.Calls("contribute"))
}

func TestCoordinator_WithdrawalExceedingTotal(t *testing.T) {
	h := newHarness(t)
	fund := h.fundWithContributors(t, 60, []string{"0xalice"}, "100")

	_, err := h.coord.Apply(context.Background(),
		model.NewSubmitWithdrawalIntent(fund.ID, "0xalice", amount("150"), "new roof"))

	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, 0, h.ledger.Calls("submitWithdrawalRequest"))
}

func TestCoordinator_WithdrawalFreezesQuorum(t *testing.T) {
	h := newHarness(t)
	fund := h.fundWithContributors(t, 75, members(4), "25")

	req := h.withdraw(t, fund.ID, "0xmember00", "50")

	assert.Equal(t, model.RequestStatusPending, req.Status)
	assert.Equal(t, 3, req.RequiredApprovals)

	f, err := h.coord.GetFund(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.True(t, f.PendingWithdrawals.Equal(amount("50")))
	assert.True(t, f.TotalContributed.Equal(amount("100")))
}

func TestCoordinator_QuorumReachedAt75Percent(t *testing.T) {
	h := newHarness(t)
	voters := members(4)
	fund := h.fundWithContributors(t, 75, voters, "25")
	req := h.withdraw(t, fund.ID, voters[0], "40")

	snap := h.vote(t, req.ID, voters[0], model.VoteApprove)
	assert.Equal(t, model.RequestStatusPending, snap.Request.Status)
	snap = h.vote(t, req.ID, voters[1], model.VoteApprove)
	assert.Equal(t, model.RequestStatusPending, snap.Request.Status)
	assert.Equal(t, 2, snap.Request.ApproveCount)
	assert.Empty(t, h.payouts.Payouts())

	snap = h.vote(t, req.ID, voters[2], model.VoteApprove)
	assert.Equal(t, model.RequestStatusApproved, snap.Request.Status)
	assert.Equal(t, 3, snap.Request.ApproveCount)
	assert.True(t, snap.Fund.TotalContributed.Equal(amount("60")))
	assert.True(t, snap.Fund.PendingWithdrawals.IsZero())

	payouts := h.payouts.Payouts()
	require.Len(t, payouts, 1)
	assert.Equal(t, req.ID, payouts[0].RequestID)
	assert.True(t, payouts[0].Amount.Equal(amount("40")))

	_, err := h.coord.Apply(context.Background(), model.NewCastVoteIntent(req.ID, voters[3], model.VoteReject))
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
	assert.Equal(t, 3, h.ledger.Calls("approveRequest"))
	assert.Equal(t, 0, h.ledger.Calls("rejectRequest"))
}

func TestCoordinator_ContributionAfterOverdrawIsKept(t *testing.T) {
	h := newHarness(t)
	fund := h.fundWithContributors(t, 100, []string{"0xalice"}, "100")
	first := h.withdraw(t, fund.ID, "0xalice", "100")
	second := h.withdraw(t, fund.ID, "0xalice", "100")

	snap := h.vote(t, first.ID, "0xalice", model.VoteApprove)
	require.Equal(t, model.RequestStatusApproved, snap.Request.Status)
	snap = h.vote(t, second.ID, "0xalice", model.VoteApprove)
	require.Equal(t, model.RequestStatusApproved, snap.Request.Status)
	assert.True(t, snap.Fund.TotalContributed.IsZero())

	time.Sleep(2 * time.Millisecond)
	snap = h.contribute(t, fund.ID, "0xalice", "30")
	assert.True(t, snap.Fund.TotalContributed.Equal(amount("30")), "total %s", snap.Fund.TotalContributed)

	stored, err := h.mirror.GetFund(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalContributed.Equal(amount("30")))

	h.withdraw(t, fund.ID, "0xalice", "30")
}

func TestCoordinator_SingleRejectRejects(t *testing.T) {
	h := newHarness(t)
	voters := members(3)
	fund := h.fundWithContributors(t, 51, voters, "10")
	req := h.withdraw(t, fund.ID, voters[0], "30")
	assert.Equal(t, 2, req.RequiredApprovals)

	h.vote(t, req.ID, voters[0], model.VoteApprove)
	snap := h.vote(t, req.ID, voters[1], model.VoteReject)

	assert.Equal(t, model.RequestStatusRejected, snap.Request.Status)
	assert.True(t, snap.Fund.PendingWithdrawals.IsZero())
	assert.True(t, snap.Fund.TotalContributed.Equal(amount("30")))
	assert.Empty(t, h.payouts.Payouts())
}

func TestCoordinator_ChangedVoteReplacesEarlier(t *testing.T) {
	h := newHarness(t)
	voters := members(4)
	fund := h.fundWithContributors(t, 75, voters, "25")
	req := h.withdraw(t, fund.ID, voters[0], "10")

	h.vote(t, req.ID, voters[0], model.VoteApprove)
	time.Sleep(2 * time.Millisecond)
	snap := h.vote(t, req.ID, voters[0], model.VoteApprove)

	assert.Equal(t, 1, snap.Request.ApproveCount)
}

func TestCoordinator_NonContributorVoteRejectedByLedger(t *testing.T) {
	h := newHarness(t)
	fund := h.fundWithContributors(t, 60, []string{"0xalice"}, "10")
	req := h.withdraw(t, fund.ID, "0xalice", "5")

	intent := model.NewCastVoteIntent(req.ID, "0xmallory", model.VoteApprove)
	_, err := h.coord.Apply(context.Background(), intent)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeLedgerRejected))
	assert.Equal(t, "only contributors can vote", err.Error())
	assert.Equal(t, model.IntentFailed, intent.Meta().State())

	entry, err := h.journal.Get(context.Background(), intent.Meta().ID())
	require.NoError(t, err)
	assert.Equal(t, model.IntentFailed, entry.State)
}

func TestCoordinator_MirrorFailureIsRepaired(t *testing.T) {
	h := newHarness(t)
	fund := h.fundWithContributors(t, 60, []string{"0xalice"}, "100")

	h.mirror.SetWriteError(stderrors.New("connection refused"))
	intent := model.NewContributeIntent(fund.ID, "0xbob", amount("50"))
	snap, err := h.coord.Apply(context.Background(), intent)

	require.NoError(t, err)
	assert.Equal(t, model.IntentConfirmed, snap.State)
	assert.True(t, snap.Fund.TotalContributed.Equal(amount("150")))
	assert.Equal(t, 2, snap.Fund.ContributorCount)
	assert.Equal(t, 1, h.repair.QueueSize())

	stored, err := h.mirror.GetFund(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalContributed.Equal(amount("100")))

	h.mirror.SetWriteError(nil)
	assert.Equal(t, 1, h.repair.RepairAll(context.Background()))
	assert.Equal(t, 0, h.repair.QueueSize())

	stored, err = h.mirror.GetFund(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalContributed.Equal(amount("150")))
	assert.Equal(t, 2, stored.ContributorCount)

	assert.Equal(t, model.IntentMirrored, intent.Meta().State())
	entry, err := h.journal.Get(context.Background(), intent.Meta().ID())
	require.NoError(t, err)
	assert.Equal(t, model.IntentMirrored, entry.State)
	require.NotNil(t, entry.Snapshot)
	assert.Equal(t, model.IntentMirrored, entry.Snapshot.State)
}

func TestCoordinator_RepairedVotePaysOnce(t *testing.T) {
	h := newHarness(t)
	voters := members(2)
	fund := h.fundWithContributors(t, 100, voters, "50")
	req := h.withdraw(t, fund.ID, voters[0], "30")
	h.vote(t, req.ID, voters[0], model.VoteApprove)

	h.mirror.SetWriteError(stderrors.New("connection refused"))
	intent := model.NewCastVoteIntent(req.ID, voters[1], model.VoteApprove)
	snap, err := h.coord.Apply(context.Background(), intent)

	require.NoError(t, err)
	assert.Equal(t, model.IntentConfirmed, snap.State)
	assert.Equal(t, model.RequestStatusApproved, snap.Request.Status)
	require.Len(t, h.payouts.Payouts(), 1)

	h.mirror.SetWriteError(nil)
	assert.Equal(t, 1, h.repair.RepairAll(context.Background()))

	stored, err := h.mirror.GetWithdrawalRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusApproved, stored.Status)
	assert.Len(t, h.payouts.Payouts(), 1)
	assert.Equal(t, model.IntentMirrored, intent.Meta().State())
}

// newPeer builds a second coordinator sharing the ledger, mirror, feed and
// payout stream with h, like another session's process would
func newPeer(t *testing.T, h *harness) *Coordinator {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	repair := NewMirrorRepairService(h.feed, RepairConfig{Interval: time.Hour}, m, logger)
	peer := NewCoordinator(h.ledger, h.mirror, h.feed, store.NewMemoryIntentJournal(), repair, h.payouts,
		validation.NewValidator(),
		CoordinatorConfig{
			ConfirmTimeout:   time.Second,
			MirrorTimeout:    time.Second,
			ReconcileWorkers: 2,
		}, m, logger)
	t.Cleanup(peer.Stop)
	return peer
}

func TestCoordinator_ConcurrentFinalVotesAcrossSessionsPayOnce(t *testing.T) {
	for run := 0; run < 3; run++ {
		t.Run(fmt.Sprintf("run_%d", run), func(t *testing.T) {
			h := newHarness(t)
			peer := newPeer(t, h)
			fund := h.fundWithContributors(t, 100, []string{"0xa", "0xb"}, "10")
			req := h.withdraw(t, fund.ID, "0xa", "15")
			require.Equal(t, 2, req.RequiredApprovals)

			h.ledger.SetLatency(50 * time.Millisecond)

			var g errgroup.Group
			g.Go(func() error {
				_, err := h.coord.Apply(context.Background(), model.NewCastVoteIntent(req.ID, "0xa", model.VoteApprove))
				return err
			})
			g.Go(func() error {
				_, err := peer.Apply(context.Background(), model.NewCastVoteIntent(req.ID, "0xb", model.VoteApprove))
				return err
			})
			require.NoError(t, g.Wait())

			stored, err := h.mirror.GetWithdrawalRequest(context.Background(), req.ID)
			require.NoError(t, err)
			assert.Equal(t, model.RequestStatusApproved, stored.Status)
			assert.Equal(t, 2, stored.ApproveCount)

			payouts := h.payouts.Payouts()
			require.Len(t, payouts, 1)
			assert.Equal(t, req.ID, payouts[0].RequestID)

			f, err := h.mirror.GetFund(context.Background(), fund.ID)
			require.NoError(t, err)
			assert.True(t, f.TotalContributed.Equal(amount("5")))
		})
	}
}

func TestCoordinator_TimeoutThatCommitted(t *testing.T) {
	h := newHarness(t)
	fund := h.createFund(t, "0xalice", 60)

	h.ledger.InjectFault(ledger.Fault{
		Op:     "contribute",
		Err:    errors.LedgerTimeout("contribute", "0xfeed"),
		Commit: true,
	})
	intent := model.NewContributeIntent(fund.ID, "0xalice", amount("20"))
	snap, err := h.coord.Apply(context.Background(), intent)

	require.NoError(t, err)
	assert.Equal(t, "0xfeed", snap.Contribution.SettlementRef)
	assert.True(t, snap.Fund.TotalContributed.Equal(amount("20")))
	assert.Equal(t, model.IntentMirrored, intent.Meta().State())
}

func TestCoordinator_TimeoutThatDidNotCommit(t *testing.T) {
	h := newHarness(t)
	fund := h.createFund(t, "0xalice", 60)

	h.ledger.InjectFault(ledger.Fault{
		Op:  "contribute",
		Err: errors.LedgerTimeout("contribute", "0xfeed"),
	})
	intent := model.NewContributeIntent(fund.ID, "0xalice", amount("20"))
	_, err := h.coord.Apply(context.Background(), intent)

	assert.True(t, errors.Is(err, errors.ErrCodeLedgerTimeout))
	assert.Equal(t, model.IntentFailed, intent.Meta().State())

	contributions, err := h.mirror.ListContributions(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.Empty(t, contributions)
}

func TestCoordinator_VoteTimeoutThatCommitted(t *testing.T) {
	h := newHarness(t)
	voters := members(2)
	fund := h.fundWithContributors(t, 100, voters, "10")
	req := h.withdraw(t, fund.ID, voters[0], "5")

	h.ledger.InjectFault(ledger.Fault{
		Op:     "approveRequest",
		Err:    errors.LedgerTimeout("approveRequest", ""),
		Commit: true,
	})
	intent := model.NewCastVoteIntent(req.ID, voters[0], model.VoteApprove)
	snap, err := h.coord.Apply(context.Background(), intent)

	require.NoError(t, err)
	assert.Equal(t, "intent:"+intent.Meta().ID(), snap.Vote.SettlementRef)
	assert.Equal(t, 1, snap.Request.ApproveCount)
}

func TestCoordinator_ListFundsAndRequests(t *testing.T) {
	h := newHarness(t)
	fund := h.fundWithContributors(t, 60, []string{"0xalice"}, "100")
	h.createFund(t, "0xbob", 60)
	req := h.withdraw(t, fund.ID, "0xalice", "10")

	funds, err := h.coord.ListFunds(context.Background(), store.FundFilter{Creator: "0xalice"})
	require.NoError(t, err)
	require.Len(t, funds, 1)
	assert.Equal(t, fund.ID, funds[0].ID)

	requests, err := h.coord.ListRequests(context.Background(), store.RequestFilter{FundID: fund.ID})
	require.NoError(t, err)
	require.Len(t, requests, 1)

	view, err := h.coord.GetRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, view.Request.ID)
	assert.Empty(t, view.Votes)
	assert.Equal(t, 0.0, view.Progress)

	_, err = h.coord.GetRequest(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	contributions, err := h.coord.ListContributions(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.Len(t, contributions, 1)
}

func TestCoordinator_SubscribeReceivesOwnSnapshots(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := h.coord.Subscribe(ctx)
	fund := h.createFund(t, "0xalice", 60)

	select {
	case snap := <-updates:
		require.NotNil(t, snap.Fund)
		assert.Equal(t, fund.ID, snap.Fund.ID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}
