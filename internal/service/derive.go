package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/fundquorum/treasury/internal/algorithm"
	"github.com/fundquorum/treasury/internal/errors"
	"github.com/fundquorum/treasury/internal/metrics"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/store"
	"go.uber.org/zap"
)

// mirrorDeriver recomputes mirror aggregates from full row sets and writes
// back whatever drifted
type mirrorDeriver struct {
	mirror  store.MirrorStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func (d *mirrorDeriver) loadFund(ctx context.Context, fundID string) (*model.Fund, error) {
	fund, err := d.mirror.GetFund(ctx, fundID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.NotFound("fund", fundID)
	}
	if err != nil {
		return nil, errors.InternalError("failed to read fund", err)
	}
	return fund, nil
}

func (d *mirrorDeriver) loadRequest(ctx context.Context, requestID string) (*model.WithdrawalRequest, error) {
	req, err := d.mirror.GetWithdrawalRequest(ctx, requestID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.NotFound("withdrawal_request", requestID)
	}
	if err != nil {
		return nil, errors.InternalError("failed to read withdrawal request", err)
	}
	return req, nil
}

// rederiveFund recomputes a fund from its contributions and requests
func (d *mirrorDeriver) rederiveFund(ctx context.Context, fundID string) (*model.Fund, error) {
	fund, err := d.loadFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	contributions, err := d.mirror.ListContributions(ctx, fundID)
	if err != nil {
		return nil, err
	}
	requests, err := d.mirror.ListWithdrawalRequests(ctx, store.RequestFilter{FundID: fundID})
	if err != nil {
		return nil, err
	}

	derived := algorithm.DeriveFund(*fund, derefContributions(contributions), derefRequests(requests))
	if fundDrifted(fund, &derived) {
		derived.UpdatedAt = time.Now()
		if err := d.mirror.UpsertFund(ctx, &derived); err != nil {
			return nil, err
		}
	}
	return &derived, nil
}

// rederiveRequest recomputes a request's tally and status from its full vote
// set. A transition to a terminal status also re-derives the fund. The
// transition is only reported by the caller whose write moved the stored row
// out of pending; a concurrent deriver that lost the race sees none. It is
// still reported when the fund re-derivation fails afterwards.
func (d *mirrorDeriver) rederiveRequest(ctx context.Context, requestID string) (*model.WithdrawalRequest, *model.Fund, algorithm.Transition, error) {
	req, err := d.loadRequest(ctx, requestID)
	if err != nil {
		return nil, nil, algorithm.TransitionNone, err
	}
	votes, err := d.mirror.ListVotes(ctx, requestID)
	if err != nil {
		return nil, nil, algorithm.TransitionNone, err
	}
	fund, err := d.loadFund(ctx, req.FundID)
	if err != nil {
		return nil, nil, algorithm.TransitionNone, err
	}

	d.checkQuorum(req, fund.ContributorCount, fund.ThresholdPercent)

	derived, transition := algorithm.DeriveRequest(*req, derefVotes(votes))
	if requestDrifted(req, &derived) {
		derived.UpdatedAt = time.Now()
		written, err := d.mirror.UpsertWithdrawalRequest(ctx, &derived)
		if err != nil {
			return nil, nil, algorithm.TransitionNone, err
		}
		if !written {
			transition = algorithm.TransitionNone
			if stored, err := d.loadRequest(ctx, requestID); err == nil {
				derived = *stored
			}
		}
	}

	if transition != algorithm.TransitionNone {
		derivedFund, err := d.rederiveFund(ctx, req.FundID)
		if err != nil {
			return &derived, fund, transition, err
		}
		fund = derivedFund
	}
	return &derived, fund, transition, nil
}

// checkQuorum logs when a request's frozen quorum no longer matches the
// fund's electorate. The frozen value keeps deciding.
func (d *mirrorDeriver) checkQuorum(req *model.WithdrawalRequest, contributorCount, thresholdPercent int) {
	if req.Status.IsTerminal() {
		return
	}
	stale, present := algorithm.IsQuorumStale(*req, contributorCount, thresholdPercent)
	if !stale {
		return
	}
	d.metrics.RecordStaleQuorum()
	d.logger.Info("Stale quorum observed",
		zap.String("request_id", req.ID),
		zap.String("fund_id", req.FundID),
		zap.Error(errors.StaleQuorum(req.ID, req.RequiredApprovals, present)))
}

func fundDrifted(stored, derived *model.Fund) bool {
	return !stored.TotalContributed.Equal(derived.TotalContributed) ||
		!stored.PendingWithdrawals.Equal(derived.PendingWithdrawals) ||
		stored.ContributorCount != derived.ContributorCount
}

func requestDrifted(stored, derived *model.WithdrawalRequest) bool {
	return stored.Status != derived.Status ||
		stored.ApproveCount != derived.ApproveCount ||
		stored.RejectCount != derived.RejectCount
}

func applyTransition(fund model.Fund, req model.WithdrawalRequest, t algorithm.Transition) model.Fund {
	switch t {
	case algorithm.TransitionApproved:
		return algorithm.SettleApproval(fund, req)
	case algorithm.TransitionRejected:
		return algorithm.ReleasePending(fund, req)
	default:
		return fund
	}
}

func derefContributions(in []*model.Contribution) []model.Contribution {
	out := make([]model.Contribution, 0, len(in))
	for _, c := range in {
		out = append(out, *c)
	}
	return out
}

func derefRequests(in []*model.WithdrawalRequest) []model.WithdrawalRequest {
	out := make([]model.WithdrawalRequest, 0, len(in))
	for _, r := range in {
		out = append(out, *r)
	}
	return out
}

func derefVotes(in []*model.Vote) []model.Vote {
	out := make([]model.Vote, 0, len(in))
	for _, v := range in {
		out = append(out, *v)
	}
	return out
}

func hasContributor(contributions []*model.Contribution, address string) bool {
	for _, c := range contributions {
		if c.Contributor == address {
			return true
		}
	}
	return false
}
