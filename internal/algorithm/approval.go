package algorithm

import (
	"sort"
	"time"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/shopspring/decimal"
)

// Tally is the vote count of a withdrawal request
type Tally struct {
	Approve int
	Reject  int
}

// Transition describes what a derivation did to a request's status
type Transition int

const (
	// TransitionNone means the status did not change
	TransitionNone Transition = iota
	// TransitionApproved means the request just reached quorum
	TransitionApproved
	// TransitionRejected means the request just received a rejection
	TransitionRejected
)

// RequiredApprovals returns ceil(contributorCount * thresholdPercent / 100)
func RequiredApprovals(contributorCount, thresholdPercent int) int {
	if contributorCount <= 0 || thresholdPercent <= 0 {
		return 0
	}
	return (contributorCount*thresholdPercent + 99) / 100
}

// TallyVotes counts only the latest vote of each voter. Votes are ordered
// by CastAt; equal timestamps keep slice order, so the later element wins.
func TallyVotes(votes []model.Vote) Tally {
	ordered := make([]model.Vote, len(votes))
	copy(ordered, votes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CastAt.Before(ordered[j].CastAt)
	})

	latest := make(map[string]model.VoteKind, len(ordered))
	for _, v := range ordered {
		latest[v.Voter] = v.Kind
	}

	var t Tally
	for _, kind := range latest {
		switch kind {
		case model.VoteApprove:
			t.Approve++
		case model.VoteReject:
			t.Reject++
		}
	}
	return t
}

// NextStatus decides a request's status from its tally.
// Terminal statuses never change. Approval needs full quorum; a single
// reject vote is enough to reject.
func NextStatus(current model.RequestStatus, approveCount, requiredApprovals, rejectCount int) model.RequestStatus {
	if current.IsTerminal() {
		return current
	}
	if approveCount >= requiredApprovals {
		return model.RequestStatusApproved
	}
	if rejectCount > 0 {
		return model.RequestStatusRejected
	}
	return model.RequestStatusPending
}

// DeriveRequest recomputes tally and status of a request from its full vote set
func DeriveRequest(req model.WithdrawalRequest, votes []model.Vote) (model.WithdrawalRequest, Transition) {
	tally := TallyVotes(votes)
	prev := req.Status

	// counts on a terminal request are frozen with its status
	if !prev.IsTerminal() {
		req.ApproveCount = tally.Approve
		req.RejectCount = tally.Reject
	}
	req.Status = NextStatus(prev, tally.Approve, req.RequiredApprovals, tally.Reject)

	if prev == req.Status {
		return req, TransitionNone
	}
	if req.Status == model.RequestStatusApproved {
		return req, TransitionApproved
	}
	return req, TransitionRejected
}

// SettleApproval debits an approved request from its fund. The total is
// floored at zero rather than going negative.
func SettleApproval(fund model.Fund, req model.WithdrawalRequest) model.Fund {
	fund.TotalContributed = floorZero(fund.TotalContributed.Sub(req.Amount))
	fund.PendingWithdrawals = floorZero(fund.PendingWithdrawals.Sub(req.Amount))
	fund.UpdatedAt = time.Now()
	return fund
}

// ReleasePending removes a rejected request's amount from the fund's pending total
func ReleasePending(fund model.Fund, req model.WithdrawalRequest) model.Fund {
	fund.PendingWithdrawals = floorZero(fund.PendingWithdrawals.Sub(req.Amount))
	fund.UpdatedAt = time.Now()
	return fund
}

// ApplyContribution credits a contribution to its fund
func ApplyContribution(fund model.Fund, c model.Contribution, newContributor bool) model.Fund {
	fund.TotalContributed = fund.TotalContributed.Add(c.Amount)
	if newContributor {
		fund.ContributorCount++
	}
	fund.UpdatedAt = time.Now()
	return fund
}

// DeriveFund recomputes a fund's aggregates from its full contribution and
// request history. Contributions and approved withdrawals are replayed in
// time order, an approval settling at its UpdatedAt. The total is floored
// after every settlement like SettleApproval, so an overdraw absorbed by the
// floor is not charged again against later contributions.
func DeriveFund(fund model.Fund, contributions []model.Contribution, requests []model.WithdrawalRequest) model.Fund {
	type movement struct {
		at     time.Time
		amount decimal.Decimal
		debit  bool
	}

	movements := make([]movement, 0, len(contributions)+len(requests))
	contributors := make(map[string]struct{}, len(contributions))
	for _, c := range contributions {
		movements = append(movements, movement{at: c.CreatedAt, amount: c.Amount})
		contributors[c.Contributor] = struct{}{}
	}

	pending := decimal.Zero
	for _, r := range requests {
		switch r.Status {
		case model.RequestStatusApproved:
			movements = append(movements, movement{at: r.UpdatedAt, amount: r.Amount, debit: true})
		case model.RequestStatusPending:
			pending = pending.Add(r.Amount)
		}
	}

	// credits go first on equal timestamps
	sort.SliceStable(movements, func(i, j int) bool {
		if !movements[i].at.Equal(movements[j].at) {
			return movements[i].at.Before(movements[j].at)
		}
		return !movements[i].debit && movements[j].debit
	})

	total := decimal.Zero
	for _, m := range movements {
		if m.debit {
			total = floorZero(total.Sub(m.amount))
			continue
		}
		total = total.Add(m.amount)
	}

	fund.TotalContributed = total
	fund.PendingWithdrawals = pending
	fund.ContributorCount = len(contributors)
	return fund
}

// NewFund builds the snapshot of a freshly created fund
func NewFund(intent *model.CreateFundIntent, id, ledgerRef string, now time.Time) model.Fund {
	return model.Fund{
		ID:                 id,
		LedgerRef:          ledgerRef,
		Name:               intent.Name,
		Description:        intent.Description,
		Transparency:       intent.Transparency,
		ThresholdPercent:   intent.ThresholdPercent,
		TotalContributed:   decimal.Zero,
		PendingWithdrawals: decimal.Zero,
		CreatorAddress:     intent.Creator,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// OpenRequest builds a pending request and freezes its quorum against the
// fund's electorate at this moment
func OpenRequest(fund model.Fund, intent *model.SubmitWithdrawalIntent, id, ledgerRef string, now time.Time) (model.WithdrawalRequest, model.Fund) {
	req := model.WithdrawalRequest{
		ID:                id,
		FundID:            fund.ID,
		LedgerRef:         ledgerRef,
		Requester:         intent.Requester,
		Amount:            intent.Amount,
		Reason:            intent.Reason,
		Status:            model.RequestStatusPending,
		RequiredApprovals: RequiredApprovals(fund.ContributorCount, fund.ThresholdPercent),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	fund.PendingWithdrawals = fund.PendingWithdrawals.Add(intent.Amount)
	fund.UpdatedAt = now
	return req, fund
}

// CanWithdraw reports whether amount fits within the fund's total
func CanWithdraw(fund model.Fund, amount decimal.Decimal) bool {
	return !amount.GreaterThan(fund.TotalContributed)
}

// IsQuorumStale reports whether a request's frozen quorum differs from what
// the fund's present electorate would require. It is informational only;
// the frozen value always decides.
func IsQuorumStale(req model.WithdrawalRequest, presentContributorCount, thresholdPercent int) (stale bool, present int) {
	present = RequiredApprovals(presentContributorCount, thresholdPercent)
	return present != req.RequiredApprovals, present
}

// ApprovalProgress returns approvals as a fraction of the quorum, capped at 1
func ApprovalProgress(req model.WithdrawalRequest) float64 {
	if req.RequiredApprovals <= 0 {
		return 1
	}
	p := float64(req.ApproveCount) / float64(req.RequiredApprovals)
	if p > 1 {
		return 1
	}
	return p
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
