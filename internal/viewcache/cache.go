package viewcache

import (
	"sync"

	"github.com/fundquorum/treasury/internal/algorithm"
	"github.com/fundquorum/treasury/internal/model"
)

// ProvisionalPrefix marks ids of entities created optimistically, before the
// ledger assigned a real one
const ProvisionalPrefix = "pending:"

type fundOverlay struct {
	fund    model.Fund
	intents map[string]struct{}
	// contributed is set once an in-flight contribution counted the session
	contributed bool
}

type requestOverlay struct {
	request model.WithdrawalRequest
	intents map[string]struct{}
	ownVote model.VoteKind
}

// Cache is one session's view of funds and requests: authoritative
// snapshots plus an optimistic overlay for the session's in-flight intents.
// An authoritative value always replaces the overlay; the two are never merged.
type Cache struct {
	mu      sync.RWMutex
	account string

	funds    map[string]*model.Fund
	requests map[string]*model.WithdrawalRequest

	fundOverlays    map[string]*fundOverlay
	requestOverlays map[string]*requestOverlay

	// ownVotes holds the session's last known vote per request
	ownVotes    map[string]model.VoteKind
	contributed map[string]bool
}

// New creates an empty cache for the account acting in this session
func New(account string) *Cache {
	return &Cache{
		account:         account,
		funds:           make(map[string]*model.Fund),
		requests:        make(map[string]*model.WithdrawalRequest),
		fundOverlays:    make(map[string]*fundOverlay),
		requestOverlays: make(map[string]*requestOverlay),
		ownVotes:        make(map[string]model.VoteKind),
		contributed:     make(map[string]bool),
	}
}

// Account returns the session's account
func (c *Cache) Account() string {
	return c.account
}

// Adopt stores the authoritative values of a snapshot and drops any overlay
// for the entities it carries
func (c *Cache) Adopt(snapshot *model.Snapshot) {
	if snapshot == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if snapshot.IntentID != "" {
		c.discardLocked(snapshot.IntentID)
	}
	if snapshot.Fund != nil {
		f := *snapshot.Fund
		c.funds[f.ID] = &f
		delete(c.fundOverlays, f.ID)
	}
	if snapshot.Request != nil {
		r := *snapshot.Request
		c.requests[r.ID] = &r
		delete(c.requestOverlays, r.ID)
	}
	if v := snapshot.Vote; v != nil && v.Voter == c.account {
		c.ownVotes[v.RequestID] = v.Kind
	}
	if ct := snapshot.Contribution; ct != nil && ct.Contributor == c.account {
		c.contributed[ct.FundID] = true
	}
}

// ApplyOptimistic merges the provisional effect of intent into the view.
// It returns false when the intent references an entity the cache has not
// seen, in which case nothing changes.
func (c *Cache) ApplyOptimistic(intent model.Intent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := intent.Meta().ID()
	switch i := intent.(type) {
	case *model.CreateFundIntent:
		fund := model.Fund{
			ID:               ProvisionalPrefix + id,
			Name:             i.Name,
			Description:      i.Description,
			Transparency:     i.Transparency,
			ThresholdPercent: i.ThresholdPercent,
			CreatorAddress:   i.Creator,
		}
		c.setFundOverlay(id, fund)
		return true

	case *model.ContributeIntent:
		fund, ok := c.fundLocked(i.FundID)
		if !ok {
			return false
		}
		counted := c.contributed[i.FundID]
		if o, ok := c.fundOverlays[i.FundID]; ok && o.contributed {
			counted = true
		}
		if !counted {
			fund.ContributorCount++
		}
		fund.TotalContributed = fund.TotalContributed.Add(i.Amount)
		c.setFundOverlay(id, fund).contributed = true
		return true

	case *model.SubmitWithdrawalIntent:
		fund, ok := c.fundLocked(i.FundID)
		if !ok {
			return false
		}
		req := model.WithdrawalRequest{
			ID:                ProvisionalPrefix + id,
			FundID:            i.FundID,
			Requester:         i.Requester,
			Amount:            i.Amount,
			Reason:            i.Reason,
			Status:            model.RequestStatusPending,
			RequiredApprovals: algorithm.RequiredApprovals(fund.ContributorCount, fund.ThresholdPercent),
		}
		fund.PendingWithdrawals = fund.PendingWithdrawals.Add(i.Amount)
		c.setFundOverlay(id, fund)
		c.setRequestOverlay(id, req)
		return true

	case *model.CastVoteIntent:
		req, ok := c.requestLocked(i.RequestID)
		if !ok {
			return false
		}
		// only an authoritative terminal status closes the vote
		if auth, ok := c.requests[i.RequestID]; ok && auth.Status.IsTerminal() {
			return false
		}
		prev := c.ownVotes[i.RequestID]
		if o, ok := c.requestOverlays[i.RequestID]; ok && o.ownVote != "" {
			prev = o.ownVote
		}
		switch {
		case prev == model.VoteApprove && req.ApproveCount > 0:
			req.ApproveCount--
		case prev == model.VoteReject && req.RejectCount > 0:
			req.RejectCount--
		}
		if i.Vote == model.VoteApprove {
			req.ApproveCount++
		} else {
			req.RejectCount++
		}
		req.Status = algorithm.NextStatus(model.RequestStatusPending, req.ApproveCount, req.RequiredApprovals, req.RejectCount)
		c.setRequestOverlay(id, req).ownVote = i.Vote
		return true
	}
	return false
}

// Discard drops every overlay the intent contributed to, typically after
// the intent failed
func (c *Cache) Discard(intentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardLocked(intentID)
}

func (c *Cache) discardLocked(intentID string) {
	for id, o := range c.fundOverlays {
		if _, ok := o.intents[intentID]; ok {
			delete(c.fundOverlays, id)
		}
	}
	for id, o := range c.requestOverlays {
		if _, ok := o.intents[intentID]; ok {
			delete(c.requestOverlays, id)
		}
	}
}

// Fund returns the overlay if present, else the authoritative value
func (c *Cache) Fund(id string) (model.Fund, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fundLocked(id)
}

// Request returns the overlay if present, else the authoritative value
func (c *Cache) Request(id string) (model.WithdrawalRequest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requestLocked(id)
}

// Optimistic reports whether the entity is currently shown from an overlay
func (c *Cache) Optimistic(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, fund := c.fundOverlays[id]
	_, req := c.requestOverlays[id]
	return fund || req
}

func (c *Cache) fundLocked(id string) (model.Fund, bool) {
	if o, ok := c.fundOverlays[id]; ok {
		return o.fund, true
	}
	if f, ok := c.funds[id]; ok {
		return *f, true
	}
	return model.Fund{}, false
}

func (c *Cache) requestLocked(id string) (model.WithdrawalRequest, bool) {
	if o, ok := c.requestOverlays[id]; ok {
		return o.request, true
	}
	if r, ok := c.requests[id]; ok {
		return *r, true
	}
	return model.WithdrawalRequest{}, false
}

func (c *Cache) setFundOverlay(intentID string, fund model.Fund) *fundOverlay {
	o, ok := c.fundOverlays[fund.ID]
	if !ok {
		o = &fundOverlay{intents: make(map[string]struct{})}
		c.fundOverlays[fund.ID] = o
	}
	o.fund = fund
	o.intents[intentID] = struct{}{}
	return o
}

func (c *Cache) setRequestOverlay(intentID string, req model.WithdrawalRequest) *requestOverlay {
	o, ok := c.requestOverlays[req.ID]
	if !ok {
		o = &requestOverlay{intents: make(map[string]struct{})}
		c.requestOverlays[req.ID] = o
	}
	o.request = req
	o.intents[intentID] = struct{}{}
	return o
}
