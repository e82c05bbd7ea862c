package service

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/fundquorum/treasury/internal/algorithm"
	"github.com/fundquorum/treasury/internal/errors"
	"github.com/fundquorum/treasury/internal/ledger"
	"github.com/fundquorum/treasury/internal/metrics"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/store"
	"github.com/fundquorum/treasury/internal/util/workerpool"
	"github.com/fundquorum/treasury/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Coordinator drives intents through the ledger and the mirror and hands
// engine-derived snapshots back to callers
type Coordinator struct {
	gateway    ledger.Gateway
	mirror     store.MirrorStore
	feed       store.ChangeFeed
	journal    store.IntentJournal
	repair     *MirrorRepairService
	payouts    PayoutPublisher
	validator  *validation.Validator
	deriver    *mirrorDeriver
	reconciler *Reconciler
	hub        *snapshotHub
	locks      *keyedLock
	config     CoordinatorConfig
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewCoordinator creates a new coordinator. payouts may be nil.
func NewCoordinator(
	gateway ledger.Gateway,
	mirror store.MirrorStore,
	feed store.ChangeFeed,
	journal store.IntentJournal,
	repair *MirrorRepairService,
	payouts PayoutPublisher,
	validator *validation.Validator,
	cfg CoordinatorConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Coordinator {
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.MirrorTimeout == 0 {
		cfg.MirrorTimeout = 5 * time.Second
	}
	if cfg.SubscriberBuffer == 0 {
		cfg.SubscriberBuffer = 64
	}

	deriver := &mirrorDeriver{mirror: mirror, metrics: m, logger: logger}
	hub := newSnapshotHub(cfg.SubscriberBuffer)
	pool := workerpool.New(workerpool.Config{
		Name:       "reconciler",
		MaxWorkers: cfg.ReconcileWorkers,
		QueueSize:  cfg.ReconcileQueue,
		Logger:     logger,
	})

	c := &Coordinator{
		gateway:   gateway,
		mirror:    mirror,
		feed:      feed,
		journal:   journal,
		repair:    repair,
		payouts:   payouts,
		validator: validator,
		deriver:   deriver,
		hub:       hub,
		locks:     newKeyedLock(),
		config:    cfg,
		metrics:   m,
		logger:    logger,
	}
	c.reconciler = NewReconciler(feed, deriver, pool, hub, c.authorizePayout, m, logger)
	return c
}

// Start begins mirror repair and change-feed reconciliation
func (c *Coordinator) Start(ctx context.Context) error {
	c.repair.Start()
	return c.reconciler.Start(ctx)
}

// Stop halts background work
func (c *Coordinator) Stop() {
	c.repair.Stop()
	c.reconciler.Stop()
}

// Apply submits an intent. An intent that already left Drafted is never
// resubmitted: its journaled snapshot is returned when one exists, otherwise
// IntentReplayed.
func (c *Coordinator) Apply(ctx context.Context, intent model.Intent) (*model.Snapshot, error) {
	start := time.Now()
	snapshot, err := c.apply(ctx, intent)
	c.metrics.RecordIntent(string(intent.Kind()), outcome(err), time.Since(start).Seconds())
	return snapshot, err
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(errors.GetCode(err).String())
}

func (c *Coordinator) apply(ctx context.Context, intent model.Intent) (*model.Snapshot, error) {
	if intent.Meta().State() != model.IntentDrafted {
		return c.replay(ctx, intent)
	}

	switch i := intent.(type) {
	case *model.CreateFundIntent:
		return c.createFund(ctx, i)
	case *model.ContributeIntent:
		return c.contribute(ctx, i)
	case *model.SubmitWithdrawalIntent:
		return c.submitWithdrawal(ctx, i)
	case *model.CastVoteIntent:
		return c.castVote(ctx, i)
	default:
		return nil, errors.InvalidInput("intent", "unsupported intent kind "+string(intent.Kind()))
	}
}

func (c *Coordinator) replay(ctx context.Context, intent model.Intent) (*model.Snapshot, error) {
	id := intent.Meta().ID()
	entry, err := c.journal.Get(ctx, id)
	if err == nil && entry.Snapshot != nil &&
		(entry.State == model.IntentConfirmed || entry.State == model.IntentMirrored) {
		c.logger.Info("Returning journaled snapshot for replayed intent",
			zap.String("intent_id", id),
			zap.String("state", string(entry.State)))
		return entry.Snapshot, nil
	}
	if err != nil && !stderrors.Is(err, store.ErrNotFound) {
		c.logger.Warn("Failed to read intent journal",
			zap.String("intent_id", id),
			zap.Error(err))
	}
	return nil, errors.IntentReplayed(id)
}

// begin claims the intent in the journal and moves it to Submitting.
// Once begin succeeds the ledger call is made exactly once.
func (c *Coordinator) begin(ctx context.Context, intent model.Intent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	claimed, err := c.journal.Begin(ctx, intent.Meta().ID(), intent.Kind())
	if err != nil {
		return false, errors.InternalError("failed to journal intent", err)
	}
	if !claimed {
		return false, nil
	}

	if err := intent.Meta().Transition(model.IntentSubmitting); err != nil {
		return false, errors.InternalError("intent state", err)
	}
	return true, nil
}

// ledgerContext survives caller cancellation: a submitted call is tracked
// until it confirms or times out
func (c *Coordinator) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.config.ConfirmTimeout)
}

func (c *Coordinator) callLedger(op string, call func() (ledger.Receipt, error)) (ledger.Receipt, error) {
	start := time.Now()
	receipt, err := call()
	code := ""
	if err != nil {
		code = errors.GetCode(err).String()
	}
	c.metrics.RecordLedgerCall(op, code, time.Since(start).Seconds())
	return receipt, err
}

func (c *Coordinator) fail(ctx context.Context, intent model.Intent, cause error) error {
	meta := intent.Meta()
	_ = meta.Fail(cause.Error())
	c.record(ctx, intent, nil)

	c.logger.Error("Intent failed",
		zap.String("intent_id", meta.ID()),
		zap.String("intent_kind", string(intent.Kind())),
		zap.String("error_code", errors.GetCode(cause).String()),
		zap.Error(cause))
	return cause
}

func (c *Coordinator) confirm(intent model.Intent) {
	if err := intent.Meta().Transition(model.IntentConfirmed); err != nil {
		c.logger.Warn("Unexpected intent transition",
			zap.String("intent_id", intent.Meta().ID()),
			zap.Error(err))
	}
}

func (c *Coordinator) record(ctx context.Context, intent model.Intent, snapshot *model.Snapshot) {
	meta := intent.Meta()
	entry := &store.JournalEntry{
		IntentID:  meta.ID(),
		Kind:      intent.Kind(),
		State:     meta.State(),
		Failure:   meta.Failure(),
		Snapshot:  snapshot,
		UpdatedAt: time.Now(),
	}
	if err := c.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Warn("Failed to record intent",
			zap.String("intent_id", meta.ID()),
			zap.Error(err))
	}
}

// resolveTimeout re-reads ledger facts after an unconfirmed submission and
// reports whether the action committed anyway
func (c *Coordinator) resolveTimeout(
	ctx context.Context,
	intent model.Intent,
	timeoutErr error,
	committed func(ctx context.Context) (bool, error),
) (ledger.SettlementRef, bool) {
	qctx, cancel := c.ledgerContext(ctx)
	defer cancel()

	ok, err := committed(qctx)
	if err != nil {
		c.logger.Warn("Failed to re-query ledger after timeout",
			zap.String("intent_id", intent.Meta().ID()),
			zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}

	ref, _ := errors.DetailOf(timeoutErr, "settlement_ref")
	settlement, _ := ref.(string)
	if settlement == "" {
		settlement = "intent:" + intent.Meta().ID()
	}

	c.logger.Info("Ledger call committed despite confirmation timeout",
		zap.String("intent_id", intent.Meta().ID()),
		zap.String("settlement_ref", settlement))
	return ledger.SettlementRef(settlement), true
}

// persist runs a mirror write. On failure the write is queued for repair and
// the intent stays Confirmed until the repair lands. onMirrored, when set,
// runs after whichever attempt succeeds.
func (c *Coordinator) persist(
	ctx context.Context,
	intent model.Intent,
	entity, entityID string,
	write func(ctx context.Context) error,
	events []model.ChangeEvent,
	onMirrored func(ctx context.Context),
) bool {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.MirrorTimeout)
	defer cancel()

	if err := write(mctx); err != nil {
		werr := errors.MirrorWriteFailed(entity, entityID, err)
		c.metrics.RecordMirrorWriteFailure(entity)
		c.logger.Warn("Mirror write failed, queued for repair",
			zap.String("intent_id", intent.Meta().ID()),
			zap.Error(werr))
		c.repair.Enqueue(&RepairItem{
			Entity:   entity,
			EntityID: entityID,
			Apply:    write,
			Events:   events,
			OnRepaired: func(ctx context.Context) {
				c.markRepaired(ctx, intent)
				if onMirrored != nil {
					onMirrored(ctx)
				}
			},
		})
		return false
	}

	if err := intent.Meta().Transition(model.IntentMirrored); err != nil {
		c.logger.Warn("Unexpected intent transition",
			zap.String("intent_id", intent.Meta().ID()),
			zap.Error(err))
	}
	for _, event := range events {
		if err := c.feed.Publish(mctx, event); err != nil {
			c.logger.Warn("Failed to publish change event",
				zap.String("table", string(event.Table)),
				zap.String("entity_id", event.EntityID),
				zap.Error(err))
		}
	}
	if onMirrored != nil {
		onMirrored(mctx)
	}
	return true
}

// markRepaired moves an intent whose mirror write was repaired to Mirrored
// and re-records its journal entry
func (c *Coordinator) markRepaired(ctx context.Context, intent model.Intent) {
	meta := intent.Meta()
	if err := meta.Transition(model.IntentMirrored); err != nil {
		c.logger.Warn("Unexpected intent transition",
			zap.String("intent_id", meta.ID()),
			zap.Error(err))
		return
	}

	entry, err := c.journal.Get(ctx, meta.ID())
	if err != nil || entry.Snapshot == nil {
		// finish has not recorded yet and will pick up the new state
		return
	}
	snapshot := *entry.Snapshot
	snapshot.State = meta.State()
	c.record(ctx, intent, &snapshot)
}

func (c *Coordinator) finish(ctx context.Context, intent model.Intent, snapshot *model.Snapshot) *model.Snapshot {
	snapshot.IntentID = intent.Meta().ID()
	snapshot.State = intent.Meta().State()
	snapshot.DerivedAt = time.Now()
	c.record(ctx, intent, snapshot)
	c.hub.Broadcast(snapshot)

	c.logger.Info("Intent applied",
		zap.String("intent_id", snapshot.IntentID),
		zap.String("intent_kind", string(intent.Kind())),
		zap.String("state", string(snapshot.State)))
	return snapshot
}

func (c *Coordinator) createFund(ctx context.Context, intent *model.CreateFundIntent) (*model.Snapshot, error) {
	if err := c.validator.ValidateCreateFund(intent); err != nil {
		return nil, err
	}

	claimed, err := c.begin(ctx, intent)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return c.replay(ctx, intent)
	}

	gw := c.gateway.WithAccount(intent.Creator)
	lctx, cancel := c.ledgerContext(ctx)
	defer cancel()

	receipt, err := c.callLedger("createFund", func() (ledger.Receipt, error) {
		return gw.CreateFund(lctx, intent.Name, intent.ThresholdPercent)
	})
	if err != nil {
		// A timed-out creation cannot be matched to a fund ref from facts alone
		return nil, c.fail(ctx, intent, err)
	}
	c.confirm(intent)

	now := time.Now()
	fund := algorithm.NewFund(intent, newEntityID(), string(receipt.FundRef), now)
	events := []model.ChangeEvent{
		{Table: model.TableFunds, EntityID: fund.ID, FundID: fund.ID, At: now},
	}
	stored := fund
	c.persist(ctx, intent, "fund", fund.ID, func(ctx context.Context) error {
		return c.mirror.UpsertFund(ctx, &stored)
	}, events, nil)

	return c.finish(ctx, intent, &model.Snapshot{Fund: &fund}), nil
}

func (c *Coordinator) contribute(ctx context.Context, intent *model.ContributeIntent) (*model.Snapshot, error) {
	if err := c.validator.ValidateContribute(intent); err != nil {
		return nil, err
	}

	fund, err := c.deriver.loadFund(ctx, intent.FundID)
	if err != nil {
		return nil, err
	}

	release, err := c.locks.Lock(ctx, lockKeyFund(fund.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock
	fund, err = c.deriver.loadFund(ctx, intent.FundID)
	if err != nil {
		return nil, err
	}
	existing, err := c.mirror.ListContributions(ctx, fund.ID)
	if err != nil {
		return nil, errors.InternalError("failed to read contributions", err)
	}
	newContributor := !hasContributor(existing, intent.Contributor)

	gw := c.gateway.WithAccount(intent.Contributor)
	ref := ledger.FundRef(fund.LedgerRef)
	before, baselineErr := gw.ReadFundFacts(ctx, ref)

	claimed, err := c.begin(ctx, intent)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return c.replay(ctx, intent)
	}

	lctx, cancel := c.ledgerContext(ctx)
	defer cancel()

	receipt, err := c.callLedger("contribute", func() (ledger.Receipt, error) {
		return gw.Contribute(lctx, ref, intent.Amount)
	})
	if err != nil {
		if !errors.Is(err, errors.ErrCodeLedgerTimeout) || baselineErr != nil {
			return nil, c.fail(ctx, intent, err)
		}
		settlement, ok := c.resolveTimeout(ctx, intent, err, func(qctx context.Context) (bool, error) {
			after, err := gw.ReadFundFacts(qctx, ref)
			if err != nil {
				return false, err
			}
			return after.Balance.Sub(before.Balance).GreaterThanOrEqual(intent.Amount), nil
		})
		if !ok {
			return nil, c.fail(ctx, intent, err)
		}
		receipt = ledger.Receipt{Settlement: settlement, FundRef: ref}
	}
	c.confirm(intent)

	now := time.Now()
	contribution := model.Contribution{
		ID:            newRowID(now),
		FundID:        fund.ID,
		Contributor:   intent.Contributor,
		Amount:        intent.Amount,
		SettlementRef: string(receipt.Settlement),
		CreatedAt:     now,
	}
	derived := algorithm.ApplyContribution(*fund, contribution, newContributor)

	events := []model.ChangeEvent{
		{Table: model.TableContributions, EntityID: contribution.ID, FundID: fund.ID, At: now},
		{Table: model.TableFunds, EntityID: fund.ID, FundID: fund.ID, At: now},
	}
	stored := contribution
	mirrored := c.persist(ctx, intent, "contribution", contribution.ID, func(ctx context.Context) error {
		if _, err := c.mirror.InsertContribution(ctx, &stored); err != nil {
			return err
		}
		_, err := c.deriver.rederiveFund(ctx, stored.FundID)
		return err
	}, events, nil)
	if mirrored {
		if f, err := c.mirror.GetFund(ctx, fund.ID); err == nil {
			derived = *f
		}
	}

	return c.finish(ctx, intent, &model.Snapshot{Fund: &derived, Contribution: &contribution}), nil
}

func (c *Coordinator) submitWithdrawal(ctx context.Context, intent *model.SubmitWithdrawalIntent) (*model.Snapshot, error) {
	fund, err := c.deriver.loadFund(ctx, intent.FundID)
	if err != nil {
		return nil, err
	}
	// Validation reads the fund total, so it follows the snapshot read
	if err := c.validator.ValidateWithdrawal(intent, fund); err != nil {
		return nil, err
	}

	release, err := c.locks.Lock(ctx, lockKeyFund(fund.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	fund, err = c.deriver.loadFund(ctx, intent.FundID)
	if err != nil {
		return nil, err
	}

	claimed, err := c.begin(ctx, intent)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return c.replay(ctx, intent)
	}

	gw := c.gateway.WithAccount(intent.Requester)
	lctx, cancel := c.ledgerContext(ctx)
	defer cancel()

	receipt, err := c.callLedger("submitWithdrawalRequest", func() (ledger.Receipt, error) {
		return gw.SubmitWithdrawal(lctx, ledger.FundRef(fund.LedgerRef), intent.Amount, intent.Reason)
	})
	if err != nil {
		// Like fund creation, a timed-out request has no ref to recover
		return nil, c.fail(ctx, intent, err)
	}
	c.confirm(intent)

	now := time.Now()
	req, derived := algorithm.OpenRequest(*fund, intent, newEntityID(), string(receipt.RequestRef), now)
	req.SettlementRef = string(receipt.Settlement)

	events := []model.ChangeEvent{
		{Table: model.TableWithdrawalRequests, EntityID: req.ID, FundID: fund.ID, RequestID: req.ID, At: now},
		{Table: model.TableFunds, EntityID: fund.ID, FundID: fund.ID, At: now},
	}
	stored := req
	mirrored := c.persist(ctx, intent, "withdrawal_request", req.ID, func(ctx context.Context) error {
		if _, err := c.mirror.UpsertWithdrawalRequest(ctx, &stored); err != nil {
			return err
		}
		_, err := c.deriver.rederiveFund(ctx, stored.FundID)
		return err
	}, events, nil)
	if mirrored {
		if f, err := c.mirror.GetFund(ctx, fund.ID); err == nil {
			derived = *f
		}
	}

	return c.finish(ctx, intent, &model.Snapshot{Fund: &derived, Request: &req}), nil
}

func (c *Coordinator) castVote(ctx context.Context, intent *model.CastVoteIntent) (*model.Snapshot, error) {
	if err := c.validator.ValidateVote(intent); err != nil {
		return nil, err
	}

	req, err := c.deriver.loadRequest(ctx, intent.RequestID)
	if err != nil {
		return nil, err
	}

	release, err := c.locks.Lock(ctx, lockKeyRequest(req.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	// An earlier vote from this session may have finalized the request
	req, err = c.deriver.loadRequest(ctx, intent.RequestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, errors.InvalidInput("request", "request is already "+string(req.Status))
	}
	fund, err := c.deriver.loadFund(ctx, req.FundID)
	if err != nil {
		return nil, err
	}
	votes, err := c.mirror.ListVotes(ctx, req.ID)
	if err != nil {
		return nil, errors.InternalError("failed to read votes", err)
	}

	gw := c.gateway.WithAccount(intent.Voter)
	reqRef := ledger.RequestRef(req.LedgerRef)
	fundRef := ledger.FundRef(fund.LedgerRef)
	before, baselineErr := gw.ReadRequestFacts(ctx, reqRef)

	claimed, err := c.begin(ctx, intent)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return c.replay(ctx, intent)
	}

	op := "approveRequest"
	if intent.Vote == model.VoteReject {
		op = "rejectRequest"
	}

	lctx, cancel := c.ledgerContext(ctx)
	defer cancel()

	present := fund.ContributorCount
	receipt, err := c.callLedger(op, func() (ledger.Receipt, error) {
		return gw.CastVote(lctx, reqRef, intent.Vote)
	})
	if err != nil {
		if !errors.Is(err, errors.ErrCodeLedgerTimeout) || baselineErr != nil {
			return nil, c.fail(ctx, intent, err)
		}
		settlement, ok := c.resolveTimeout(ctx, intent, err, func(qctx context.Context) (bool, error) {
			var after ledger.RequestFacts
			var facts ledger.FundFacts
			g, gctx := errgroup.WithContext(qctx)
			g.Go(func() error {
				var err error
				after, err = gw.ReadRequestFacts(gctx, reqRef)
				return err
			})
			g.Go(func() error {
				var err error
				facts, err = gw.ReadFundFacts(gctx, fundRef)
				return err
			})
			if err := g.Wait(); err != nil {
				return false, err
			}
			present = facts.ContributorCount
			if intent.Vote == model.VoteApprove {
				return after.ApproveCount > before.ApproveCount, nil
			}
			return after.RejectCount > before.RejectCount, nil
		})
		if !ok {
			return nil, c.fail(ctx, intent, err)
		}
		receipt = ledger.Receipt{Settlement: settlement, RequestRef: reqRef}
	}
	c.confirm(intent)

	now := time.Now()
	vote := model.Vote{
		ID:            newRowID(now),
		RequestID:     req.ID,
		Voter:         intent.Voter,
		Kind:          intent.Vote,
		SettlementRef: string(receipt.Settlement),
		CastAt:        now,
	}

	c.deriver.checkQuorum(req, present, fund.ThresholdPercent)

	derivedReq, transition := algorithm.DeriveRequest(*req, append(derefVotes(votes), vote))
	derivedFund := applyTransition(*fund, derivedReq, transition)

	// The fund event goes out even without a local transition: another
	// session's concurrent vote may settle the request in the mirror write.
	events := []model.ChangeEvent{
		{Table: model.TableVotes, EntityID: vote.ID, FundID: fund.ID, RequestID: req.ID, At: now},
		{Table: model.TableWithdrawalRequests, EntityID: req.ID, FundID: fund.ID, RequestID: req.ID, At: now},
		{Table: model.TableFunds, EntityID: fund.ID, FundID: fund.ID, At: now},
	}

	// The mirror re-derivation sees every session's votes, so its transition
	// decides the payout. The local one only stands in while the write is
	// queued for repair.
	settled := &voteOutcome{}
	stored := vote
	mirrored := c.persist(ctx, intent, "vote", vote.ID, func(ctx context.Context) error {
		if err := c.mirror.UpsertVote(ctx, &stored); err != nil {
			return err
		}
		r, f, t, err := c.deriver.rederiveRequest(ctx, stored.RequestID)
		settled.observe(r, f, t)
		return err
	}, events, func(ctx context.Context) {
		if f, r, ok := settled.claimPayout(); ok {
			c.authorizePayout(ctx, f, r)
		}
	})
	if mirrored {
		if r, err := c.mirror.GetWithdrawalRequest(ctx, req.ID); err == nil {
			derivedReq = *r
		}
		if f, err := c.mirror.GetFund(ctx, fund.ID); err == nil {
			derivedFund = *f
		}
	} else {
		settled.fallback(&derivedReq, &derivedFund, transition)
		if f, r, ok := settled.claimPayout(); ok {
			c.authorizePayout(ctx, f, r)
		}
	}

	return c.finish(ctx, intent, &model.Snapshot{Fund: &derivedFund, Request: &derivedReq, Vote: &vote}), nil
}

// voteOutcome holds the transition a vote's mirror write produced across the
// inline attempt and any repair retry, and pays out at most once
type voteOutcome struct {
	mu         sync.Mutex
	transition algorithm.Transition
	request    *model.WithdrawalRequest
	fund       *model.Fund
	paid       bool
}

func (o *voteOutcome) observe(req *model.WithdrawalRequest, fund *model.Fund, t algorithm.Transition) {
	if t == algorithm.TransitionNone || req == nil || fund == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transition, o.request, o.fund = t, req, fund
}

// fallback records the locally derived transition unless the mirror already
// reported one
func (o *voteOutcome) fallback(req *model.WithdrawalRequest, fund *model.Fund, t algorithm.Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.transition != algorithm.TransitionNone || t == algorithm.TransitionNone {
		return
	}
	r, f := *req, *fund
	o.transition, o.request, o.fund = t, &r, &f
}

func (o *voteOutcome) claimPayout() (*model.Fund, *model.WithdrawalRequest, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paid || o.transition != algorithm.TransitionApproved {
		return nil, nil, false
	}
	o.paid = true
	return o.fund, o.request, true
}

// authorizePayout emits the payout event for a request that just reached
// quorum. A failed publish is retried through the repair queue.
func (c *Coordinator) authorizePayout(ctx context.Context, fund *model.Fund, req *model.WithdrawalRequest) {
	if c.payouts == nil {
		return
	}

	payout := NewPayoutAuthorization(fund, req, time.Now())
	publish := func(ctx context.Context) error {
		return c.payouts.PublishPayout(ctx, payout)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.MirrorTimeout)
	defer cancel()

	if err := publish(pctx); err != nil {
		c.metrics.RecordPayout("failed")
		c.logger.Error("Failed to publish payout authorization",
			zap.String("request_id", req.ID),
			zap.String("fund_id", fund.ID),
			zap.Error(err))
		c.repair.Enqueue(&RepairItem{Entity: "payout", EntityID: req.ID, Apply: publish})
		return
	}
	c.metrics.RecordPayout("published")
}

// GetFund reads a fund from the mirror
func (c *Coordinator) GetFund(ctx context.Context, fundID string) (*model.Fund, error) {
	return c.deriver.loadFund(ctx, fundID)
}

// ListFunds searches funds in the mirror
func (c *Coordinator) ListFunds(ctx context.Context, filter store.FundFilter) ([]*model.Fund, error) {
	funds, err := c.mirror.ListFunds(ctx, filter)
	if err != nil {
		return nil, errors.InternalError("failed to list funds", err)
	}
	return funds, nil
}

// ListContributions lists a fund's contributions
func (c *Coordinator) ListContributions(ctx context.Context, fundID string) ([]*model.Contribution, error) {
	if _, err := c.deriver.loadFund(ctx, fundID); err != nil {
		return nil, err
	}
	contributions, err := c.mirror.ListContributions(ctx, fundID)
	if err != nil {
		return nil, errors.InternalError("failed to list contributions", err)
	}
	return contributions, nil
}

// GetRequest reads a request and its votes
func (c *Coordinator) GetRequest(ctx context.Context, requestID string) (*RequestView, error) {
	req, err := c.deriver.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	votes, err := c.mirror.ListVotes(ctx, requestID)
	if err != nil {
		return nil, errors.InternalError("failed to list votes", err)
	}
	return &RequestView{
		Request:  req,
		Votes:    votes,
		Progress: algorithm.ApprovalProgress(*req),
	}, nil
}

// ListRequests lists withdrawal requests in the mirror
func (c *Coordinator) ListRequests(ctx context.Context, filter store.RequestFilter) ([]*model.WithdrawalRequest, error) {
	requests, err := c.mirror.ListWithdrawalRequests(ctx, filter)
	if err != nil {
		return nil, errors.InternalError("failed to list withdrawal requests", err)
	}
	return requests, nil
}

// Subscribe streams snapshots derived from local intents and from change
// events. The channel closes when ctx is done.
func (c *Coordinator) Subscribe(ctx context.Context) <-chan *model.Snapshot {
	return c.hub.Subscribe(ctx)
}
