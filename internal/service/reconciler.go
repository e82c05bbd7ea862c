package service

import (
	"context"
	"sync"
	"time"

	"github.com/fundquorum/treasury/internal/algorithm"
	"github.com/fundquorum/treasury/internal/metrics"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/store"
	"github.com/fundquorum/treasury/internal/util/workerpool"
	"go.uber.org/zap"
)

// ApprovalFunc is called once for a request whose approval this process
// wrote to the mirror
type ApprovalFunc func(ctx context.Context, fund *model.Fund, req *model.WithdrawalRequest)

// Reconciler turns mirror change events into engine-derived snapshots.
// Event payloads are never trusted: every event triggers a re-read.
type Reconciler struct {
	feed       store.ChangeFeed
	deriver    *mirrorDeriver
	pool       *workerpool.Pool
	hub        *snapshotHub
	onApproved ApprovalFunc
	metrics    *metrics.Metrics
	logger     *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(
	feed store.ChangeFeed,
	deriver *mirrorDeriver,
	pool *workerpool.Pool,
	hub *snapshotHub,
	onApproved ApprovalFunc,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		feed:       feed,
		deriver:    deriver,
		pool:       pool,
		hub:        hub,
		onApproved: onApproved,
		metrics:    m,
		logger:     logger,
	}
}

// Start subscribes to the change feed and dispatches events until ctx is
// done or Stop is called
func (r *Reconciler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	events, err := r.feed.Subscribe(ctx)
	if err != nil {
		cancel()
		return err
	}
	r.cancel = cancel
	r.done = make(chan struct{})

	r.logger.Info("Reconciler started")

	go func() {
		defer close(r.done)
		for event := range events {
			r.metrics.RecordChangeEvent(string(event.Table))
			event := event
			task := workerpool.Task{
				Key: reconcileKey(event),
				Fn: func(ctx context.Context) error {
					return r.Reconcile(ctx, event)
				},
			}
			if err := r.pool.Submit(ctx, task); err != nil {
				r.logger.Debug("Dropping change event",
					zap.String("table", string(event.Table)),
					zap.String("entity_id", event.EntityID),
					zap.Error(err))
			}
		}
	}()
	return nil
}

// Stop cancels the subscription and drains the worker pool
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	if err := r.pool.Stop(5 * time.Second); err != nil {
		r.logger.Warn("Reconciler pool did not drain", zap.Error(err))
	}
	r.logger.Info("Reconciler stopped")
}

// Reconcile re-derives the entity an event points at and broadcasts the
// result
func (r *Reconciler) Reconcile(ctx context.Context, event model.ChangeEvent) error {
	switch event.Table {
	case model.TableVotes, model.TableWithdrawalRequests:
		requestID := event.RequestID
		if requestID == "" {
			requestID = event.EntityID
		}
		req, fund, transition, err := r.deriver.rederiveRequest(ctx, requestID)
		if transition == algorithm.TransitionApproved && r.onApproved != nil {
			r.onApproved(ctx, fund, req)
		}
		if err != nil {
			r.logReconcileFailure(event, err)
			return err
		}
		r.metrics.RecordSnapshotRepublished("withdrawal_request")
		r.hub.Broadcast(&model.Snapshot{Fund: fund, Request: req, DerivedAt: time.Now()})

	case model.TableFunds, model.TableContributions:
		fundID := event.FundID
		if fundID == "" {
			fundID = event.EntityID
		}
		fund, err := r.deriver.rederiveFund(ctx, fundID)
		if err != nil {
			r.logReconcileFailure(event, err)
			return err
		}
		r.metrics.RecordSnapshotRepublished("fund")
		r.hub.Broadcast(&model.Snapshot{Fund: fund, DerivedAt: time.Now()})

	default:
		r.logger.Debug("Ignoring change event for unknown table",
			zap.String("table", string(event.Table)))
	}
	return nil
}

func (r *Reconciler) logReconcileFailure(event model.ChangeEvent, err error) {
	r.logger.Warn("Failed to reconcile change event",
		zap.String("table", string(event.Table)),
		zap.String("entity_id", event.EntityID),
		zap.Error(err))
}

// reconcileKey orders work per request, and per fund otherwise
func reconcileKey(event model.ChangeEvent) string {
	if event.RequestID != "" {
		return lockKeyRequest(event.RequestID)
	}
	if event.FundID != "" {
		return lockKeyFund(event.FundID)
	}
	return string(event.Table) + ":" + event.EntityID
}

// snapshotHub fans snapshots out to subscribers. Slow subscribers miss
// snapshots rather than block the publisher.
type snapshotHub struct {
	mu     sync.RWMutex
	subs   map[int]chan *model.Snapshot
	nextID int
	buffer int
}

func newSnapshotHub(buffer int) *snapshotHub {
	return &snapshotHub{
		subs:   make(map[int]chan *model.Snapshot),
		buffer: buffer,
	}
}

// Subscribe registers a listener that is removed when ctx is done
func (h *snapshotHub) Subscribe(ctx context.Context) <-chan *model.Snapshot {
	ch := make(chan *model.Snapshot, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// Broadcast delivers snapshot to every subscriber without blocking
func (h *snapshotHub) Broadcast(snapshot *model.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Len returns the number of subscribers
func (h *snapshotHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
