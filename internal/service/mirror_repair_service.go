package service

import (
	"context"
	"sync"
	"time"

	"github.com/fundquorum/treasury/internal/metrics"
	"github.com/fundquorum/treasury/internal/model"
	"github.com/fundquorum/treasury/internal/store"
	"go.uber.org/zap"
)

// RepairItem is a mirror write that failed after the ledger confirmed the
// action. Apply re-runs the whole write and must be idempotent.
type RepairItem struct {
	Entity   string
	EntityID string
	Apply    func(ctx context.Context) error
	// Events are published once Apply succeeds
	Events []model.ChangeEvent
	// OnRepaired runs once after Apply succeeds
	OnRepaired func(ctx context.Context)

	enqueuedAt  time.Time
	attempts    int
	nextAttempt time.Time
}

// MirrorRepairService retries failed mirror writes until they succeed.
// Items are never dropped: the ledger already holds the fact.
type MirrorRepairService struct {
	feed    store.ChangeFeed
	metrics *metrics.Metrics
	logger  *zap.Logger

	items []*RepairItem
	mu    sync.Mutex

	interval       time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	attemptTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// RepairConfig holds repair timing
type RepairConfig struct {
	Interval       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
}

// NewMirrorRepairService creates a new mirror repair service
func NewMirrorRepairService(feed store.ChangeFeed, cfg RepairConfig, m *metrics.Metrics, logger *zap.Logger) *MirrorRepairService {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 5 * time.Second
	}

	return &MirrorRepairService{
		feed:           feed,
		metrics:        m,
		logger:         logger,
		interval:       cfg.Interval,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		attemptTimeout: cfg.AttemptTimeout,
		stopCh:         make(chan struct{}),
	}
}

// Start begins the repair loop
func (r *MirrorRepairService) Start() {
	r.logger.Info("Starting mirror repair service",
		zap.Duration("interval", r.interval),
		zap.Duration("max_backoff", r.maxBackoff))

	ticker := time.NewTicker(r.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				r.RepairDue(context.Background())
			case <-r.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the repair loop. Queued items stay in memory.
func (r *MirrorRepairService) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.logger.Info("Mirror repair service stopped", zap.Int("pending", r.QueueSize()))
	})
}

// Enqueue schedules a failed write for repair
func (r *MirrorRepairService) Enqueue(item *RepairItem) {
	now := time.Now()
	item.enqueuedAt = now
	item.nextAttempt = now.Add(r.initialBackoff)

	r.mu.Lock()
	r.items = append(r.items, item)
	size := len(r.items)
	r.mu.Unlock()

	r.metrics.UpdateRepairQueueSize(size)
	r.logger.Warn("Mirror write queued for repair",
		zap.String("entity", item.Entity),
		zap.String("entity_id", item.EntityID),
		zap.Int("queue_size", size))
}

// RepairDue attempts every item whose backoff has elapsed
func (r *MirrorRepairService) RepairDue(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	due := make([]*RepairItem, 0, len(r.items))
	for _, item := range r.items {
		if !item.nextAttempt.After(now) {
			due = append(due, item)
		}
	}
	r.mu.Unlock()

	successCount := 0
	failedCount := 0
	for _, item := range due {
		if r.attempt(ctx, item) {
			successCount++
		} else {
			failedCount++
		}
	}

	if successCount > 0 || failedCount > 0 {
		r.logger.Info("Mirror repair pass completed",
			zap.Int("repaired", successCount),
			zap.Int("failed", failedCount),
			zap.Int("remaining", r.QueueSize()))
	}
}

// RepairAll attempts every queued item regardless of backoff
func (r *MirrorRepairService) RepairAll(ctx context.Context) int {
	r.mu.Lock()
	all := make([]*RepairItem, len(r.items))
	copy(all, r.items)
	r.mu.Unlock()

	repaired := 0
	for _, item := range all {
		if r.attempt(ctx, item) {
			repaired++
		}
	}
	return repaired
}

func (r *MirrorRepairService) attempt(ctx context.Context, item *RepairItem) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	err := item.Apply(attemptCtx)
	cancel()

	if err != nil {
		r.mu.Lock()
		item.attempts++
		item.nextAttempt = time.Now().Add(r.backoff(item.attempts))
		r.mu.Unlock()

		r.metrics.RecordRepair("failed")
		r.logger.Debug("Mirror repair failed",
			zap.String("entity", item.Entity),
			zap.String("entity_id", item.EntityID),
			zap.Int("attempts", item.attempts),
			zap.Error(err))
		return false
	}

	r.remove(item)
	r.metrics.RecordRepair("success")
	r.logger.Info("Mirror write repaired",
		zap.String("entity", item.Entity),
		zap.String("entity_id", item.EntityID),
		zap.Duration("age", time.Since(item.enqueuedAt)))

	if item.OnRepaired != nil {
		item.OnRepaired(ctx)
	}
	for _, ev := range item.Events {
		if err := r.feed.Publish(ctx, ev); err != nil {
			r.logger.Warn("Failed to publish change after repair",
				zap.String("table", string(ev.Table)),
				zap.String("entity_id", ev.EntityID),
				zap.Error(err))
		}
	}
	return true
}

func (r *MirrorRepairService) backoff(attempts int) time.Duration {
	d := r.initialBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.maxBackoff {
			return r.maxBackoff
		}
	}
	return d
}

func (r *MirrorRepairService) remove(target *RepairItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.items[:0]
	for _, item := range r.items {
		if item != target {
			kept = append(kept, item)
		}
	}
	for i := len(kept); i < len(r.items); i++ {
		r.items[i] = nil
	}
	r.items = kept
	r.metrics.UpdateRepairQueueSize(len(r.items))
}

// QueueSize returns the number of writes awaiting repair
func (r *MirrorRepairService) QueueSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
