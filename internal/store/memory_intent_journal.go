package store

import (
	"context"
	"sync"
	"time"

	"github.com/fundquorum/treasury/internal/model"
)

// MemoryIntentJournal implements IntentJournal in process memory
type MemoryIntentJournal struct {
	mu      sync.Mutex
	entries map[string]*JournalEntry
}

// NewMemoryIntentJournal creates an empty journal
func NewMemoryIntentJournal() *MemoryIntentJournal {
	return &MemoryIntentJournal{entries: make(map[string]*JournalEntry)}
}

// Begin claims the intent
func (j *MemoryIntentJournal) Begin(ctx context.Context, intentID string, kind model.IntentKind) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.entries[intentID]; exists {
		return false, nil
	}
	j.entries[intentID] = &JournalEntry{
		IntentID:  intentID,
		Kind:      kind,
		State:     model.IntentSubmitting,
		UpdatedAt: time.Now(),
	}
	return true, nil
}

// Record overwrites the entry
func (j *MemoryIntentJournal) Record(ctx context.Context, entry *JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *entry
	cp.UpdatedAt = time.Now()
	j.entries[entry.IntentID] = &cp
	return nil
}

// Get retrieves a journal entry
func (j *MemoryIntentJournal) Get(ctx context.Context, intentID string) (*JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[intentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// Ping always succeeds
func (j *MemoryIntentJournal) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (j *MemoryIntentJournal) Close() error {
	return nil
}
