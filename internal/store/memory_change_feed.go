package store

import (
	"context"
	"sync"
	"time"

	"github.com/fundquorum/treasury/internal/model"
)

// MemoryChangeFeed implements ChangeFeed in process. Slow subscribers miss
// events once their buffer is full; events are only re-read signals.
type MemoryChangeFeed struct {
	mu     sync.Mutex
	subs   map[int]chan model.ChangeEvent
	nextID int
	buffer int
}

// NewMemoryChangeFeed creates an in-process change feed
func NewMemoryChangeFeed(buffer int) *MemoryChangeFeed {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryChangeFeed{
		subs:   make(map[int]chan model.ChangeEvent),
		buffer: buffer,
	}
}

// Publish delivers event to every subscriber
func (f *MemoryChangeFeed) Publish(ctx context.Context, event model.ChangeEvent) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx is cancelled
func (f *MemoryChangeFeed) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan model.ChangeEvent, f.buffer)
	f.subs[id] = ch

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
	}()

	return ch, nil
}

// Ping always succeeds
func (f *MemoryChangeFeed) Ping(ctx context.Context) error {
	return nil
}

// Close ends every subscription
func (f *MemoryChangeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
	return nil
}
