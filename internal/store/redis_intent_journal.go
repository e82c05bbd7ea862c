package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const intentKeyPrefix = "intent:"

// RedisIntentJournal implements IntentJournal for Redis
type RedisIntentJournal struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisIntentJournal creates a journal whose entries expire after ttl
func NewRedisIntentJournal(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisIntentJournal {
	return &RedisIntentJournal{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Begin claims the intent with SETNX
func (j *RedisIntentJournal) Begin(ctx context.Context, intentID string, kind model.IntentKind) (bool, error) {
	entry := JournalEntry{
		IntentID:  intentID,
		Kind:      kind,
		State:     model.IntentSubmitting,
		UpdatedAt: time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	ok, err := j.client.SetNX(ctx, intentKeyPrefix+intentID, data, j.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim intent: %w", err)
	}
	return ok, nil
}

// Record overwrites the entry, keeping the original TTL window
func (j *RedisIntentJournal) Record(ctx context.Context, entry *JournalEntry) error {
	entry.UpdatedAt = time.Now()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	return j.client.Set(ctx, intentKeyPrefix+entry.IntentID, data, redis.KeepTTL).Err()
}

// Get retrieves a journal entry
func (j *RedisIntentJournal) Get(ctx context.Context, intentID string) (*JournalEntry, error) {
	data, err := j.client.Get(ctx, intentKeyPrefix+intentID).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entry JournalEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal entry: %w", err)
	}
	return &entry, nil
}

// Ping checks the Redis connection
func (j *RedisIntentJournal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (j *RedisIntentJournal) Close() error {
	return j.client.Close()
}
