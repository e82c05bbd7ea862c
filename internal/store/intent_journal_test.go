package store

import (
	"context"
	"testing"
	"time"

	"github.com/fundquorum/treasury/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIntentJournal(t *testing.T) {
	journals := map[string]func(t *testing.T) IntentJournal{
		"memory": func(t *testing.T) IntentJournal { return NewMemoryIntentJournal() },
		"redis": func(t *testing.T) IntentJournal {
			return NewRedisIntentJournal(newTestRedis(t), time.Hour, zap.NewNop())
		},
	}

	for name, build := range journals {
		t.Run(name, func(t *testing.T) {
			j := build(t)
			ctx := context.Background()

			_, err := j.Get(ctx, "i1")
			assert.ErrorIs(t, err, ErrNotFound)

			first, err := j.Begin(ctx, "i1", model.IntentCastVote)
			require.NoError(t, err)
			assert.True(t, first)

			second, err := j.Begin(ctx, "i1", model.IntentCastVote)
			require.NoError(t, err)
			assert.False(t, second)

			snap := &model.Snapshot{IntentID: "i1", State: model.IntentConfirmed}
			require.NoError(t, j.Record(ctx, &JournalEntry{
				IntentID: "i1",
				Kind:     model.IntentCastVote,
				State:    model.IntentConfirmed,
				Snapshot: snap,
			}))

			entry, err := j.Get(ctx, "i1")
			require.NoError(t, err)
			assert.Equal(t, model.IntentConfirmed, entry.State)
			require.NotNil(t, entry.Snapshot)
			assert.Equal(t, "i1", entry.Snapshot.IntentID)
			assert.NoError(t, j.Ping(ctx))
		})
	}
}
