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

const changeChannelPrefix = "mirror:"

var changeTables = []model.ChangeTable{
	model.TableFunds,
	model.TableContributions,
	model.TableWithdrawalRequests,
	model.TableVotes,
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(host string, port int, password string, db int) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisChangeFeed implements ChangeFeed over Redis pub/sub, one channel per table
type RedisChangeFeed struct {
	client *redis.Client
	buffer int
	logger *zap.Logger
}

// NewRedisChangeFeed creates a change feed on an existing client
func NewRedisChangeFeed(client *redis.Client, buffer int, logger *zap.Logger) *RedisChangeFeed {
	if buffer <= 0 {
		buffer = 256
	}
	return &RedisChangeFeed{
		client: client,
		buffer: buffer,
		logger: logger,
	}
}

// ChannelFor returns the pub/sub channel for a table
func ChannelFor(table model.ChangeTable) string {
	return changeChannelPrefix + string(table)
}

// Publish announces a changed row
func (f *RedisChangeFeed) Publish(ctx context.Context, event model.ChangeEvent) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := f.client.Publish(ctx, ChannelFor(event.Table), data).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscribe listens on every table channel until ctx is cancelled
func (f *RedisChangeFeed) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	channels := make([]string, 0, len(changeTables))
	for _, t := range changeTables {
		channels = append(channels, ChannelFor(t))
	}

	pubsub := f.client.Subscribe(ctx, channels...)

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	f.logger.Info("Subscribed to mirror change channels", zap.Strings("channels", channels))

	out := make(chan model.ChangeEvent, f.buffer)
	go f.listen(ctx, pubsub, out)

	return out, nil
}

func (f *RedisChangeFeed) listen(ctx context.Context, pubsub *redis.PubSub, out chan<- model.ChangeEvent) {
	defer close(out)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event model.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				f.logger.Warn("Dropping malformed change event",
					zap.String("channel", msg.Channel),
					zap.Error(err))
				continue
			}

			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Ping checks the Redis connection
func (f *RedisChangeFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (f *RedisChangeFeed) Close() error {
	return f.client.Close()
}
