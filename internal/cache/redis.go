// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/QuincyvanDeursen/diceonline/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list the lobby activity feed is pushed to.
const DefaultQueueName = "diceonline:activity"

// ConnectRedis opens a client and checks it with a ping.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// ActivityQueue is a FIFO of lobby activity records on a Redis list.
// The API server pushes, the historian pops.
type ActivityQueue struct {
	rdb  redis.UniversalClient
	name string
}

func NewActivityQueue(rdb redis.UniversalClient, name string) *ActivityQueue {
	if name == "" {
		name = DefaultQueueName
	}
	return &ActivityQueue{rdb: rdb, name: name}
}

func (q *ActivityQueue) Name() string { return q.name }

// Push appends one record. It only costs a single round trip.
func (q *ActivityQueue) Push(ctx context.Context, a models.Activity) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

// Pop waits up to timeout for the next record. It returns (nil, nil) when nothing arrived.
func (q *ActivityQueue) Pop(ctx context.Context, timeout time.Duration) (*models.Activity, error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPop reply of length %d", len(res))
	}

	var a models.Activity
	if err := json.Unmarshal([]byte(res[1]), &a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &a, nil
}

// ErrMalformed marks a queue entry that could not be decoded. It has already been removed.
var ErrMalformed = errors.New("malformed activity record")

// Len reports the queue depth.
func (q *ActivityQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
