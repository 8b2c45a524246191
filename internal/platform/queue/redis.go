package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"zhicuoti/internal/common"
	"zhicuoti/internal/domain/model"
	"zhicuoti/internal/platform/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func Connect(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	log.Info().Str("addr", cfg.Addr).Msg("connected to Redis")
	return rdb, nil
}

// Delete the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker hands out SET NX locks that expire after ttl.
type Locker struct {
	rdb  *redis.Client
	ttl  time.Duration
	poll time.Duration
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl, poll: 50 * time.Millisecond}
}

// TryAcquire makes one attempt. It returns common.ErrLockNotHeld when somebody else holds key.
func (l *Locker) TryAcquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, common.ErrLockNotHeld
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}

// Acquire retries until the lock is free, ttl elapses or ctx is done.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	deadline := time.Now().Add(l.ttl)
	for {
		release, err := l.TryAcquire(ctx, key)
		if !errors.Is(err, common.ErrLockNotHeld) {
			return release, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// CleanupQueue is a FIFO of storage cleanup jobs: LPUSH in, BRPOP out.
type CleanupQueue struct {
	rdb  *redis.Client
	name string
}

func NewCleanupQueue(rdb *redis.Client, name string) *CleanupQueue {
	return &CleanupQueue{rdb: rdb, name: name}
}

func (q *CleanupQueue) Name() string { return q.name }

func (q *CleanupQueue) Enqueue(ctx context.Context, job model.CleanupJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal cleanup job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to push cleanup job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue blocks for up to timeout. A nil job with a nil error means the queue stayed empty.
func (q *CleanupQueue) Dequeue(ctx context.Context, timeout time.Duration) (*model.CleanupJob, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	// res is [queueName, value]
	if len(res) < 2 || res[1] == "" {
		return nil, nil
	}
	var job model.CleanupJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("malformed cleanup job %q: %w", res[1], err)
	}
	return &job, nil
}
