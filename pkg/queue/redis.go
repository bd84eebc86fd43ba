package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
)

const queuePrefix = "zot:queue:" // zot:queue:{secret} - queued entry

// Redis is a Queue stored in Redis. Secrets are claimed with SETNX so two
// processes sharing the instance never hand out the same one.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	random io.Reader
	now    func() time.Time
	logger *zap.Logger
}

func NewRedis(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, ttl: ttl, now: time.Now, logger: logger}
}

func (q *Redis) Enqueue(ctx context.Context, entry *Entry) (string, error) {
	e := *entry
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.now()
	}

	for i := 1; i <= SecretAttempts; i++ {
		secret, err := GenerateSecret(q.random)
		if err != nil {
			return "", err
		}
		e.Secret = secret
		data, err := json.Marshal(&e)
		if err != nil {
			return "", fmt.Errorf("failed to marshal entry: %w", err)
		}
		ok, err := q.rdb.SetNX(ctx, queuePrefix+secret, data, q.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("failed to store entry: %w", err)
		}
		if !ok {
			continue
		}
		if i > 1 {
			q.logger.Debug("found available secret", zap.Int("attempts", i))
		}
		entry.Secret = secret
		return secret, nil
	}
	q.logger.Error("no available secret found", zap.Int("attempts", SecretAttempts))
	return "", fmt.Errorf("%w: secret", zerrors.ErrIDExhausted)
}

func (q *Redis) Pickup(ctx context.Context, secret, hubURL string) ([]*Entry, error) {
	key := queuePrefix + secret
	data, err := q.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		q.logger.Warn("dropping malformed queue entry", zap.String("secret", secret), zap.Error(err))
		q.rdb.Del(ctx, key)
		return nil, nil
	}
	if e.HubURL != hubURL {
		return nil, nil
	}

	n, err := q.rdb.Del(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to remove entry: %w", err)
	}
	if n == 0 {
		// Picked up concurrently.
		return nil, nil
	}
	return []*Entry{&e}, nil
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n := 0
	iter := q.rdb.Scan(ctx, 0, queuePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan queue: %w", err)
	}
	return n, nil
}

// Close is a no-op; the caller owns the redis client.
func (q *Redis) Close() error { return nil }
