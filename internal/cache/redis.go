package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fintech/fraud-engine/configs"
	"github.com/fintech/fraud-engine/internal/models"
)

// Key prefixes, all scoped by user (the duplicate key embeds the user in its
// signature).
const (
	lastKnownPrefix = "last_known:"
	recentTxPrefix  = "recent_tx:"
	txHashPrefix    = "tx_hash:"
)

// RedisCache is the production BehaviorCache backed by Redis. The sliding
// window is a sorted set scored by transaction timestamp; last-known records
// are JSON values with a TTL; duplicate markers are short-lived string keys.
type RedisCache struct {
	client    *redis.Client
	opTimeout time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg configs.RedisConfig) (*RedisCache, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}

	return &RedisCache{client: client, opTimeout: opTimeout}, nil
}

// opCtx bounds a single cache operation so a slow Redis degrades the affected
// rule instead of hanging the evaluation.
func (c *RedisCache) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

func (c *RedisCache) GetLastKnown(ctx context.Context, userID string) (*models.LastKnownState, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, lastKnownPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last known state: %w", err)
	}

	var state models.LastKnownState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: last known state for user %s: %v", ErrMalformedState, userID, err)
	}
	return &state, nil
}

func (c *RedisCache) SetLastKnown(ctx context.Context, userID string, state models.LastKnownState) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal last known state: %w", err)
	}

	if err := c.client.Set(ctx, lastKnownPrefix+userID, data, LastKnownTTL).Err(); err != nil {
		return fmt.Errorf("failed to set last known state: %w", err)
	}
	return nil
}

func (c *RedisCache) RecordTransaction(ctx context.Context, userID string, timestamp time.Time, txID string) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	key := recentTxPrefix + userID
	score := float64(timestamp.UnixNano()) / float64(time.Second)
	cutoff := float64(time.Now().Add(-RecentWindowTTL).UnixNano()) / float64(time.Second)

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: txID})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatFloat(cutoff, 'f', -1, 64))
	pipe.Expire(ctx, key, RecentWindowTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

func (c *RedisCache) CountInWindow(ctx context.Context, userID string, window time.Duration) (int, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	now := time.Now()
	min := "(" + strconv.FormatFloat(float64(now.Add(-window).UnixNano())/float64(time.Second), 'f', -1, 64)
	max := strconv.FormatFloat(float64(now.UnixNano())/float64(time.Second), 'f', -1, 64)

	count, err := c.client.ZCount(ctx, recentTxPrefix+userID, min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count window entries: %w", err)
	}
	return int(count), nil
}

// CheckAndMarkDuplicate is a read-then-write, not an atomic set-if-absent:
// two simultaneous duplicates can both observe "not a duplicate". This
// matches the accepted weak-consistency contract of the duplicate rule.
func (c *RedisCache) CheckAndMarkDuplicate(ctx context.Context, userID, merchantID string, amount float64, window time.Duration) (bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	key := txHashPrefix + userID + ":" + merchantID + ":" + strconv.FormatFloat(amount, 'f', -1, 64)

	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate signature: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if err := c.client.Set(ctx, key, "1", window).Err(); err != nil {
		return false, fmt.Errorf("failed to mark duplicate signature: %w", err)
	}
	return false, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
