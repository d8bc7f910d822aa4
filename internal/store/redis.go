// ABOUTME: Redis-backed usage counters for metered features
// ABOUTME: One INCR key per (account, feature, period) expiring at the period end

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisUsageStore implements UsageStore on Redis.
type RedisUsageStore struct {
	client    *redis.Client
	logger    *slog.Logger
	periodEnd func(period string) (time.Time, error)
}

var _ UsageStore = (*RedisUsageStore)(nil)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisUsageStore connects to Redis and verifies the connection.
func NewRedisUsageStore(ctx context.Context, cfg RedisConfig) (*RedisUsageStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	s := NewRedisUsageStoreWithClient(client)
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewRedisUsageStoreWithClient wraps an existing client.
func NewRedisUsageStoreWithClient(client *redis.Client) *RedisUsageStore {
	return &RedisUsageStore{
		client:    client,
		logger:    slog.Default().With("component", "store.redis"),
		periodEnd: monthEnd,
	}
}

func usageKey(accountID, feature, period string) string {
	return "usage:" + accountID + ":" + feature + ":" + period
}

// GetUsage returns the counter value, zero if the key does not exist.
func (s *RedisUsageStore) GetUsage(ctx context.Context, accountID, feature, period string) (int, error) {
	n, err := s.client.Get(ctx, usageKey(accountID, feature, period)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get usage: %w", err)
	}
	return n, nil
}

// IncrementUsage increments the counter and sets its expiry on first use.
func (s *RedisUsageStore) IncrementUsage(ctx context.Context, accountID, feature, period string) (int, error) {
	key := usageKey(accountID, feature, period)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if end, err := s.periodEnd(period); err == nil {
		pipe.ExpireAt(ctx, key, end)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr usage: %w", err)
	}

	n := int(incr.Val())
	s.logger.Debug("incremented usage", "key", key, "count", n)
	return n, nil
}

// reserveScript increments KEYS[1] only while it is below ARGV[1] and returns
// {count, reserved}. ARGV[2] is the expiry as a unix timestamp, or 0 for none.
var reserveScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
  return {n, 0}
end
n = redis.call('INCR', KEYS[1])
if tonumber(ARGV[2]) > 0 then
  redis.call('EXPIREAT', KEYS[1], ARGV[2])
end
return {n, 1}
`)

// releaseScript decrements KEYS[1] unless it is already zero or missing.
var releaseScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n <= 0 then
  return 0
end
return redis.call('DECR', KEYS[1])
`)

// ReserveUsage runs the check and the increment as one Lua script.
func (s *RedisUsageStore) ReserveUsage(ctx context.Context, accountID, feature, period string, limit int) (int, bool, error) {
	key := usageKey(accountID, feature, period)
	var expireAt int64
	if end, err := s.periodEnd(period); err == nil {
		expireAt = end.Unix()
	}

	res, err := reserveScript.Run(ctx, s.client, []string{key}, limit, expireAt).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis reserve usage: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redis reserve usage: unexpected reply %v", res)
	}

	n, reserved := int(res[0]), res[1] == 1
	s.logger.Debug("reserve usage", "key", key, "count", n, "reserved", reserved)
	return n, reserved, nil
}

// ReleaseUsage takes back one reserved use.
func (s *RedisUsageStore) ReleaseUsage(ctx context.Context, accountID, feature, period string) error {
	if err := releaseScript.Run(ctx, s.client, []string{usageKey(accountID, feature, period)}).Err(); err != nil {
		return fmt.Errorf("redis release usage: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisUsageStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisUsageStore) Close() error {
	return s.client.Close()
}

// monthEnd parses a "YYYY-MM" period key and returns the first instant of the next month.
func monthEnd(period string) (time.Time, error) {
	start, err := time.Parse("2006-01", period)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing period %q: %w", period, err)
	}
	return start.AddDate(0, 1, 0), nil
}
