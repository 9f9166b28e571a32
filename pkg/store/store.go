// Package store provides the ephemeral keyed state store shared by
// matchmaking, match state, leaderboards, rate limits and chat throttles.
//
// The canonical implementation is Redis-backed (RedisStore); MemoryStore
// offers the same contract in-process for tests and single-node runs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNil is returned when a key or member does not exist.
var ErrNil = errors.New("store: nil value")

// Z pairs a sorted-set member with its score.
type Z struct {
	Member string
	Score  float64
}

// Store is the minimal capability set required by the core. All operations
// are safe under concurrent access from multiple workers in one process
// and — for the Redis implementation — across processes sharing the store.
type Store interface {
	// Plain string values.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error

	// Hash records.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, error)

	// Lists.
	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LRem(ctx context.Context, key string, count int64, value string) error

	// Ordered sets keyed by member, scored by number.
	ZAdd(ctx context.Context, key string, members ...Z) error
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Z, error)
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]Z, error)
	ZRank(ctx context.Context, key, member string) (int64, error)
	ZRevRank(ctx context.Context, key, member string) (int64, error)
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZCard(ctx context.Context, key string) (int64, error)
	ZRem(ctx context.Context, key string, members ...string) error

	// Atomic counter. Reads following an increment observe it.
	Incr(ctx context.Context, key string) (int64, error)

	// Expiry and key discovery.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Keys(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
