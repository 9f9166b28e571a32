package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreStrings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNil)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	ok, err := s.SetNX(ctx, "k", "other", 0)
	require.NoError(t, err)
	assert.False(t, ok, "SetNX must not overwrite an existing key")

	ok, err = s.SetNX(ctx, "lock", "holder", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Del(ctx, "k", "lock"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNil)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "ephemeral", "v", 10*time.Second))

	v, err := s.Get(ctx, "ephemeral")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	// Advance past the TTL; the key must be gone.
	s.SetClock(func() time.Time { return now.Add(11 * time.Second) })
	_, err = s.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, ErrNil)
}

func TestMemoryStoreHashes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, s.HSet(ctx, "h", map[string]string{"b": "3"}))

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, all)

	v, err := s.HGet(ctx, "h", "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = s.HGet(ctx, "h", "zzz")
	assert.ErrorIs(t, err, ErrNil)
}

func TestMemoryStoreLists(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RPush(ctx, "l", "a", "b", "c", "b"))

	all, err := s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "b"}, all)

	head, err := s.LRange(ctx, "l", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, head)

	require.NoError(t, s.LRem(ctx, "l", 0, "b"))
	all, err = s.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, all)
}

func TestMemoryStoreOrderedSets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.ZAdd(ctx, "z",
		Z{Member: "alice", Score: 1200},
		Z{Member: "bob", Score: 1350},
		Z{Member: "carol", Score: 1100},
	))

	asc, err := s.ZRangeWithScores(ctx, "z", 0, -1)
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, "carol", asc[0].Member)
	assert.Equal(t, "bob", asc[2].Member)

	desc, err := s.ZRevRangeWithScores(ctx, "z", 0, 1)
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "bob", desc[0].Member)
	assert.Equal(t, float64(1350), desc[0].Score)

	rank, err := s.ZRevRank(ctx, "z", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	score, err := s.ZScore(ctx, "z", "carol")
	require.NoError(t, err)
	assert.Equal(t, float64(1100), score)

	card, err := s.ZCard(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	require.NoError(t, s.ZRem(ctx, "z", "bob"))
	_, err = s.ZScore(ctx, "z", "bob")
	assert.ErrorIs(t, err, ErrNil)

	// Updating a member's score re-ranks it.
	require.NoError(t, s.ZAdd(ctx, "z", Z{Member: "carol", Score: 1500}))
	top, err := s.ZRevRangeWithScores(ctx, "z", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "carol", top[0].Member)
}

func TestMemoryStoreIncrIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := s.Incr(ctx, "counter")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	v, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d", goroutines*perGoroutine), v)
}

func TestMemoryStoreKeysMatching(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "match:1", "a", 0))
	require.NoError(t, s.HSet(ctx, "match:2", map[string]string{"f": "v"}))
	require.NoError(t, s.Set(ctx, "queue:easy", "b", 0))

	keys, err := s.Keys(ctx, "match:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"match:1", "match:2"}, keys)
}

func TestRangeBounds(t *testing.T) {
	cases := []struct {
		n, start, stop int64
		lo, hi         int64
		ok             bool
	}{
		{5, 0, -1, 0, 4, true},
		{5, 1, 2, 1, 2, true},
		{5, -2, -1, 3, 4, true},
		{5, 3, 1, 0, 0, false},
		{0, 0, -1, 0, 0, false},
		{5, 10, 20, 0, 0, false},
		{5, 0, 100, 0, 4, true},
	}
	for _, c := range cases {
		lo, hi, ok := rangeBounds(c.n, c.start, c.stop)
		assert.Equal(t, c.ok, ok, "n=%d start=%d stop=%d", c.n, c.start, c.stop)
		if ok {
			assert.Equal(t, c.lo, lo)
			assert.Equal(t, c.hi, hi)
		}
	}
}
