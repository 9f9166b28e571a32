package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/store"
)

func seeded(t *testing.T) (*Leaderboard, context.Context) {
	t.Helper()
	lb := New(store.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, lb.Update(ctx, "alice", 1300))
	require.NoError(t, lb.Update(ctx, "bob", 1500))
	require.NoError(t, lb.Update(ctx, "carol", 1100))
	require.NoError(t, lb.Update(ctx, "dave", 1400))
	return lb, ctx
}

func TestTopNDescendingWithRanks(t *testing.T) {
	lb, ctx := seeded(t)

	for _, period := range []models.LeaderboardPeriod{
		models.PeriodDaily, models.PeriodWeekly, models.PeriodAllTime,
	} {
		top, err := lb.TopN(ctx, period, 3)
		require.NoError(t, err)
		require.Len(t, top, 3, "period %s", period)
		assert.Equal(t, models.LeaderboardEntry{Rank: 1, UserID: "bob", Rating: 1500}, top[0])
		assert.Equal(t, models.LeaderboardEntry{Rank: 2, UserID: "dave", Rating: 1400}, top[1])
		assert.Equal(t, models.LeaderboardEntry{Rank: 3, UserID: "alice", Rating: 1300}, top[2])
	}
}

func TestRankLookup(t *testing.T) {
	lb, ctx := seeded(t)

	entry, err := lb.Rank(ctx, models.PeriodAllTime, "carol")
	require.NoError(t, err)
	assert.Equal(t, 4, entry.Rank)
	assert.Equal(t, 1100, entry.Rating)

	_, err = lb.Rank(ctx, models.PeriodAllTime, "nobody")
	assert.ErrorIs(t, err, store.ErrNil)
}

func TestAroundWindow(t *testing.T) {
	lb, ctx := seeded(t)

	window, err := lb.Around(ctx, models.PeriodAllTime, "dave", 1)
	require.NoError(t, err)
	require.Len(t, window, 3)
	assert.Equal(t, "bob", window[0].UserID)
	assert.Equal(t, "dave", window[1].UserID)
	assert.Equal(t, "alice", window[2].UserID)
	assert.Equal(t, 1, window[0].Rank)

	// Top-of-table user clamps the window start.
	window, err = lb.Around(ctx, models.PeriodAllTime, "bob", 2)
	require.NoError(t, err)
	assert.Equal(t, "bob", window[0].UserID)
	assert.Equal(t, 1, window[0].Rank)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	lb, ctx := seeded(t)

	top, err := lb.TopN(ctx, models.PeriodAllTime, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", top[0].UserID)

	// carol overtakes; the cached top list must not survive the update.
	require.NoError(t, lb.Update(ctx, "carol", 2000))
	top, err = lb.TopN(ctx, models.PeriodAllTime, 1)
	require.NoError(t, err)
	assert.Equal(t, "carol", top[0].UserID)
	assert.Equal(t, 2000, top[0].Rating)
}

func TestTopNIsCachedWithinTTL(t *testing.T) {
	mem := store.NewMemoryStore()
	lb := New(mem)
	ctx := context.Background()
	require.NoError(t, lb.Update(ctx, "alice", 1300))

	top, err := lb.TopN(ctx, models.PeriodAllTime, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)

	// Mutate the store behind the leaderboard's back: the cached read wins
	// until the TTL elapses or an Update invalidates.
	require.NoError(t, mem.ZAdd(ctx, "leaderboard:alltime", store.Z{Member: "mallory", Score: 9000}))
	top, err = lb.TopN(ctx, models.PeriodAllTime, 5)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestRemoveDropsAllPeriods(t *testing.T) {
	lb, ctx := seeded(t)
	require.NoError(t, lb.Remove(ctx, "bob"))

	for _, period := range []models.LeaderboardPeriod{
		models.PeriodDaily, models.PeriodWeekly, models.PeriodAllTime,
	} {
		_, err := lb.Rank(ctx, period, "bob")
		assert.ErrorIs(t, err, store.ErrNil, "period %s", period)
	}
}

func TestDailyWindowRollsOver(t *testing.T) {
	mem := store.NewMemoryStore()
	lb := New(mem)
	ctx := context.Background()

	day1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lb.now = func() time.Time { return day1 }
	require.NoError(t, lb.Update(ctx, "alice", 1300))

	// Next day: the daily board starts empty, all-time persists.
	lb.now = func() time.Time { return day1.Add(24 * time.Hour) }
	size, err := lb.Size(ctx, models.PeriodDaily)
	require.NoError(t, err)
	assert.Zero(t, size)

	size, err = lb.Size(ctx, models.PeriodAllTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestUnknownPeriodRejected(t *testing.T) {
	lb, ctx := seeded(t)
	_, err := lb.TopN(ctx, "monthly", 3)
	assert.Error(t, err)
	_, err = lb.Rank(ctx, "monthly", "alice")
	assert.Error(t, err)
}
