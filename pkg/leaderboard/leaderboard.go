// Package leaderboard maintains the period-windowed rating rankings on
// the ephemeral store's ordered sets, with a derived read cache.
package leaderboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/store"
)

// Period TTLs. The all-time set never expires.
const (
	dailyTTL  = 24 * time.Hour
	weeklyTTL = 7 * 24 * time.Hour
)

// Derived cache lifetimes.
const (
	topCacheTTL    = time.Minute
	searchCacheTTL = 5 * time.Minute
)

// Leaderboard tracks per-period rating rankings.
type Leaderboard struct {
	store store.Store

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	// now is swappable in tests (period keys derive from it).
	now func() time.Time
}

type cacheEntry struct {
	entries []models.LeaderboardEntry
	expires time.Time
}

// New creates a leaderboard over the given store.
func New(st store.Store) *Leaderboard {
	return &Leaderboard{
		store: st,
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// key derives the period's current ordered-set key. Daily and weekly keys
// are date-stamped so a new window starts empty; their TTL lets stale
// windows expire on their own.
func (l *Leaderboard) key(period models.LeaderboardPeriod) string {
	switch period {
	case models.PeriodDaily:
		return "leaderboard:daily:" + l.now().UTC().Format("2006-01-02")
	case models.PeriodWeekly:
		year, week := l.now().UTC().ISOWeek()
		return fmt.Sprintf("leaderboard:weekly:%d-W%02d", year, week)
	default:
		return "leaderboard:alltime"
	}
}

// Update writes the user's rating into every period set and invalidates
// the derived cache.
func (l *Leaderboard) Update(ctx context.Context, userID string, rating int) error {
	member := store.Z{Member: userID, Score: float64(rating)}

	for _, p := range []struct {
		period models.LeaderboardPeriod
		ttl    time.Duration
	}{
		{models.PeriodDaily, dailyTTL},
		{models.PeriodWeekly, weeklyTTL},
		{models.PeriodAllTime, 0},
	} {
		key := l.key(p.period)
		if err := l.store.ZAdd(ctx, key, member); err != nil {
			return fmt.Errorf("updating %s leaderboard: %w", p.period, err)
		}
		if p.ttl > 0 {
			if err := l.store.Expire(ctx, key, p.ttl); err != nil {
				return fmt.Errorf("setting %s leaderboard TTL: %w", p.period, err)
			}
		}
	}

	l.invalidate()
	return nil
}

// Remove drops the user from every period (account deletion).
func (l *Leaderboard) Remove(ctx context.Context, userID string) error {
	for _, period := range []models.LeaderboardPeriod{
		models.PeriodDaily, models.PeriodWeekly, models.PeriodAllTime,
	} {
		if err := l.store.ZRem(ctx, l.key(period), userID); err != nil {
			return fmt.Errorf("removing from %s leaderboard: %w", period, err)
		}
	}
	l.invalidate()
	return nil
}

// TopN returns the highest-rated n users with ranks, through the 60s
// derived cache.
func (l *Leaderboard) TopN(ctx context.Context, period models.LeaderboardPeriod, n int) ([]models.LeaderboardEntry, error) {
	if !models.ValidPeriod(period) {
		return nil, fmt.Errorf("unknown leaderboard period %q", period)
	}
	cacheKey := fmt.Sprintf("top:%s:%d", period, n)
	if entries, ok := l.cached(cacheKey); ok {
		return entries, nil
	}

	zs, err := l.store.ZRevRangeWithScores(ctx, l.key(period), 0, int64(n-1))
	if err != nil {
		return nil, fmt.Errorf("reading %s leaderboard: %w", period, err)
	}
	entries := toEntries(zs, 1)
	l.put(cacheKey, entries, topCacheTTL)
	return entries, nil
}

// Rank returns the user's 1-based global rank and rating for the period.
func (l *Leaderboard) Rank(ctx context.Context, period models.LeaderboardPeriod, userID string) (*models.LeaderboardEntry, error) {
	if !models.ValidPeriod(period) {
		return nil, fmt.Errorf("unknown leaderboard period %q", period)
	}
	key := l.key(period)

	rank, err := l.store.ZRevRank(ctx, key, userID)
	if err != nil {
		return nil, err // store.ErrNil when absent
	}
	score, err := l.store.ZScore(ctx, key, userID)
	if err != nil {
		return nil, err
	}
	return &models.LeaderboardEntry{
		Rank:   int(rank) + 1,
		UserID: userID,
		Rating: int(score),
	}, nil
}

// Around returns the window of entries centered on the user (window
// entries above and below), through the 5-minute search cache.
func (l *Leaderboard) Around(ctx context.Context, period models.LeaderboardPeriod, userID string, window int) ([]models.LeaderboardEntry, error) {
	if !models.ValidPeriod(period) {
		return nil, fmt.Errorf("unknown leaderboard period %q", period)
	}
	cacheKey := fmt.Sprintf("around:%s:%s:%d", period, userID, window)
	if entries, ok := l.cached(cacheKey); ok {
		return entries, nil
	}

	key := l.key(period)
	rank, err := l.store.ZRevRank(ctx, key, userID)
	if err != nil {
		return nil, err
	}

	start := rank - int64(window)
	if start < 0 {
		start = 0
	}
	zs, err := l.store.ZRevRangeWithScores(ctx, key, start, rank+int64(window))
	if err != nil {
		return nil, fmt.Errorf("reading %s leaderboard window: %w", period, err)
	}
	entries := toEntries(zs, int(start)+1)
	l.put(cacheKey, entries, searchCacheTTL)
	return entries, nil
}

// Size returns the member count of a period set.
func (l *Leaderboard) Size(ctx context.Context, period models.LeaderboardPeriod) (int64, error) {
	return l.store.ZCard(ctx, l.key(period))
}

func toEntries(zs []store.Z, firstRank int) []models.LeaderboardEntry {
	entries := make([]models.LeaderboardEntry, len(zs))
	for i, z := range zs {
		entries[i] = models.LeaderboardEntry{
			Rank:   firstRank + i,
			UserID: z.Member,
			Rating: int(z.Score),
		}
	}
	return entries
}

func (l *Leaderboard) cached(key string) ([]models.LeaderboardEntry, bool) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	entry, ok := l.cache[key]
	if !ok || l.now().After(entry.expires) {
		return nil, false
	}
	return entry.entries, true
}

func (l *Leaderboard) put(key string, entries []models.LeaderboardEntry, ttl time.Duration) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	l.cache[key] = cacheEntry{entries: entries, expires: l.now().Add(ttl)}
}

// invalidate drops the whole derived cache; called on any rating update.
func (l *Leaderboard) invalidate() {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	clear(l.cache)
}
