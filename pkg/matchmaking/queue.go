// Package matchmaking implements the partitioned waiting queues and the
// periodic pairing processor.
package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/store"
)

// Entry is one queued player.
type Entry struct {
	UserID     string `json:"user_id"`
	Rating     int    `json:"rating"`
	EnqueuedAt int64  `json:"enqueued_at"` // ms
}

// Partition identifies one (difficulty, language) bucket.
type Partition struct {
	Difficulty models.Difficulty
	Language   string
}

func (p Partition) key() string {
	return fmt.Sprintf("mmqueue:%s:%s", p.Difficulty, p.Language)
}

// queueLanguages are the accepted language filters ("any" included).
var queueLanguages = []string{
	"any",
	models.LanguageJavaScript,
	models.LanguagePython,
	models.LanguageGo,
}

// queueDifficulties are the accepted difficulty filters.
var queueDifficulties = []models.Difficulty{
	models.DifficultyAny,
	models.DifficultyEasy,
	models.DifficultyMedium,
	models.DifficultyHard,
	models.DifficultyExpert,
}

// AllPartitions enumerates the fixed partition set the processor iterates.
func AllPartitions() []Partition {
	out := make([]Partition, 0, len(queueDifficulties)*len(queueLanguages))
	for _, d := range queueDifficulties {
		for _, l := range queueLanguages {
			out = append(out, Partition{Difficulty: d, Language: l})
		}
	}
	return out
}

// ValidPartition checks a requested filter pair.
func ValidPartition(p Partition) bool {
	okD, okL := false, false
	for _, d := range queueDifficulties {
		if d == p.Difficulty {
			okD = true
			break
		}
	}
	for _, l := range queueLanguages {
		if l == p.Language {
			okL = true
			break
		}
	}
	return okD && okL
}

// Queue manages queue entries across partitions. Entries are owned by the
// pairing processor between enqueue and pair-removal.
type Queue struct {
	store store.Store

	// now is swappable in tests.
	now func() time.Time
}

// NewQueue creates a matchmaking queue over the given store.
func NewQueue(st store.Store) *Queue {
	return &Queue{store: st, now: time.Now}
}

// Enqueue inserts the user into exactly one partition, removing them from
// every partition first so a user never waits in two buckets at once.
// It returns the advisory estimated wait in seconds: max(5, position×2).
func (q *Queue) Enqueue(ctx context.Context, p Partition, userID string, rating int) (int, error) {
	if !ValidPartition(p) {
		return 0, fmt.Errorf("invalid queue partition %s/%s", p.Difficulty, p.Language)
	}
	if err := q.RemoveUser(ctx, userID); err != nil {
		return 0, err
	}

	entry := Entry{
		UserID:     userID,
		Rating:     rating,
		EnqueuedAt: q.now().UnixMilli(),
	}
	member, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encoding queue entry: %w", err)
	}
	if err := q.store.ZAdd(ctx, p.key(), store.Z{
		Member: string(member),
		Score:  float64(entry.EnqueuedAt),
	}); err != nil {
		return 0, fmt.Errorf("enqueueing user: %w", err)
	}

	card, err := q.store.ZCard(ctx, p.key())
	if err != nil {
		return 0, fmt.Errorf("reading queue depth: %w", err)
	}
	estimate := int(card) * 2
	if estimate < 5 {
		estimate = 5
	}
	return estimate, nil
}

// RemoveUser deletes the user's entry from every partition.
func (q *Queue) RemoveUser(ctx context.Context, userID string) error {
	for _, p := range AllPartitions() {
		entries, raw, err := q.entries(ctx, p)
		if err != nil {
			return err
		}
		for i, e := range entries {
			if e.UserID == userID {
				if err := q.store.ZRem(ctx, p.key(), raw[i]); err != nil {
					return fmt.Errorf("removing queue entry: %w", err)
				}
			}
		}
	}
	return nil
}

// Entries returns a partition's entries in FIFO order (ascending enqueue
// time).
func (q *Queue) Entries(ctx context.Context, p Partition) ([]Entry, error) {
	entries, _, err := q.entries(ctx, p)
	return entries, err
}

// removePair deletes both members of an emitted pair.
func (q *Queue) removePair(ctx context.Context, p Partition, a, b Entry) error {
	rawA, err := json.Marshal(a)
	if err != nil {
		return err
	}
	rawB, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return q.store.ZRem(ctx, p.key(), string(rawA), string(rawB))
}

func (q *Queue) entries(ctx context.Context, p Partition) ([]Entry, []string, error) {
	zs, err := q.store.ZRangeWithScores(ctx, p.key(), 0, -1)
	if err != nil {
		return nil, nil, fmt.Errorf("reading partition %s: %w", p.key(), err)
	}
	entries := make([]Entry, 0, len(zs))
	raw := make([]string, 0, len(zs))
	for _, z := range zs {
		var e Entry
		if err := json.Unmarshal([]byte(z.Member), &e); err != nil {
			slog.Warn("Dropping undecodable queue entry", "partition", p.key(), "error", err)
			_ = q.store.ZRem(ctx, p.key(), z.Member)
			continue
		}
		entries = append(entries, e)
		raw = append(raw, z.Member)
	}
	return entries, raw, nil
}
