package store

import (
	"context"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements Store in-process. It honors the same contract as
// RedisStore for a single process; it is the store used by unit tests and
// by single-node development runs without a Redis server.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	lists   map[string][]string
	zsets   map[string]map[string]float64
	expiry  map[string]time.Time
	closed  bool

	// now is swappable in tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		zsets:   make(map[string]map[string]float64),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test helper.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// expireLocked lazily drops a key whose TTL elapsed. Caller holds mu.
func (s *MemoryStore) expireLocked(key string) {
	if exp, ok := s.expiry[key]; ok && !s.now().Before(exp) {
		s.dropLocked(key)
	}
}

func (s *MemoryStore) dropLocked(key string) {
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.lists, key)
	delete(s.zsets, key)
	delete(s.expiry, key)
}

func (s *MemoryStore) setTTLLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	v, ok := s.strings[key]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	s.setTTLLocked(key, ttl)
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	if _, ok := s.strings[key]; ok {
		return false, nil
	}
	s.strings[key] = value
	s.setTTLLocked(key, ttl)
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.dropLocked(k)
	}
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	v, ok := s.hashes[key][field]
	if !ok {
		return "", ErrNil
	}
	return v, nil
}

func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	s.lists[key] = append(s.lists[key], values...)
	return nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	l := s.lists[key]
	lo, hi, ok := rangeBounds(int64(len(l)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, l[lo:hi+1])
	return out, nil
}

func (s *MemoryStore) LRem(_ context.Context, key string, count int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	l := s.lists[key]
	out := l[:0]
	removed := int64(0)
	for _, v := range l {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	s.lists[key] = out
	return nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, members ...Z) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	zs, ok := s.zsets[key]
	if !ok {
		zs = make(map[string]float64)
		s.zsets[key] = zs
	}
	for _, m := range members {
		zs[m.Member] = m.Score
	}
	return nil
}

// sortedLocked returns the set ascending by (score, member). Caller holds mu.
func (s *MemoryStore) sortedLocked(key string) []Z {
	zs := s.zsets[key]
	out := make([]Z, 0, len(zs))
	for m, sc := range zs {
		out = append(out, Z{Member: m, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out
}

func (s *MemoryStore) ZRangeWithScores(_ context.Context, key string, start, stop int64) ([]Z, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	all := s.sortedLocked(key)
	lo, hi, ok := rangeBounds(int64(len(all)), start, stop)
	if !ok {
		return nil, nil
	}
	return all[lo : hi+1], nil
}

func (s *MemoryStore) ZRevRangeWithScores(_ context.Context, key string, start, stop int64) ([]Z, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	all := s.sortedLocked(key)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	lo, hi, ok := rangeBounds(int64(len(all)), start, stop)
	if !ok {
		return nil, nil
	}
	return all[lo : hi+1], nil
}

func (s *MemoryStore) ZRank(_ context.Context, key, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	for i, z := range s.sortedLocked(key) {
		if z.Member == member {
			return int64(i), nil
		}
	}
	return 0, ErrNil
}

func (s *MemoryStore) ZRevRank(_ context.Context, key, member string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	all := s.sortedLocked(key)
	for i := range all {
		if all[len(all)-1-i].Member == member {
			return int64(i), nil
		}
	}
	return 0, ErrNil
}

func (s *MemoryStore) ZScore(_ context.Context, key, member string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	sc, ok := s.zsets[key][member]
	if !ok {
		return 0, ErrNil
	}
	return sc, nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	return int64(len(s.zsets[key])), nil
}

func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	for _, m := range members {
		delete(s.zsets[key], m)
	}
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key)
	n, _ := strconv.ParseInt(s.strings[key], 10, 64)
	n++
	s.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTTLLocked(key, ttl)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	collect := func(key string) {
		if seen[key] {
			return
		}
		if exp, ok := s.expiry[key]; ok && !s.now().Before(exp) {
			return
		}
		if matched, _ := path.Match(pattern, key); matched {
			seen[key] = true
			out = append(out, key)
		}
	}
	for k := range s.strings {
		collect(k)
	}
	for k := range s.hashes {
		collect(k)
	}
	for k := range s.lists {
		collect(k)
	}
	for k := range s.zsets {
		collect(k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// rangeBounds converts redis-style inclusive start/stop (negative = from
// end) into slice bounds. ok is false when the window is empty.
func rangeBounds(n, start, stop int64) (lo, hi int64, ok bool) {
	if n == 0 {
		return 0, 0, false
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
