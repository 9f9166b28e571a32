package coaching

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/ratelimit"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/pkg/store"
)

// memAnalyses is an in-memory AnalysisStore.
type memAnalyses struct {
	mu      sync.Mutex
	records []*models.Analysis
	hints   []*models.Hint
}

func (m *memAnalyses) SaveAnalysis(_ context.Context, a *models.Analysis) (*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.MatchID == a.MatchID && existing.UserID == a.UserID {
			return nil, services.ErrAlreadyExists
		}
	}
	if len(a.Suggestions) < services.MinSuggestions || len(a.Suggestions) > services.MaxSuggestions {
		return nil, services.NewValidationError("suggestions", "out of bounds")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.records = append(m.records, a)
	return a, nil
}

func (m *memAnalyses) GetAnalysis(_ context.Context, matchID, userID string) (*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.records {
		if a.MatchID == matchID && a.UserID == userID {
			return a, nil
		}
	}
	return nil, services.ErrNotFound
}

func (m *memAnalyses) forUser(userID string) []*models.Analysis {
	var out []*models.Analysis
	for _, a := range m.records {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

func (m *memAnalyses) History(_ context.Context, userID string, page, pageSize int) (*models.AnalysisPage, error) {
	if page < 1 {
		return nil, services.NewValidationError("page", "must be at least 1")
	}
	if pageSize > services.MaxAnalysisPageSize {
		pageSize = services.MaxAnalysisPageSize
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.forUser(userID)
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := min(start+pageSize, len(all))
	return &models.AnalysisPage{
		Analyses: all[start:end], TotalCount: len(all), Page: page, PageSize: pageSize,
	}, nil
}

func (m *memAnalyses) Timeline(_ context.Context, userID string) ([]*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forUser(userID), nil
}

func (m *memAnalyses) Recent(_ context.Context, userID string, n int) ([]*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.forUser(userID)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (m *memAnalyses) CountForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.forUser(userID)), nil
}

func (m *memAnalyses) SaveHint(_ context.Context, h *models.Hint) (*models.Hint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	m.hints = append(m.hints, h)
	return h, nil
}

func (m *memAnalyses) HintsForMatch(_ context.Context, matchID, userID string) ([]*models.Hint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Hint
	for _, h := range m.hints {
		if h.MatchID == matchID && h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func challenge() *models.Challenge {
	return &models.Challenge{
		ID: "ch-1", Description: "desc",
		Difficulty: models.DifficultyEasy,
		Tags:       []string{"arrays"},
	}
}

func seedAnalyses(t *testing.T, m *memAnalyses, userID string, n int) {
	t.Helper()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := m.SaveAnalysis(context.Background(), &models.Analysis{
			MatchID: fmt.Sprintf("m-%d", i),
			UserID:  userID,
			Complexity: models.ComplexityFinding{
				Time:  []string{"O(n)", "O(n^2)"}[i%2],
				Space: "O(n)",
			},
			Readability: models.ReadabilityFinding{Score: float64(3 + i%5)},
			Approach:    models.ApproachFinding{Summary: "s", Patterns: []string{"iteration"}},
			Suggestions: []string{"a", "b", "c"},
			Bugs: func() []models.BugFinding {
				if i%3 == 0 {
					return []models.BugFinding{{Description: "off by one"}}
				}
				return nil
			}(),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}
}

func TestRequestHintFallbackAndThrottle(t *testing.T) {
	mem := store.NewMemoryStore()
	now := time.Now()
	mem.SetClock(func() time.Time { return now })
	analyses := &memAnalyses{}
	coach := New(analyses, nil, ratelimit.New(mem))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h, err := coach.RequestHint(ctx, "m-1", "u1", 1+i%3, challenge(), "code", "python")
		require.NoError(t, err)
		assert.NotEmpty(t, h.Text)
	}

	// Sixth request within the window is throttled.
	_, err := coach.RequestHint(ctx, "m-1", "u1", 1, challenge(), "code", "python")
	var rle *services.RateLimitedError
	require.ErrorAs(t, err, &rle)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestRequestHintLevelValidation(t *testing.T) {
	coach := New(&memAnalyses{}, nil, nil)
	_, err := coach.RequestHint(context.Background(), "m", "u", 0, challenge(), "", "")
	assert.True(t, services.IsValidationError(err))
	_, err = coach.RequestHint(context.Background(), "m", "u", 4, challenge(), "", "")
	assert.True(t, services.IsValidationError(err))
}

func TestGenerateAnalysisIsIdempotent(t *testing.T) {
	analyses := &memAnalyses{}
	coach := New(analyses, nil, nil)
	ctx := context.Background()

	first, err := coach.GenerateAnalysis(ctx, "m-1", "u1", challenge(),
		"def solve(values):\n    return sorted(values)\n", "python", 2, 3)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(first.Suggestions), 3)
	require.LessOrEqual(t, len(first.Suggestions), 5)

	second, err := coach.GenerateAnalysis(ctx, "m-1", "u1", challenge(), "different code", "python", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-generation returns the stored record")
}

func TestGenerateAnalysisCountsHints(t *testing.T) {
	analyses := &memAnalyses{}
	coach := New(analyses, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := coach.RequestHint(ctx, "m-1", "u1", 1, challenge(), "c", "python")
		require.NoError(t, err)
	}

	a, err := coach.GenerateAnalysis(ctx, "m-1", "u1", challenge(),
		"def solve(values):\n    return values\n", "python", 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, a.HintsUsed)
}

func TestCategorizedSummaryHasExactlyFourCategories(t *testing.T) {
	analyses := &memAnalyses{}
	seedAnalyses(t, analyses, "u1", 6)
	coach := New(analyses, nil, nil)

	summary, err := coach.CategorizedSummary(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summary, 4)
	for _, cat := range models.AnalysisCategories {
		assert.Contains(t, summary, cat)
	}
	assert.Equal(t, 6, summary[models.CategoryReadability].Samples)
	assert.Greater(t, summary[models.CategoryReadability].Average, 0.0)
	assert.NotEmpty(t, summary[models.CategoryTimeComplexity].Observations)
}

func TestTrendsCappedAtTenPerCategory(t *testing.T) {
	analyses := &memAnalyses{}
	seedAnalyses(t, analyses, "u1", 15)
	coach := New(analyses, nil, nil)

	trends, err := coach.Trends(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, trends, 4)
	for cat, points := range trends {
		assert.LessOrEqual(t, len(points), trendWindow, "category %s", cat)
		assert.Len(t, points, 10)
		// Ascending chronological order.
		for i := 1; i < len(points); i++ {
			assert.True(t, !points[i].Timestamp.Before(points[i-1].Timestamp))
		}
	}
}

func TestWeaknessProfileThreshold(t *testing.T) {
	analyses := &memAnalyses{}
	seedAnalyses(t, analyses, "u1", 4)
	coach := New(analyses, nil, nil)

	_, err := coach.WeaknessProfile(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrInsufficientData)

	seedAnalyses(t, analyses, "u2", 5)
	profile, err := coach.WeaknessProfile(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, 5, profile.Analysed)
	assert.LessOrEqual(t, len(profile.TopPatterns), 3)
	assert.NotEmpty(t, profile.TopPatterns)
}

func TestHistoryPagination(t *testing.T) {
	analyses := &memAnalyses{}
	seedAnalyses(t, analyses, "u1", 7)
	coach := New(analyses, nil, nil)

	page, err := coach.History(context.Background(), "u1", 2, 3)
	require.NoError(t, err)
	assert.Len(t, page.Analyses, 3)
	assert.Equal(t, 7, page.TotalCount)
}
