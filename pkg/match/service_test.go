package match

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/pkg/store"
)

// fakeMatchStore tracks persistent rows in memory.
type fakeMatchStore struct {
	mu   sync.Mutex
	rows map[string]*models.Match
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{rows: make(map[string]*models.Match)}
}

func (f *fakeMatchStore) CreateMatch(_ context.Context, challengeID, p1, p2 string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &models.Match{
		ID: uuid.New().String(), ChallengeID: challengeID,
		Player1ID: p1, Player2ID: p2,
		Status: models.MatchStatusLobby, CreatedAt: time.Now(),
	}
	f.rows[m.ID] = m
	return m, nil
}

func (f *fakeMatchStore) SetStarted(_ context.Context, id string, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	row.Status = models.MatchStatusActive
	if row.StartedAt == nil {
		row.StartedAt = &startedAt
	}
	return nil
}

func (f *fakeMatchStore) CompleteMatch(_ context.Context, id string, outcome *models.MatchOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.Status.Terminal() {
		return fmt.Errorf("match %s already %s: %w", id, row.Status, services.ErrConflict)
	}
	row.Status = models.MatchStatusCompleted
	row.Player1Score = &outcome.Player1Score
	row.Player2Score = &outcome.Player2Score
	if !outcome.Tie {
		row.WinnerID = &outcome.WinnerID
	}
	completed := outcome.CompletedAt
	row.CompletedAt = &completed
	return nil
}

func (f *fakeMatchStore) AbandonMatch(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[id]
	if row.Status.Terminal() {
		return fmt.Errorf("already terminal: %w", services.ErrConflict)
	}
	row.Status = models.MatchStatusAbandoned
	return nil
}

func (f *fakeMatchStore) GetMatch(_ context.Context, id string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

type fakeChallenges struct{ challenge *models.Challenge }

func (f *fakeChallenges) GetChallenge(context.Context, string) (*models.Challenge, error) {
	return f.challenge, nil
}

// scriptJudge maps code → result and counts invocations.
type scriptJudge struct {
	calls   atomic.Int32
	results map[string]*models.Result
}

func (j *scriptJudge) Judge(_ context.Context, code, _ string, _ *models.Challenge) (*models.Result, error) {
	j.calls.Add(1)
	if r, ok := j.results[code]; ok {
		copied := *r
		return &copied, nil
	}
	return &models.Result{}, nil
}

type fakeUsers struct {
	mu      sync.Mutex
	applied []string // winnerID per call
}

func (f *fakeUsers) ApplyMatchResult(_ context.Context, _, _, winnerID string, _ int) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, winnerID)
	return 1225, 1175, nil
}

type fakeBoard struct {
	mu      sync.Mutex
	updates []string
}

func (f *fakeBoard) Update(_ context.Context, userID string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, userID)
	return nil
}

type recordingEmitter struct {
	mu          sync.Mutex
	starts      []string
	results     []string
	boardAtEmit int // board updates visible when the result event fired
	board       *fakeBoard
}

func (e *recordingEmitter) NotifyMatchStart(state *models.MatchState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts = append(e.starts, state.ID)
}

func (e *recordingEmitter) NotifyMatchResult(matchID string, _ *models.MatchOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, matchID)
	if e.board != nil {
		e.board.mu.Lock()
		e.boardAtEmit = len(e.board.updates)
		e.board.mu.Unlock()
	}
}

func testChallenge() *models.Challenge {
	return &models.Challenge{
		ID:               "ch-1",
		Title:            "Echo",
		Difficulty:       models.DifficultyEasy,
		TimeLimitSeconds: 60,
		StarterCode:      map[string]string{models.LanguageJavaScript: "// start here"},
		TestCases: []models.TestCase{
			{Input: 1, ExpectedOutput: 1, Weight: 1},
			{Input: 2, ExpectedOutput: 2, Weight: 1},
			{Input: 3, ExpectedOutput: 3, Weight: 1},
		},
	}
}

type fixture struct {
	svc     *Service
	rows    *fakeMatchStore
	judge   *scriptJudge
	users   *fakeUsers
	board   *fakeBoard
	emitter *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rows := newFakeMatchStore()
	board := &fakeBoard{}
	emitter := &recordingEmitter{board: board}
	judge := &scriptJudge{results: map[string]*models.Result{
		"wins":  {PassedTests: 3, TotalTests: 3, Correctness: 10, FinalScore: 700},
		"loses": {PassedTests: 1, TotalTests: 3, Correctness: 10.0 / 3, FinalScore: 300},
	}}
	users := &fakeUsers{}
	svc := NewService(store.NewMemoryStore(), rows, &fakeChallenges{challenge: testChallenge()}, judge, users, board, emitter)
	return &fixture{svc: svc, rows: rows, judge: judge, users: users, board: board, emitter: emitter}
}

// lobby creates a match and returns its id.
func (f *fixture) lobby(t *testing.T) string {
	t.Helper()
	state, err := f.svc.CreateLobby(context.Background(), testChallenge(), "p1", "p2")
	require.NoError(t, err)
	return state.ID
}

// active readies both players.
func (f *fixture) active(t *testing.T) string {
	t.Helper()
	id := f.lobby(t)
	_, err := f.svc.SetReady(context.Background(), id, "p1")
	require.NoError(t, err)
	_, err = f.svc.SetReady(context.Background(), id, "p2")
	require.NoError(t, err)
	return id
}

func TestCreateLobbyState(t *testing.T) {
	f := newFixture(t)
	id := f.lobby(t)

	state, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLobby, state.Status)
	assert.Equal(t, "// start here", state.Player1.Code)
	assert.False(t, state.Player1.Ready)
	assert.Nil(t, state.StartedAt)
}

func TestReadyTransitionsOnceBothReady(t *testing.T) {
	f := newFixture(t)
	id := f.lobby(t)
	ctx := context.Background()

	state, err := f.svc.SetReady(ctx, id, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusLobby, state.Status)
	assert.Nil(t, state.StartedAt)

	state, err = f.svc.SetReady(ctx, id, "p2")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusActive, state.Status)
	require.NotNil(t, state.StartedAt)
	started := *state.StartedAt

	// Re-readying is monotonic and never restamps startedAt.
	state, err = f.svc.SetReady(ctx, id, "p1")
	require.NoError(t, err)
	assert.True(t, state.Player1.Ready)
	assert.Equal(t, started.UnixMilli(), state.StartedAt.UnixMilli())

	assert.Equal(t, []string{id}, f.emitter.starts)
}

func TestUpdateCode(t *testing.T) {
	f := newFixture(t)
	id := f.active(t)
	ctx := context.Background()

	err := f.svc.UpdateCode(ctx, id, "p1", "new code", models.CursorPosition{Line: 3, Column: 7}, models.LanguagePython)
	require.NoError(t, err)

	state, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new code", state.Player1.Code)
	assert.Equal(t, 3, state.Player1.Cursor.Line)
	assert.Equal(t, models.LanguagePython, state.Player1.Language)

	err = f.svc.UpdateCode(ctx, id, "stranger", "x", models.CursorPosition{}, "")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSubmitMonotonicAndCompletion(t *testing.T) {
	f := newFixture(t)
	id := f.active(t)
	ctx := context.Background()

	require.NoError(t, f.svc.UpdateCode(ctx, id, "p1", "wins", models.CursorPosition{}, ""))
	require.NoError(t, f.svc.UpdateCode(ctx, id, "p2", "loses", models.CursorPosition{}, ""))

	outcome, err := f.svc.Submit(ctx, id, "p1")
	require.NoError(t, err)
	assert.Nil(t, outcome, "first submission does not complete the match")

	state, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, state.Player1.Submitted)
	firstSubmittedAt := *state.Player1.SubmittedAt

	// Re-submitting before the opponent is a no-op on the timestamp.
	_, err = f.svc.Submit(ctx, id, "p1")
	require.NoError(t, err)
	state, _ = f.svc.Get(ctx, id)
	assert.Equal(t, firstSubmittedAt.UnixMilli(), state.Player1.SubmittedAt.UnixMilli())

	outcome, err = f.svc.Submit(ctx, id, "p2")
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, "p1", outcome.WinnerID)
	assert.False(t, outcome.Tie)
	assert.Equal(t, 700.0, outcome.Player1Score)
	assert.Equal(t, 300.0, outcome.Player2Score)
}

func TestLeaderboardObservableBeforeResultEvent(t *testing.T) {
	f := newFixture(t)
	id := f.active(t)
	ctx := context.Background()

	require.NoError(t, f.svc.UpdateCode(ctx, id, "p1", "wins", models.CursorPosition{}, ""))
	require.NoError(t, f.svc.UpdateCode(ctx, id, "p2", "loses", models.CursorPosition{}, ""))
	_, err := f.svc.Submit(ctx, id, "p1")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, id, "p2")
	require.NoError(t, err)

	assert.Equal(t, []string{id}, f.emitter.results)
	assert.Equal(t, 2, f.emitter.boardAtEmit,
		"both leaderboard updates precede the result emission")
}

func TestCompletionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.active(t)
	ctx := context.Background()

	require.NoError(t, f.svc.UpdateCode(ctx, id, "p1", "wins", models.CursorPosition{}, ""))

	first, err := f.svc.Complete(ctx, id, "")
	require.NoError(t, err)
	callsAfterFirst := f.judge.calls.Load()

	second, err := f.svc.Complete(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, first.WinnerID, second.WinnerID)
	assert.Equal(t, first.Player1Score, second.Player1Score)
	assert.Equal(t, callsAfterFirst, f.judge.calls.Load(), "second completion must not re-judge")

	assert.Len(t, f.emitter.results, 1, "result is emitted exactly once")
	assert.Len(t, f.users.applied, 1)
}

func TestConcurrentCompletionProducesOneOutcome(t *testing.T) {
	f := newFixture(t)
	id := f.active(t)
	ctx := context.Background()
	require.NoError(t, f.svc.UpdateCode(ctx, id, "p1", "wins", models.CursorPosition{}, ""))

	var wg sync.WaitGroup
	outcomes := make([]*models.MatchOutcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := f.svc.Complete(ctx, id, "")
			require.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	require.NotNil(t, outcomes[0])
	require.NotNil(t, outcomes[1])
	assert.Equal(t, outcomes[0].WinnerID, outcomes[1].WinnerID)
	assert.Len(t, f.users.applied, 1, "ratings applied exactly once")
	assert.Len(t, f.emitter.results, 1)
}

func TestLateSubmitAfterCompletionIsConflict(t *testing.T) {
	f := newFixture(t)
	id := f.active(t)
	ctx := context.Background()

	_, err := f.svc.Complete(ctx, id, "Time expired.")
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, id, "p1")
	assert.ErrorIs(t, err, ErrMatchOver)

	err = f.svc.UpdateCode(ctx, id, "p1", "late edit", models.CursorPosition{}, "")
	assert.ErrorIs(t, err, ErrMatchOver)

	// The stored outcome is unchanged.
	row, err := f.rows.GetMatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusCompleted, row.Status)
}

func TestAbandon(t *testing.T) {
	f := newFixture(t)
	id := f.lobby(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Abandon(ctx, id))

	state, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusAbandoned, state.Status)

	assert.ErrorIs(t, f.svc.Abandon(ctx, id), ErrMatchOver)
	_, err = f.svc.SetReady(ctx, id, "p1")
	assert.ErrorIs(t, err, ErrMatchOver)
}

func TestSubmitRequiresActive(t *testing.T) {
	f := newFixture(t)
	id := f.lobby(t)

	_, err := f.svc.Submit(context.Background(), id, "p1")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestStateEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	submitted := now.Add(30 * time.Second)
	state := &models.MatchState{
		ID:          "m-1",
		ChallengeID: "ch-1",
		Player1ID:   "p1",
		Player2ID:   "p2",
		Status:      models.MatchStatusActive,
		Player1: models.PlayerState{
			Code: "code1", Cursor: models.CursorPosition{Line: 1, Column: 2},
			Language: models.LanguagePython, Ready: true, Submitted: true, SubmittedAt: &submitted,
		},
		Player2:   models.PlayerState{Code: "code2", Language: models.LanguageGo},
		StartedAt: &now,
		CreatedAt: now.Add(-time.Minute),
	}

	fields, err := encodeState(state)
	require.NoError(t, err)
	decoded, err := decodeState(fields)
	require.NoError(t, err)

	assert.Equal(t, state.ID, decoded.ID)
	assert.Equal(t, state.Status, decoded.Status)
	assert.Equal(t, state.Player1.Code, decoded.Player1.Code)
	assert.Equal(t, state.Player1.Cursor, decoded.Player1.Cursor)
	assert.True(t, decoded.Player1.Submitted)
	assert.Equal(t, submitted.UnixMilli(), decoded.Player1.SubmittedAt.UnixMilli())
	assert.Equal(t, state.StartedAt.UnixMilli(), decoded.StartedAt.UnixMilli())
	assert.Equal(t, state.CreatedAt.UnixMilli(), decoded.CreatedAt.UnixMilli())
}
