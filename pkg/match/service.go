package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeclash-io/codeclash/pkg/judging"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/services"
	"github.com/codeclash-io/codeclash/pkg/store"
)

var (
	// ErrNotFound is returned when no ephemeral state exists for a match.
	ErrNotFound = errors.New("match not found")
	// ErrNotParticipant is returned for users outside the match.
	ErrNotParticipant = errors.New("user is not a participant")
	// ErrMatchOver is returned for mutations on terminal matches.
	ErrMatchOver = errors.New("match already completed or abandoned")
	// ErrNotActive is returned for submissions outside the active phase.
	ErrNotActive = errors.New("match is not active")
)

// completionLockTTL bounds how long a crashed completer can block others.
const completionLockTTL = 2 * time.Minute

// completionPollInterval paces losers of the completion race while they
// wait for the winner's outcome.
const completionPollInterval = 100 * time.Millisecond

// MatchStore is the persistent row surface (satisfied by
// *services.MatchService).
type MatchStore interface {
	CreateMatch(ctx context.Context, challengeID, player1ID, player2ID string) (*models.Match, error)
	SetStarted(ctx context.Context, id string, startedAt time.Time) error
	CompleteMatch(ctx context.Context, id string, outcome *models.MatchOutcome) error
	AbandonMatch(ctx context.Context, id string) error
	GetMatch(ctx context.Context, id string) (*models.Match, error)
}

// ChallengeGetter loads challenges (satisfied by *services.ChallengeService).
type ChallengeGetter interface {
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
}

// Judge scores one submission (satisfied by *judging.Engine).
type Judge interface {
	Judge(ctx context.Context, code, language string, challenge *models.Challenge) (*models.Result, error)
}

// ResultApplier adjusts ratings and win/loss counters (satisfied by
// *services.UserService). Returns both players' new ratings.
type ResultApplier interface {
	ApplyMatchResult(ctx context.Context, player1ID, player2ID, winnerID string, delta int) (int, int, error)
}

// RatingBoard receives rating updates (satisfied by *leaderboard.Leaderboard).
type RatingBoard interface {
	Update(ctx context.Context, userID string, rating int) error
}

// Emitter delivers realtime match events (satisfied by the realtime hub).
// May be nil in tests.
type Emitter interface {
	NotifyMatchStart(state *models.MatchState)
	NotifyMatchResult(matchID string, outcome *models.MatchOutcome)
}

// ratingDelta is the fixed rating adjustment applied to winner and loser.
const ratingDelta = 25

// Service is the match lifecycle state machine.
type Service struct {
	store      store.Store
	matches    MatchStore
	challenges ChallengeGetter
	judge      Judge
	users      ResultApplier
	board      RatingBoard
	emitter    Emitter

	// Per-match mutation locks (in-process; cross-process exclusivity for
	// completion uses the store lock).
	locks sync.Map // matchID → *sync.Mutex

	// now is swappable in tests.
	now func() time.Time
}

// NewService wires the state machine. emitter may be nil.
func NewService(st store.Store, matches MatchStore, challenges ChallengeGetter, judge Judge, users ResultApplier, board RatingBoard, emitter Emitter) *Service {
	return &Service{
		store:      st,
		matches:    matches,
		challenges: challenges,
		judge:      judge,
		users:      users,
		board:      board,
		emitter:    emitter,
		now:        time.Now,
	}
}

func (s *Service) lock(matchID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(matchID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateLobby creates the persistent row and the ephemeral state in lobby
// status. Called by the pairing processor.
func (s *Service) CreateLobby(ctx context.Context, challenge *models.Challenge, player1ID, player2ID string) (*models.MatchState, error) {
	row, err := s.matches.CreateMatch(ctx, challenge.ID, player1ID, player2ID)
	if err != nil {
		return nil, err
	}

	state := &models.MatchState{
		ID:          row.ID,
		ChallengeID: challenge.ID,
		Player1ID:   player1ID,
		Player2ID:   player2ID,
		Status:      models.MatchStatusLobby,
		Player1:     newPlayerState(challenge),
		Player2:     newPlayerState(challenge),
		CreatedAt:   s.now(),
	}
	if err := s.writeState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func newPlayerState(challenge *models.Challenge) models.PlayerState {
	language := models.LanguageJavaScript
	code := challenge.StarterCode[language]
	return models.PlayerState{Code: code, Language: language}
}

// Get loads a match's ephemeral state. Reads prefer the persistent
// startedAt when the row carries one.
func (s *Service) Get(ctx context.Context, matchID string) (*models.MatchState, error) {
	fields, err := s.store.HGetAll(ctx, stateKey(matchID))
	if err != nil {
		return nil, fmt.Errorf("reading match state: %w", err)
	}
	state, err := decodeState(fields)
	if err != nil {
		return nil, err
	}
	if row, rowErr := s.matches.GetMatch(ctx, matchID); rowErr == nil && row.StartedAt != nil {
		state.StartedAt = row.StartedAt
	}
	return state, nil
}

// ActiveMatchIDs lists ids with live ephemeral state (cleanup input).
func (s *Service) ActiveMatchIDs(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx, "matchstate:*")
	if err != nil {
		return nil, fmt.Errorf("listing match state keys: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, "matchstate:"))
	}
	return ids, nil
}

// SetReady marks a player ready (monotonic). When both players are ready
// the match transitions lobby→active exactly once, stamping startedAt.
func (s *Service) SetReady(ctx context.Context, matchID, userID string) (*models.MatchState, error) {
	mu := s.lock(matchID)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if state.Status.Terminal() {
		return nil, ErrMatchOver
	}
	player, ok := state.PlayerFor(userID)
	if !ok {
		return nil, ErrNotParticipant
	}

	player.Ready = true

	if state.Status == models.MatchStatusLobby && state.Player1.Ready && state.Player2.Ready {
		started := s.now()
		state.Status = models.MatchStatusActive
		state.StartedAt = &started
		if err := s.matches.SetStarted(ctx, matchID, started); err != nil {
			return nil, err
		}
		if s.emitter != nil {
			defer s.emitter.NotifyMatchStart(state)
		}
	}

	if err := s.writeState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// UpdateCode stores a player's code, cursor and language. Rejected once
// the match is terminal; the edit also extends the state TTL.
func (s *Service) UpdateCode(ctx context.Context, matchID, userID, code string, cursor models.CursorPosition, language string) error {
	mu := s.lock(matchID)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		return ErrMatchOver
	}
	player, ok := state.PlayerFor(userID)
	if !ok {
		return ErrNotParticipant
	}
	if player.Submitted {
		return fmt.Errorf("player already submitted: %w", ErrNotActive)
	}

	player.Code = code
	player.Cursor = cursor
	if language != "" && models.SupportedLanguage(language) {
		player.Language = language
	}
	return s.writeState(ctx, state)
}

// Submit marks a player's submission (monotonic false→true, submittedAt
// stamped once). When both players have submitted the match completes.
func (s *Service) Submit(ctx context.Context, matchID, userID string) (*models.MatchOutcome, error) {
	mu := s.lock(matchID)
	mu.Lock()

	state, err := s.Get(ctx, matchID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	if state.Status.Terminal() {
		mu.Unlock()
		return nil, ErrMatchOver
	}
	if state.Status != models.MatchStatusActive {
		mu.Unlock()
		return nil, ErrNotActive
	}
	player, ok := state.PlayerFor(userID)
	if !ok {
		mu.Unlock()
		return nil, ErrNotParticipant
	}

	if !player.Submitted {
		now := s.now()
		player.Submitted = true
		player.SubmittedAt = &now
		if err := s.writeState(ctx, state); err != nil {
			mu.Unlock()
			return nil, err
		}
	}

	bothSubmitted := state.Player1.Submitted && state.Player2.Submitted
	mu.Unlock()

	if bothSubmitted {
		return s.Complete(ctx, matchID, "")
	}
	return nil, nil
}

// Abandon marks the match abandoned (terminal) in both stores.
func (s *Service) Abandon(ctx context.Context, matchID string) error {
	mu := s.lock(matchID)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		return ErrMatchOver
	}

	state.Status = models.MatchStatusAbandoned
	if err := s.writeState(ctx, state); err != nil {
		return err
	}
	return s.matches.AbandonMatch(ctx, matchID)
}

// Complete judges both submissions and persists the outcome exactly once.
// Concurrent and repeated calls return the stored outcome without
// re-judging. cause annotates auto-completion feedback ("" for normal
// completion).
func (s *Service) Complete(ctx context.Context, matchID, cause string) (*models.MatchOutcome, error) {
	// Fast path: a stored outcome wins immediately.
	if outcome, err := s.storedOutcome(ctx, matchID); err == nil {
		return outcome, nil
	}

	acquired, err := s.store.SetNX(ctx, completionLockKey(matchID), "1", completionLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring completion lock: %w", err)
	}
	if !acquired {
		return s.awaitOutcome(ctx, matchID)
	}

	outcome, err := s.runCompletion(ctx, matchID, cause)
	if err != nil {
		// Release so a later attempt can retry the judging path.
		_ = s.store.Del(ctx, completionLockKey(matchID))
		return nil, err
	}
	return outcome, nil
}

func (s *Service) runCompletion(ctx context.Context, matchID, cause string) (*models.MatchOutcome, error) {
	state, err := s.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if state.Status == models.MatchStatusAbandoned {
		return nil, ErrMatchOver
	}

	challenge, err := s.challenges.GetChallenge(ctx, state.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("loading challenge: %w", err)
	}

	// Judge both players concurrently; each gets its own sandbox runs.
	var (
		wg     sync.WaitGroup
		r1, r2 *models.Result
		e1, e2 error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		r1, e1 = s.judge.Judge(ctx, state.Player1.Code, state.Player1.Language, challenge)
	}()
	go func() {
		defer wg.Done()
		r2, e2 = s.judge.Judge(ctx, state.Player2.Code, state.Player2.Language, challenge)
	}()
	wg.Wait()
	if e1 != nil {
		return nil, fmt.Errorf("judging player1: %w", e1)
	}
	if e2 != nil {
		return nil, fmt.Errorf("judging player2: %w", e2)
	}

	winner := judging.DetermineWinner(r1, r2, state.Player1.SubmittedAt, state.Player2.SubmittedAt)

	var winnerID string
	tie := winner == judging.Tie
	switch winner {
	case judging.Player1Wins:
		winnerID = state.Player1ID
	case judging.Player2Wins:
		winnerID = state.Player2ID
	}

	r1.Feedback = judging.Feedback(r1, winner == judging.Player1Wins, tie)
	r2.Feedback = judging.Feedback(r2, winner == judging.Player2Wins, tie)
	if cause != "" {
		r1.Feedback = cause + " " + r1.Feedback
		r2.Feedback = cause + " " + r2.Feedback
	}

	outcome := &models.MatchOutcome{
		MatchID:      matchID,
		WinnerID:     winnerID,
		Tie:          tie,
		Player1Score: r1.FinalScore,
		Player2Score: r2.FinalScore,
		Breakdown: map[string]*models.Result{
			state.Player1ID: r1,
			state.Player2ID: r2,
		},
		CompletedAt: s.now(),
	}

	if err := s.matches.CompleteMatch(ctx, matchID, outcome); err != nil {
		if errors.Is(err, services.ErrConflict) {
			// Lost a race with another completer despite the lock (e.g.
			// lock expiry): fall back to the stored outcome.
			return s.awaitOutcome(ctx, matchID)
		}
		return nil, err
	}

	rating1, rating2, err := s.users.ApplyMatchResult(ctx, state.Player1ID, state.Player2ID, winnerID, ratingDelta)
	if err != nil {
		slog.Error("Failed to apply match result to users",
			"match_id", matchID, "error", err)
	} else if s.board != nil {
		// Leaderboard updates are observable before the result event.
		if err := s.board.Update(ctx, state.Player1ID, rating1); err != nil {
			slog.Error("Leaderboard update failed", "user_id", state.Player1ID, "error", err)
		}
		if err := s.board.Update(ctx, state.Player2ID, rating2); err != nil {
			slog.Error("Leaderboard update failed", "user_id", state.Player2ID, "error", err)
		}
	}

	// Mark ephemeral state terminal and store the outcome for idempotent
	// and concurrent readers.
	mu := s.lock(matchID)
	mu.Lock()
	if state, err := s.Get(ctx, matchID); err == nil {
		state.Status = models.MatchStatusCompleted
		if err := s.writeState(ctx, state); err != nil {
			slog.Warn("Failed to mark ephemeral state completed", "match_id", matchID, "error", err)
		}
	}
	mu.Unlock()

	raw, err := json.Marshal(outcome)
	if err == nil {
		if err := s.store.Set(ctx, outcomeKey(matchID), string(raw), stateTTL); err != nil {
			slog.Warn("Failed to store match outcome", "match_id", matchID, "error", err)
		}
	}

	if s.emitter != nil {
		s.emitter.NotifyMatchResult(matchID, outcome)
	}

	slog.Info("Match completed",
		"match_id", matchID,
		"winner_id", winnerID,
		"tie", tie,
		"player1_score", r1.FinalScore,
		"player2_score", r2.FinalScore)
	return outcome, nil
}

// Outcome returns the stored judged outcome while it is retained.
func (s *Service) Outcome(ctx context.Context, matchID string) (*models.MatchOutcome, error) {
	return s.storedOutcome(ctx, matchID)
}

// storedOutcome returns the previously persisted outcome, if any.
func (s *Service) storedOutcome(ctx context.Context, matchID string) (*models.MatchOutcome, error) {
	raw, err := s.store.Get(ctx, outcomeKey(matchID))
	if err != nil {
		return nil, err
	}
	var outcome models.MatchOutcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return nil, fmt.Errorf("decoding stored outcome: %w", err)
	}
	return &outcome, nil
}

// awaitOutcome waits for a concurrent completer to publish the outcome.
func (s *Service) awaitOutcome(ctx context.Context, matchID string) (*models.MatchOutcome, error) {
	deadline := s.now().Add(completionLockTTL)
	for {
		if outcome, err := s.storedOutcome(ctx, matchID); err == nil {
			return outcome, nil
		}
		if s.now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for concurrent completion of match %s", matchID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(completionPollInterval):
		}
	}
}

// writeState persists the state hash and extends its TTL.
func (s *Service) writeState(ctx context.Context, state *models.MatchState) error {
	fields, err := encodeState(state)
	if err != nil {
		return err
	}
	key := stateKey(state.ID)
	if err := s.store.HSet(ctx, key, fields); err != nil {
		return fmt.Errorf("writing match state: %w", err)
	}
	if err := s.store.Expire(ctx, key, stateTTL); err != nil {
		return fmt.Errorf("extending match state TTL: %w", err)
	}
	return nil
}
