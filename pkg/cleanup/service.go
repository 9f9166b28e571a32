// Package cleanup provides the periodic match sweep: auto-completing
// time-expired matches and abandoning stale ones.
package cleanup

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// MatchSweeper is the slice of the match state machine the sweep drives.
type MatchSweeper interface {
	ActiveMatchIDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, matchID string) (*models.MatchState, error)
	Complete(ctx context.Context, matchID, cause string) (*models.MatchOutcome, error)
	Abandon(ctx context.Context, matchID string) error
}

// ChallengeGetter loads challenges for their time limits.
type ChallengeGetter interface {
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
}

// timeoutCause prefixes feedback on auto-completed matches.
const timeoutCause = "Time limit reached — match was auto-completed with the current code."

// Service runs the sweep loop. All operations are idempotent; a sweep
// iteration error is logged and never crashes the process.
type Service struct {
	cfg        config.CleanupConfig
	matches    MatchSweeper
	challenges ChallengeGetter

	sweeping atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}

	// now is swappable in tests.
	now func() time.Time
}

// NewService creates a cleanup service.
func NewService(cfg config.CleanupConfig, matches MatchSweeper, challenges ChallengeGetter) *Service {
	return &Service{
		cfg:        cfg,
		matches:    matches,
		challenges: challenges,
		now:        time.Now,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"interval", s.cfg.Interval,
		"lobby_max_age", s.cfg.LobbyMaxAge,
		"active_max_age", s.cfg.ActiveMaxAge,
		"completion_grace", s.cfg.CompletionGrace)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over all live matches. Only one sweep runs at a
// time; an overlapping call is refused.
func (s *Service) Sweep(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		slog.Warn("Sweep already in progress, skipping")
		return
	}
	defer s.sweeping.Store(false)

	ids, err := s.matches.ActiveMatchIDs(ctx)
	if err != nil {
		slog.Error("Sweep could not list matches", "error", err)
		return
	}

	for _, id := range ids {
		if err := s.sweepMatch(ctx, id); err != nil {
			slog.Error("Sweep failed for match", "match_id", id, "error", err)
		}
	}
}

func (s *Service) sweepMatch(ctx context.Context, matchID string) error {
	state, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return err
	}
	now := s.now()

	switch state.Status {
	case models.MatchStatusLobby:
		if now.Sub(state.CreatedAt) > s.cfg.LobbyMaxAge {
			slog.Info("Abandoning stale lobby", "match_id", matchID)
			return s.matches.Abandon(ctx, matchID)
		}

	case models.MatchStatusActive:
		if state.StartedAt != nil {
			challenge, err := s.challenges.GetChallenge(ctx, state.ChallengeID)
			if err != nil {
				return err
			}
			limit := time.Duration(challenge.TimeLimitSeconds)*time.Second + s.cfg.CompletionGrace
			if now.Sub(*state.StartedAt) > limit {
				slog.Info("Auto-completing expired match",
					"match_id", matchID,
					"overtime", now.Sub(*state.StartedAt)-limit)
				_, err := s.matches.Complete(ctx, matchID, timeoutCause)
				return err
			}
		}
		// Safety net for actives that never see a time-limit completion.
		if now.Sub(state.CreatedAt) > s.cfg.ActiveMaxAge {
			slog.Warn("Abandoning overlong active match", "match_id", matchID)
			return s.matches.Abandon(ctx, matchID)
		}
	}
	return nil
}
