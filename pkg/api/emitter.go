package api

import (
	"context"
	"time"

	"github.com/codeclash-io/codeclash/pkg/match"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/realtime"
)

// timerSyncInterval paces the server-authoritative clock broadcasts.
const timerSyncInterval = 5 * time.Second

// MatchEmitter bridges match lifecycle events onto the realtime hub and
// drives the per-match timer sync loop. The match service is set after
// construction because the two reference each other.
type MatchEmitter struct {
	hub        *realtime.Hub
	challenges match.ChallengeGetter
	matches    *match.Service
}

var _ match.Emitter = (*MatchEmitter)(nil)

// NewMatchEmitter creates the emitter. Call SetMatchService before any
// match starts.
func NewMatchEmitter(hub *realtime.Hub, challenges match.ChallengeGetter) *MatchEmitter {
	return &MatchEmitter{hub: hub, challenges: challenges}
}

// SetMatchService completes the wiring (lazy lookup breaks the
// construction cycle between emitter and state machine).
func (e *MatchEmitter) SetMatchService(sm *match.Service) { e.matches = sm }

// NotifyMatchStart fans out the start event and launches the timer loop.
func (e *MatchEmitter) NotifyMatchStart(state *models.MatchState) {
	e.hub.NotifyMatchStart(state)

	challenge, err := e.challenges.GetChallenge(context.Background(), state.ChallengeID)
	if err != nil || state.StartedAt == nil {
		return
	}
	go e.timerLoop(state.ID, state.StartedAt.Add(time.Duration(challenge.TimeLimitSeconds)*time.Second))
}

// NotifyMatchResult fans out the judged outcome.
func (e *MatchEmitter) NotifyMatchResult(matchID string, outcome *models.MatchOutcome) {
	e.hub.NotifyMatchResult(matchID, outcome)
}

// timerLoop broadcasts the remaining seconds until the deadline passes or
// the match reaches a terminal state.
func (e *MatchEmitter) timerLoop(matchID string, deadline time.Time) {
	ticker := time.NewTicker(timerSyncInterval)
	defer ticker.Stop()

	for range ticker.C {
		remaining := int(time.Until(deadline).Seconds())
		if remaining <= 0 {
			e.hub.PublishTimerSync(matchID, 0)
			return
		}
		e.hub.PublishTimerSync(matchID, remaining)

		if e.matches != nil {
			state, err := e.matches.Get(context.Background(), matchID)
			if err != nil || state.Status.Terminal() {
				return
			}
		}
	}
}
