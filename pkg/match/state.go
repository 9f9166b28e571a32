// Package match owns the ephemeral match state machine: lobby → active →
// completed/abandoned, per-player submission tracking, and idempotent
// completion. Only this package mutates match state hashes.
package match

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// stateKey is the hash key holding a match's ephemeral state.
func stateKey(matchID string) string { return "matchstate:" + matchID }

// outcomeKey holds the serialized judged outcome for idempotent reads.
func outcomeKey(matchID string) string { return "matchoutcome:" + matchID }

// completionLockKey guards completion exclusivity across processes.
func completionLockKey(matchID string) string { return "matchcomplete:" + matchID }

// stateTTL is the ephemeral lifetime, extended on activity.
const stateTTL = time.Hour

// encodeState flattens a MatchState into hash fields. Player sub-records
// are stored as JSON; encode→decode is the identity.
func encodeState(s *models.MatchState) (map[string]string, error) {
	p1, err := json.Marshal(s.Player1)
	if err != nil {
		return nil, fmt.Errorf("encoding player1 state: %w", err)
	}
	p2, err := json.Marshal(s.Player2)
	if err != nil {
		return nil, fmt.Errorf("encoding player2 state: %w", err)
	}

	fields := map[string]string{
		"id":           s.ID,
		"challenge_id": s.ChallengeID,
		"player1_id":   s.Player1ID,
		"player2_id":   s.Player2ID,
		"status":       string(s.Status),
		"player1":      string(p1),
		"player2":      string(p2),
		"created_at":   strconv.FormatInt(s.CreatedAt.UnixMilli(), 10),
	}
	if s.StartedAt != nil {
		fields["started_at"] = strconv.FormatInt(s.StartedAt.UnixMilli(), 10)
	}
	return fields, nil
}

// decodeState rebuilds a MatchState from hash fields.
func decodeState(fields map[string]string) (*models.MatchState, error) {
	if len(fields) == 0 || fields["id"] == "" {
		return nil, ErrNotFound
	}

	s := &models.MatchState{
		ID:          fields["id"],
		ChallengeID: fields["challenge_id"],
		Player1ID:   fields["player1_id"],
		Player2ID:   fields["player2_id"],
		Status:      models.MatchStatus(fields["status"]),
	}
	if err := json.Unmarshal([]byte(fields["player1"]), &s.Player1); err != nil {
		return nil, fmt.Errorf("decoding player1 state: %w", err)
	}
	if err := json.Unmarshal([]byte(fields["player2"]), &s.Player2); err != nil {
		return nil, fmt.Errorf("decoding player2 state: %w", err)
	}

	createdMs, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decoding created_at: %w", err)
	}
	s.CreatedAt = time.UnixMilli(createdMs)

	if raw, ok := fields["started_at"]; ok && raw != "" {
		startedMs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decoding started_at: %w", err)
		}
		started := time.UnixMilli(startedMs)
		s.StartedAt = &started
	}
	return s, nil
}
