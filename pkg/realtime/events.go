// Package realtime manages WebSocket sessions, match rooms, and event
// fan-out: one active connection per user, per-connection serialized
// sends, throttled opponent code updates, and moderated spectator chat.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// Client→server event types.
const (
	EventReady      = "ready"
	EventCodeUpdate = "codeUpdate"
	EventSubmitCode = "submitCode"
	EventSpectate   = "spectate"
	EventChat       = "chat"
)

// Server→client event types.
const (
	EventMatchFound         = "matchFound"
	EventMatchStart         = "matchStart"
	EventOpponentCodeUpdate = "opponentCodeUpdate"
	EventMatchResult        = "matchResult"
	EventTimerSync          = "timerSync"
	EventChatMessage        = "chatMessage"
	EventError              = "error"
)

// Message is the wire envelope in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds an envelope with an encoded payload.
func NewMessage(eventType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: eventType, Data: data}, nil
}

// CodeUpdatePayload is the inbound editor state.
type CodeUpdatePayload struct {
	MatchID  string                `json:"match_id"`
	Code     string                `json:"code"`
	Cursor   models.CursorPosition `json:"cursor"`
	Language string                `json:"language,omitempty"`
}

// ReadyPayload marks the sender ready in a lobby.
type ReadyPayload struct {
	MatchID string `json:"match_id"`
}

// SubmitPayload submits the sender's code.
type SubmitPayload struct {
	MatchID string `json:"match_id"`
}

// SpectatePayload subscribes the sender to a match's spectator room.
type SpectatePayload struct {
	MatchID string `json:"match_id"`
}

// ChatPayload is an inbound chat message or emoji reaction.
type ChatPayload struct {
	MatchID string `json:"match_id"`
	Text    string `json:"text,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
}

// MatchFoundPayload announces a pairing to one player.
type MatchFoundPayload struct {
	MatchID    string             `json:"match_id"`
	OpponentID string             `json:"opponent_id"`
	Challenge  *models.Challenge  `json:"challenge"`
	Status     models.MatchStatus `json:"status"`
}

// MatchStartPayload announces lobby→active.
type MatchStartPayload struct {
	MatchID   string    `json:"match_id"`
	StartedAt time.Time `json:"started_at"`
}

// OpponentCodePayload carries throttled opponent editor state.
type OpponentCodePayload struct {
	MatchID string                `json:"match_id"`
	Code    string                `json:"code"`
	Cursor  models.CursorPosition `json:"cursor"`
}

// MatchResultPayload carries the judged outcome.
type MatchResultPayload struct {
	MatchID string               `json:"match_id"`
	Outcome *models.MatchOutcome `json:"outcome"`
}

// TimerSyncPayload is the server-authoritative clock.
type TimerSyncPayload struct {
	MatchID          string `json:"match_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

// ChatMessagePayload is a delivered, moderated chat line.
type ChatMessagePayload struct {
	MatchID string    `json:"match_id"`
	UserID  string    `json:"user_id"`
	Text    string    `json:"text,omitempty"`
	Emoji   string    `json:"emoji,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// ErrorPayload reports a rejected inbound event.
type ErrorPayload struct {
	Message string `json:"message"`
}
