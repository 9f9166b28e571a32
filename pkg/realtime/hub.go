package realtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// Room name helpers.
func matchRoom(matchID string) string     { return "match:" + matchID }
func spectatorRoom(matchID string) string { return matchRoom(matchID) + ":spectators" }

// Hub indexes sessions by connection id and user id, tracks room
// membership, and fans events out. Every authenticated client has at most
// one active connection: a newer connection supersedes the older one.
type Hub struct {
	mu        sync.RWMutex
	byConnID  map[string]*Session
	byUserID  map[string]*Session
	rooms     map[string]map[string]bool // room → set of connection ids
	coalescer *Coalescer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		byConnID:  make(map[string]*Session),
		byUserID:  make(map[string]*Session),
		rooms:     make(map[string]map[string]bool),
		coalescer: NewCoalescer(opponentUpdateMinInterval),
	}
}

// Register attaches a connection for the user and starts its write pump.
// An existing session for the same user is superseded and closed.
func (h *Hub) Register(userID string, conn wsConn) *Session {
	session := newSession(userID, conn)

	h.mu.Lock()
	if old, ok := h.byUserID[userID]; ok {
		h.dropLocked(old)
	}
	h.byConnID[session.ID] = session
	h.byUserID[userID] = session
	h.mu.Unlock()

	go session.writePump()

	slog.Info("Session registered", "session_id", session.ID, "user_id", userID)
	return session
}

// Unregister removes a session and its room memberships. A session that
// was already superseded is left alone.
func (h *Hub) Unregister(session *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.byConnID[session.ID]; !ok || current != session {
		return
	}
	h.dropLocked(session)
}

// dropLocked removes the session everywhere. Caller holds mu.
func (h *Hub) dropLocked(s *Session) {
	delete(h.byConnID, s.ID)
	if h.byUserID[s.UserID] == s {
		delete(h.byUserID, s.UserID)
	}
	for room, members := range h.rooms {
		delete(members, s.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	s.close()
}

// JoinMatch adds a player's session to the match room.
func (h *Hub) JoinMatch(userID, matchID string) {
	h.join(userID, matchRoom(matchID))
}

// JoinSpectators adds a session to the spectator room.
func (h *Hub) JoinSpectators(userID, matchID string) {
	h.join(userID, spectatorRoom(matchID))
}

func (h *Hub) join(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	session, ok := h.byUserID[userID]
	if !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]bool)
		h.rooms[room] = members
	}
	members[session.ID] = true
}

// SendToUser delivers one event to a user's active session, if any.
func (h *Hub) SendToUser(userID string, msg *Message) {
	h.mu.RLock()
	session, ok := h.byUserID[userID]
	h.mu.RUnlock()
	if ok {
		session.enqueue(msg)
	}
}

// Broadcast delivers an event to every session in a room, optionally
// excluding one user (the sender).
func (h *Hub) Broadcast(room string, msg *Message, excludeUserID string) {
	h.mu.RLock()
	var targets []*Session
	for connID := range h.rooms[room] {
		if s, ok := h.byConnID[connID]; ok && s.UserID != excludeUserID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		s.enqueue(msg)
	}
}

// ConnectedUsers reports how many users have live sessions.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUserID)
}

// NotifyMatchFound implements the matchmaking notifier: both players are
// told about the pairing and joined to the match room.
func (h *Hub) NotifyMatchFound(userID string, state *models.MatchState, challenge *models.Challenge, opponentID string) {
	h.JoinMatch(userID, state.ID)
	msg, err := NewMessage(EventMatchFound, MatchFoundPayload{
		MatchID:    state.ID,
		OpponentID: opponentID,
		Challenge:  challenge.PublicView(),
		Status:     state.Status,
	})
	if err != nil {
		slog.Error("Failed to build matchFound event", "error", err)
		return
	}
	h.SendToUser(userID, msg)
}

// NotifyMatchStart implements the match emitter for lobby→active.
func (h *Hub) NotifyMatchStart(state *models.MatchState) {
	started := time.Now()
	if state.StartedAt != nil {
		started = *state.StartedAt
	}
	msg, err := NewMessage(EventMatchStart, MatchStartPayload{
		MatchID:   state.ID,
		StartedAt: started,
	})
	if err != nil {
		slog.Error("Failed to build matchStart event", "error", err)
		return
	}
	h.Broadcast(matchRoom(state.ID), msg, "")
	h.Broadcast(spectatorRoom(state.ID), msg, "")
}

// NotifyMatchResult implements the match emitter for completion.
func (h *Hub) NotifyMatchResult(matchID string, outcome *models.MatchOutcome) {
	msg, err := NewMessage(EventMatchResult, MatchResultPayload{
		MatchID: matchID,
		Outcome: outcome,
	})
	if err != nil {
		slog.Error("Failed to build matchResult event", "error", err)
		return
	}
	h.Broadcast(matchRoom(matchID), msg, "")
	h.Broadcast(spectatorRoom(matchID), msg, "")
}

// PublishCodeUpdate fans a player's editor state out to the opponent and
// spectators, coalesced to the per-match maximum rate. Intermediate values
// may be dropped; the final value is always delivered.
func (h *Hub) PublishCodeUpdate(matchID, senderID string, payload OpponentCodePayload) {
	h.coalescer.Publish(matchID+":"+senderID, func() {
		msg, err := NewMessage(EventOpponentCodeUpdate, payload)
		if err != nil {
			slog.Error("Failed to build opponentCodeUpdate event", "error", err)
			return
		}
		h.Broadcast(matchRoom(matchID), msg, senderID)
		h.Broadcast(spectatorRoom(matchID), msg, senderID)
	})
}

// PublishTimerSync broadcasts the server-authoritative remaining time.
func (h *Hub) PublishTimerSync(matchID string, remainingSeconds int) {
	msg, err := NewMessage(EventTimerSync, TimerSyncPayload{
		MatchID:          matchID,
		RemainingSeconds: remainingSeconds,
	})
	if err != nil {
		return
	}
	h.Broadcast(matchRoom(matchID), msg, "")
	h.Broadcast(spectatorRoom(matchID), msg, "")
}

// PublishChat broadcasts a moderated chat message to the match and
// spectator rooms.
func (h *Hub) PublishChat(payload ChatMessagePayload) {
	msg, err := NewMessage(EventChatMessage, payload)
	if err != nil {
		return
	}
	h.Broadcast(matchRoom(payload.MatchID), msg, "")
	h.Broadcast(spectatorRoom(payload.MatchID), msg, "")
}
