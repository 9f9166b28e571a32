package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/codeclash-io/codeclash/pkg/realtime"
)

const (
	readLimit       = 128 * 1024
	pongWait        = 60 * time.Second
	dispatchTimeout = 10 * time.Second
)

// wsHandler upgrades the connection after validating the token from the
// query string (browsers cannot set headers on WebSocket handshakes).
func (s *Server) wsHandler(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	userID, err := s.auth.VerifyToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid or missing token"})
		return
	}

	conn, err := s.newUpgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	session := s.hub.Register(userID, conn)
	defer s.hub.Unregister(session)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg realtime.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendWSError(userID, "malformed event")
			continue
		}
		s.dispatch(userID, &msg)
	}
}

// newUpgrader builds the upgrader enforcing the allowed origins.
func (s *Server) newUpgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(s.cfg.Server.AllowedOrigins))
	for _, o := range s.cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
}

// dispatch routes one inbound event. Handler errors are reported back on
// the sender's connection and never crash the read loop.
func (s *Server) dispatch(userID string, msg *realtime.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	switch msg.Type {
	case realtime.EventReady:
		var p realtime.ReadyPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.sendWSError(userID, "malformed ready payload")
			return
		}
		s.hub.JoinMatch(userID, p.MatchID)
		if _, err := s.matchSM.SetReady(ctx, p.MatchID, userID); err != nil {
			s.sendWSError(userID, err.Error())
		}

	case realtime.EventCodeUpdate:
		var p realtime.CodeUpdatePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.sendWSError(userID, "malformed codeUpdate payload")
			return
		}
		if err := s.matchSM.UpdateCode(ctx, p.MatchID, userID, p.Code, p.Cursor, p.Language); err != nil {
			s.sendWSError(userID, err.Error())
			return
		}
		s.hub.PublishCodeUpdate(p.MatchID, userID, realtime.OpponentCodePayload{
			MatchID: p.MatchID,
			Code:    p.Code,
			Cursor:  p.Cursor,
		})

	case realtime.EventSubmitCode:
		var p realtime.SubmitPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.sendWSError(userID, "malformed submitCode payload")
			return
		}
		if _, err := s.matchSM.Submit(ctx, p.MatchID, userID); err != nil {
			s.sendWSError(userID, err.Error())
		}

	case realtime.EventSpectate:
		var p realtime.SpectatePayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			s.sendWSError(userID, "malformed spectate payload")
			return
		}
		s.hub.JoinSpectators(userID, p.MatchID)

	case realtime.EventChat:
		s.handleChat(ctx, userID, msg.Data)

	default:
		s.sendWSError(userID, "unknown event type")
	}
}

// handleChat moderates and fans out a chat message, persisting the
// delivered line for history reads.
func (s *Server) handleChat(ctx context.Context, userID string, data json.RawMessage) {
	var p realtime.ChatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.sendWSError(userID, "malformed chat payload")
		return
	}

	payload := realtime.ChatMessagePayload{
		MatchID: p.MatchID,
		UserID:  userID,
		SentAt:  time.Now(),
	}
	if p.Emoji != "" {
		if err := s.moderator.ModerateEmoji(ctx, userID, p.Emoji); err != nil {
			s.sendWSError(userID, err.Error())
			return
		}
		payload.Emoji = p.Emoji
	} else {
		text, err := s.moderator.ModerateText(ctx, userID, p.Text)
		if err != nil {
			s.sendWSError(userID, err.Error())
			return
		}
		payload.Text = text
	}

	s.hub.PublishChat(payload)

	if raw, err := json.Marshal(payload); err == nil {
		key := chatHistoryKey(p.MatchID)
		if err := s.store.RPush(ctx, key, string(raw)); err != nil {
			slog.Warn("Failed to persist chat line", "match_id", p.MatchID, "error", err)
		}
		_ = s.store.Expire(ctx, key, time.Hour)
	}
}

func (s *Server) sendWSError(userID, message string) {
	msg, err := realtime.NewMessage(realtime.EventError, realtime.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	s.hub.SendToUser(userID, msg)
}
