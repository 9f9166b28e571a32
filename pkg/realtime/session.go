package realtime

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// wsConn is the websocket surface a session writes to. Satisfied by
// *websocket.Conn (gorilla); substituted in tests.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Gorilla's TextMessage constant, mirrored to keep wsConn minimal.
const textMessage = 1

const (
	sendBufferSize = 64
	writeTimeout   = 10 * time.Second
)

// Session is one authenticated client connection. Outbound sends are
// serialized through the send channel and a single write pump.
type Session struct {
	ID     string
	UserID string

	conn wsConn
	send chan []byte
	done chan struct{}
}

func newSession(userID string, conn wsConn) *Session {
	return &Session{
		ID:     uuid.New().String(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// enqueue queues one message for the write pump. A saturated buffer drops
// the message (slow consumer) rather than blocking the caller.
func (s *Session) enqueue(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode outbound event", "type", msg.Type, "error", err)
		return
	}
	select {
	case s.send <- data:
	case <-s.done:
	default:
		slog.Warn("Dropping event for slow consumer",
			"session_id", s.ID, "user_id", s.UserID, "type", msg.Type)
	}
}

// writePump drains the send channel onto the connection. Runs on its own
// goroutine per session; exits when the session closes.
func (s *Session) writePump() {
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(textMessage, data); err != nil {
				slog.Debug("Write failed, closing session",
					"session_id", s.ID, "error", err)
				_ = s.conn.Close()
				return
			}
		case <-s.done:
			_ = s.conn.Close()
			return
		}
	}
}

// close releases the session. Safe to call once (the hub guards this).
func (s *Session) close() {
	close(s.done)
}
