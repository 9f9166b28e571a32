package realtime

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// fakeConn records written frames.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events(t *testing.T) []Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.frames))
	for _, f := range c.frames {
		var m Message
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

// waitForEvents polls until the connection observed n frames.
func waitForEvents(t *testing.T, c *fakeConn, n int) []Message {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.frames) >= n
	}, time.Second, time.Millisecond)
	return c.events(t)
}

func TestRegisterSupersedesOlderConnection(t *testing.T) {
	hub := NewHub()

	first := &fakeConn{}
	second := &fakeConn{}
	hub.Register("alice", first)
	hub.Register("alice", second)

	assert.Equal(t, 1, hub.ConnectedUsers())

	msg, err := NewMessage(EventTimerSync, TimerSyncPayload{MatchID: "m", RemainingSeconds: 30})
	require.NoError(t, err)
	hub.SendToUser("alice", msg)

	events := waitForEvents(t, second, 1)
	assert.Equal(t, EventTimerSync, events[0].Type)

	require.Eventually(t, func() bool {
		first.mu.Lock()
		defer first.mu.Unlock()
		return first.closed
	}, time.Second, time.Millisecond, "superseded connection is closed")
}

func TestBroadcastToRoomExcludesSender(t *testing.T) {
	hub := NewHub()
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	hub.Register("alice", a)
	hub.Register("bob", b)
	hub.Register("carol", c)

	hub.JoinMatch("alice", "m1")
	hub.JoinMatch("bob", "m1")
	// carol never joins the room.

	msg, err := NewMessage(EventOpponentCodeUpdate, OpponentCodePayload{MatchID: "m1"})
	require.NoError(t, err)
	hub.Broadcast(matchRoom("m1"), msg, "alice")

	waitForEvents(t, b, 1)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, a.events(t), "sender excluded")
	assert.Empty(t, c.events(t), "non-member excluded")
}

func TestUnregisterRemovesFromRooms(t *testing.T) {
	hub := NewHub()
	conn := &fakeConn{}
	session := hub.Register("alice", conn)
	hub.JoinMatch("alice", "m1")

	hub.Unregister(session)
	assert.Zero(t, hub.ConnectedUsers())

	msg, _ := NewMessage(EventTimerSync, TimerSyncPayload{})
	hub.Broadcast(matchRoom("m1"), msg, "")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, conn.events(t))
}

func TestNotifyMatchFoundJoinsRoomAndStripsHiddenTests(t *testing.T) {
	hub := NewHub()
	conn := &fakeConn{}
	hub.Register("alice", conn)

	challenge := &models.Challenge{
		ID: "ch-1",
		TestCases: []models.TestCase{
			{Input: 1, ExpectedOutput: 1},
			{Input: 2, ExpectedOutput: 2, IsHidden: true},
		},
		OptimalSolution: "secret",
	}
	state := &models.MatchState{ID: "m1", Status: models.MatchStatusLobby}

	hub.NotifyMatchFound("alice", state, challenge, "bob")

	events := waitForEvents(t, conn, 1)
	require.Equal(t, EventMatchFound, events[0].Type)

	var payload MatchFoundPayload
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	assert.Equal(t, "bob", payload.OpponentID)
	assert.Len(t, payload.Challenge.TestCases, 1, "hidden tests are withheld")
	assert.Empty(t, payload.Challenge.OptimalSolution)
}

func TestSpectatorsReceiveMatchEvents(t *testing.T) {
	hub := NewHub()
	spec := &fakeConn{}
	hub.Register("watcher", spec)
	hub.JoinSpectators("watcher", "m1")

	hub.NotifyMatchResult("m1", &models.MatchOutcome{MatchID: "m1", WinnerID: "alice"})

	events := waitForEvents(t, spec, 1)
	assert.Equal(t, EventMatchResult, events[0].Type)
}

func TestPublishCodeUpdateCoalesces(t *testing.T) {
	hub := NewHub()
	opp := &fakeConn{}
	hub.Register("bob", opp)
	hub.JoinMatch("bob", "m1")

	// A burst far above 20 Hz: first fires immediately, the rest coalesce
	// into one trailing send carrying the final value.
	for i := 0; i < 30; i++ {
		hub.PublishCodeUpdate("m1", "alice", OpponentCodePayload{
			MatchID: "m1", Code: string(rune('a' + i)),
		})
	}

	time.Sleep(3 * opponentUpdateMinInterval)
	events := opp.events(t)
	require.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 3, "burst is coalesced")

	var last OpponentCodePayload
	require.NoError(t, json.Unmarshal(events[len(events)-1].Data, &last))
	assert.Equal(t, string(rune('a'+29)), last.Code, "final value is always delivered")
}
