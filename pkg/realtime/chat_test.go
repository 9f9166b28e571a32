package realtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeclash-io/codeclash/pkg/ratelimit"
	"github.com/codeclash-io/codeclash/pkg/store"
)

func newModerator(t *testing.T) (*ChatModerator, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	return NewChatModerator(ratelimit.New(mem)), mem
}

func TestModerateTextMasksBlocklist(t *testing.T) {
	m, _ := newModerator(t)

	out, err := m.ModerateText(context.Background(), "u1", "what a NOOB move")
	require.NoError(t, err)
	assert.Equal(t, "what a **** move", out, "masked with asterisks of equal length")

	out, err = m.ModerateText(context.Background(), "u2", "clean message")
	require.NoError(t, err)
	assert.Equal(t, "clean message", out)
}

func TestModerateTextLengthCap(t *testing.T) {
	m, _ := newModerator(t)

	ok := strings.Repeat("a", maxChatLength)
	_, err := m.ModerateText(context.Background(), "u1", ok)
	require.NoError(t, err)

	_, err = m.ModerateText(context.Background(), "u2", ok+"b")
	assert.ErrorIs(t, err, ErrChatTooLong)
}

func TestModerateTextEmptyRejected(t *testing.T) {
	m, _ := newModerator(t)
	_, err := m.ModerateText(context.Background(), "u1", "   ")
	assert.ErrorIs(t, err, ErrEmptyChat)
}

func TestChatThrottleOnePerTwoSeconds(t *testing.T) {
	mem := store.NewMemoryStore()
	now := time.Now()
	mem.SetClock(func() time.Time { return now })
	m := NewChatModerator(ratelimit.New(mem))
	ctx := context.Background()

	_, err := m.ModerateText(ctx, "u1", "first")
	require.NoError(t, err)

	_, err = m.ModerateText(ctx, "u1", "second")
	assert.ErrorIs(t, err, ErrChatThrottled)

	// Another user is unaffected.
	_, err = m.ModerateText(ctx, "u2", "hello")
	require.NoError(t, err)

	// After the window the first user may speak again.
	mem.SetClock(func() time.Time { return now.Add(3 * time.Second) })
	_, err = m.ModerateText(ctx, "u1", "third")
	require.NoError(t, err)
}

func TestModerateEmojiAllowlist(t *testing.T) {
	m, _ := newModerator(t)
	ctx := context.Background()

	require.NoError(t, m.ModerateEmoji(ctx, "u1", "🔥"))
	assert.ErrorIs(t, m.ModerateEmoji(ctx, "u2", "🙈"), ErrUnknownEmoji)
	assert.ErrorIs(t, m.ModerateEmoji(ctx, "u3", "not-an-emoji"), ErrUnknownEmoji)
}

func TestCoalescerDeliversFinalValue(t *testing.T) {
	c := NewCoalescer(20 * time.Millisecond)

	delivered := make(chan string, 10)

	c.Publish("k", func() { delivered <- "first" })
	c.Publish("k", func() { delivered <- "dropped" })
	c.Publish("k", func() { delivered <- "final" })

	assert.Equal(t, "first", <-delivered, "open window fires immediately")

	select {
	case got := <-delivered:
		assert.Equal(t, "final", got, "only the latest pending send fires")
	case <-time.After(time.Second):
		t.Fatal("trailing send never fired")
	}

	select {
	case extra := <-delivered:
		t.Fatalf("unexpected extra delivery %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}
