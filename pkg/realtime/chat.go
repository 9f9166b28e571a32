package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeclash-io/codeclash/pkg/ratelimit"
)

// Spectator chat limits.
const (
	maxChatLength = 500
	chatWindow    = 2 * time.Second
	chatPerWindow = 1
)

var (
	// ErrChatTooLong rejects oversized messages.
	ErrChatTooLong = errors.New("chat message exceeds 500 characters")
	// ErrChatThrottled rejects messages over the per-user rate.
	ErrChatThrottled = errors.New("chat throttled: one message per 2 seconds")
	// ErrUnknownEmoji rejects reactions outside the allowlist.
	ErrUnknownEmoji = errors.New("emoji not in allowlist")
	// ErrEmptyChat rejects messages with no content.
	ErrEmptyChat = errors.New("chat message is empty")
)

// emojiAllowlist is the fixed reaction set.
var emojiAllowlist = map[string]bool{
	"👍": true, "👎": true, "🔥": true, "😂": true,
	"😮": true, "🎉": true, "💯": true, "🤯": true,
}

// defaultBlocklist seeds the profanity filter. Matched words are replaced
// by asterisks of equal length.
var defaultBlocklist = []string{
	"noob", "trash", "idiot", "stupid", "loser", "dumb",
}

// ChatModerator validates, throttles and filters spectator chat.
type ChatModerator struct {
	limiter   *ratelimit.Limiter
	blocklist []string
}

// NewChatModerator creates a moderator with the default blocklist.
func NewChatModerator(limiter *ratelimit.Limiter) *ChatModerator {
	return &ChatModerator{limiter: limiter, blocklist: defaultBlocklist}
}

// ModerateText checks throttle and length, then masks blocklisted words.
// Returns the deliverable text.
func (m *ChatModerator) ModerateText(ctx context.Context, userID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyChat
	}
	if len(text) > maxChatLength {
		return "", ErrChatTooLong
	}
	if m.limiter != nil {
		decision := m.limiter.Check(ctx, userID, "chat", ratelimit.Rule{
			Limit:  chatPerWindow,
			Window: chatWindow,
		})
		if !decision.Allowed {
			return "", ErrChatThrottled
		}
	}
	return m.filter(text), nil
}

// ModerateEmoji validates a reaction against the allowlist (same throttle
// as text messages).
func (m *ChatModerator) ModerateEmoji(ctx context.Context, userID, emoji string) error {
	if !emojiAllowlist[emoji] {
		return ErrUnknownEmoji
	}
	if m.limiter != nil {
		decision := m.limiter.Check(ctx, userID, "chat", ratelimit.Rule{
			Limit:  chatPerWindow,
			Window: chatWindow,
		})
		if !decision.Allowed {
			return ErrChatThrottled
		}
	}
	return nil
}

// filter substitutes each blocklisted word with asterisks of equal length,
// case-insensitively.
func (m *ChatModerator) filter(text string) string {
	lower := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(text))

	i := 0
	for i < len(text) {
		matched := 0
		for _, word := range m.blocklist {
			if strings.HasPrefix(lower[i:], word) {
				matched = len(word)
				break
			}
		}
		if matched > 0 {
			b.WriteString(strings.Repeat("*", matched))
			i += matched
			continue
		}
		b.WriteByte(text[i])
		i++
	}
	return b.String()
}

// String prints the moderator configuration for startup logs.
func (m *ChatModerator) String() string {
	return fmt.Sprintf("chat moderator: %d blocked words, %d allowed emoji",
		len(m.blocklist), len(emojiAllowlist))
}
