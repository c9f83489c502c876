package chat

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

var ErrInvalidMessage = errors.New("invalid message")

// Message is one conversation turn. Messages are append-only and never edited.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Validate checks the message shape at the persistence boundary.
func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if m.Role != RoleUser && m.Role != RoleBot {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	if m.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp", ErrInvalidMessage)
	}
	return nil
}

// TrimLeadingBot drops bot-authored messages before the first user message.
// Model history must open with a user turn.
func TrimLeadingBot(messages []Message) []Message {
	for i, m := range messages {
		if m.Role == RoleUser {
			return messages[i:]
		}
	}
	return nil
}
