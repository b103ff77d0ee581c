package session

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced a message
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// Message represents a single chat message
type Message struct {
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // epoch millis
}

// Chat represents one conversation thread
type Chat struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}

// Time returns the message timestamp as a time.Time
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// NewID returns a time-ordered unique chat id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Clone returns a deep copy of the chat
func (c Chat) Clone() Chat {
	msgs := make([]Message, len(c.Messages))
	copy(msgs, c.Messages)
	return Chat{ID: c.ID, Messages: msgs}
}

// Title derives the chat list title from the first user message.
func (c Chat) Title() string {
	for _, msg := range c.Messages {
		if msg.Sender != SenderUser {
			continue
		}
		runes := []rune(msg.Text)
		if len(runes) > TitleLimit {
			return string(runes[:TitleLimit]) + "..."
		}
		return msg.Text
	}
	return PlaceholderTitle
}

const (
	// TitleLimit is the number of characters kept in a chat title.
	TitleLimit       = 25
	PlaceholderTitle = "New Chat"
)
