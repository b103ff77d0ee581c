package session

import (
	"errors"
	"log/slog"
	"time"
)

// ErrNotFound is returned when a chat id does not resolve.
var ErrNotFound = errors.New("chat not found")

// Saver persists the whole chat collection. Implementations swallow their own failures.
type Saver interface {
	SaveChats(chats []Chat) bool
}

// Summary is one row of the chat list
type Summary struct {
	ID           string
	Title        string
	Active       bool
	MessageCount int
}

// Model holds every chat plus the active chat pointer. It is not safe for concurrent
// use; the controller drives it from the event loop.
type Model struct {
	chats    []Chat
	activeID string
	saver    Saver
	logger   *slog.Logger

	newID func() string
	now   func() time.Time
}

// Option configures a Model
type Option func(*Model)

// WithIDFunc overrides chat id generation
func WithIDFunc(fn func() string) Option {
	return func(m *Model) { m.newID = fn }
}

// WithClock overrides the message timestamp source
func WithClock(fn func() time.Time) Option {
	return func(m *Model) { m.now = fn }
}

// NewModel creates a model over an already loaded collection. The active pointer is
// left unset; call EnsureActive once startup is complete.
func NewModel(chats []Chat, saver Saver, logger *slog.Logger, opts ...Option) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Model{
		chats:  make([]Chat, 0, len(chats)),
		saver:  saver,
		logger: logger,
		newID:  NewID,
		now:    time.Now,
	}
	for _, c := range chats {
		if c.ID == "" {
			continue
		}
		m.chats = append(m.chats, c.Clone())
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create adds an empty chat at the head of the collection and makes it active.
func (m *Model) Create() Chat {
	chat := Chat{ID: m.uniqueID(), Messages: []Message{}}
	m.chats = append([]Chat{chat}, m.chats...)
	m.activeID = chat.ID
	m.persist()
	m.logger.Info("created chat", "chat_id", chat.ID, "chat_count", len(m.chats))
	return chat
}

func (m *Model) uniqueID() string {
	for {
		id := m.newID()
		if m.index(id) < 0 {
			return id
		}
	}
}

// Delete removes a chat. When the deleted chat was active, or the collection would be
// left empty, a replacement chat is created and returned.
func (m *Model) Delete(id string) (replacement *Chat, err error) {
	i := m.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	m.chats = append(m.chats[:i], m.chats[i+1:]...)
	m.persist()
	m.logger.Info("deleted chat", "chat_id", id)

	if id == m.activeID || len(m.chats) == 0 {
		chat := m.Create()
		return &chat, nil
	}
	return nil, nil
}

// Activate points the active chat at id.
func (m *Model) Activate(id string) (Chat, error) {
	i := m.index(id)
	if i < 0 {
		return Chat{}, ErrNotFound
	}
	m.activeID = id
	return m.chats[i].Clone(), nil
}

// EnsureActive guarantees an active chat, creating one if the collection is empty and
// otherwise activating the head. It reports whether a chat was created.
func (m *Model) EnsureActive() (Chat, bool) {
	if chat, ok := m.Active(); ok {
		return chat, false
	}
	if len(m.chats) == 0 {
		return m.Create(), true
	}
	m.activeID = m.chats[0].ID
	return m.chats[0].Clone(), false
}

// Append adds a message to a chat and persists the collection. System messages are
// transient and never stored. It reports whether the chat resolved.
func (m *Model) Append(chatID string, sender Sender, text string) (Message, bool) {
	if sender == SenderSystem {
		return Message{}, false
	}
	i := m.index(chatID)
	if i < 0 {
		m.logger.Warn("append to unknown chat", "chat_id", chatID)
		return Message{}, false
	}

	ts := m.now().UnixMilli()
	msgs := m.chats[i].Messages
	if n := len(msgs); n > 0 && msgs[n-1].Timestamp > ts {
		ts = msgs[n-1].Timestamp
	}
	msg := Message{Sender: sender, Text: text, Timestamp: ts}
	m.chats[i].Messages = append(msgs, msg)
	m.persist()
	return msg, true
}

// Active returns the active chat, if any.
func (m *Model) Active() (Chat, bool) {
	if m.activeID == "" {
		return Chat{}, false
	}
	return m.Get(m.activeID)
}

// ActiveID returns the active chat id or "".
func (m *Model) ActiveID() string {
	return m.activeID
}

// Get returns a copy of the chat with the given id.
func (m *Model) Get(id string) (Chat, bool) {
	i := m.index(id)
	if i < 0 {
		return Chat{}, false
	}
	return m.chats[i].Clone(), true
}

// Chats returns a copy of the collection in list order (newest first).
func (m *Model) Chats() []Chat {
	out := make([]Chat, len(m.chats))
	for i, c := range m.chats {
		out[i] = c.Clone()
	}
	return out
}

// Len returns the number of chats
func (m *Model) Len() int {
	return len(m.chats)
}

// Summaries builds the chat list rows.
func (m *Model) Summaries() []Summary {
	out := make([]Summary, len(m.chats))
	for i, c := range m.chats {
		out[i] = Summary{
			ID:           c.ID,
			Title:        c.Title(),
			Active:       c.ID == m.activeID,
			MessageCount: len(c.Messages),
		}
	}
	return out
}

// TitleFor returns the list title of a chat, or "" if it does not exist.
func (m *Model) TitleFor(id string) string {
	c, ok := m.Get(id)
	if !ok {
		return ""
	}
	return c.Title()
}

func (m *Model) index(id string) int {
	for i := range m.chats {
		if m.chats[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Model) persist() {
	if m.saver == nil {
		return
	}
	if !m.saver.SaveChats(m.chats) {
		m.logger.Debug("chat collection kept in memory only", "chat_count", len(m.chats))
	}
}
