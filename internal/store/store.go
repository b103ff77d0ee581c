// Package store persists the credential, the theme preference and the chat collection.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Respondr/internal/session"
)

// Keys used in the key-value store. They match the original browser localStorage keys
// so exported data stays interchangeable.
const (
	KeyCredential = "respondr_api_key"
	KeyTheme      = "respondr_theme"
	KeyChats      = "respondr_chats"
)

// ErrMissing is returned by KV.Get when a key has no value.
var ErrMissing = errors.New("key not found")

// KV is a durable string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Theme is the persisted colour scheme preference
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Persistence wraps a KV and swallows its failures: reads degrade to empty values,
// writes report false and are logged.
type Persistence struct {
	kv      KV
	logger  *slog.Logger
	timeout time.Duration
}

// NewPersistence creates a Persistence over kv.
func NewPersistence(kv KV, logger *slog.Logger) *Persistence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persistence{kv: kv, logger: logger, timeout: 3 * time.Second}
}

// Credential returns the stored API credential or "".
func (p *Persistence) Credential() string {
	v, _ := p.load(KeyCredential)
	return v
}

// SaveCredential stores the API credential.
func (p *Persistence) SaveCredential(credential string) bool {
	return p.save(KeyCredential, credential)
}

// Theme returns the stored theme. Anything but "light" means dark.
func (p *Persistence) Theme() Theme {
	v, _ := p.load(KeyTheme)
	if Theme(v) == ThemeLight {
		return ThemeLight
	}
	return ThemeDark
}

// SaveTheme stores the theme preference.
func (p *Persistence) SaveTheme(theme Theme) bool {
	return p.save(KeyTheme, string(theme))
}

// Chats returns the stored chat collection. A missing or malformed value yields an
// empty collection.
func (p *Persistence) Chats() []session.Chat {
	raw, ok := p.load(KeyChats)
	if !ok || raw == "" {
		return nil
	}
	chats, err := DecodeChats([]byte(raw))
	if err != nil {
		p.logger.Warn("discarding malformed chat collection", "error", err, "bytes", len(raw))
		return nil
	}
	return chats
}

// SaveChats stores the whole chat collection. It satisfies session.Saver.
func (p *Persistence) SaveChats(chats []session.Chat) bool {
	data, err := EncodeChats(chats)
	if err != nil {
		p.logger.Warn("failed to encode chat collection", "error", err)
		return false
	}
	return p.save(KeyChats, string(data))
}

// Close closes the underlying store
func (p *Persistence) Close() error {
	if p.kv == nil {
		return nil
	}
	return p.kv.Close()
}

func (p *Persistence) load(key string) (string, bool) {
	if p.kv == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	v, err := p.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMissing) {
			p.logger.Warn("storage read failed", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func (p *Persistence) save(key, value string) bool {
	if p.kv == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.kv.Set(ctx, key, value); err != nil {
		p.logger.Warn("storage write failed", "key", key, "error", err)
		return false
	}
	return true
}

// EncodeChats serializes a chat collection in the persisted layout. System messages
// are transient and are dropped.
func EncodeChats(chats []session.Chat) ([]byte, error) {
	out := make([]session.Chat, 0, len(chats))
	for _, c := range chats {
		msgs := make([]session.Message, 0, len(c.Messages))
		for _, m := range c.Messages {
			if m.Sender == session.SenderSystem {
				continue
			}
			msgs = append(msgs, m)
		}
		out = append(out, session.Chat{ID: c.ID, Messages: msgs})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chats: %w", err)
	}
	return data, nil
}

// DecodeChats parses a persisted chat collection.
func DecodeChats(data []byte) ([]session.Chat, error) {
	var chats []session.Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chats: %w", err)
	}
	for i := range chats {
		if chats[i].Messages == nil {
			chats[i].Messages = []session.Message{}
		}
	}
	return chats, nil
}
