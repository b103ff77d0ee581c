// Package events is the render contract between the chat core and any view.
package events

import (
	"sync"

	"Respondr/internal/emergency"
	"Respondr/internal/session"
	"Respondr/internal/store"
)

// Event is one ordered render instruction.
type Event interface {
	event()
}

// MessageAppended adds one bubble to the open chat.
type MessageAppended struct {
	ChatID  string
	Message session.Message
	// Emergency marks AI messages produced during a call; the view shows a phone icon.
	Emergency bool
}

// NoticeShown displays a system notice. Transient notices are dropped when the chat
// is redrawn; persistent ones stay until then.
type NoticeShown struct {
	ID         int
	Text       string
	Persistent bool
}

// NoticeRemoved removes a notice previously shown.
type NoticeRemoved struct {
	ID int
}

// LoadingShown displays a typing indicator.
type LoadingShown struct {
	ID int
}

// LoadingRemoved removes a typing indicator.
type LoadingRemoved struct {
	ID int
}

// ChatListChanged asks the view to rebuild the chat list.
type ChatListChanged struct {
	Chats []session.Summary
}

// ChatOpened replaces the conversation pane with a chat's history.
type ChatOpened struct {
	ChatID   string
	Messages []session.Message
}

// EmergencyChanged toggles the emergency-mode presentation. Leaving the mode clears
// per-message emergency indicators.
type EmergencyChanged struct {
	Active bool
	State  emergency.State
}

// ThemeChanged reports the new theme.
type ThemeChanged struct {
	Theme store.Theme
}

// CredentialResult reports the outcome of saving a credential. Rejections are shown as
// a blocking alert.
type CredentialResult struct {
	Accepted bool
	Message  string
	Masked   string
}

func (MessageAppended) event()  {}
func (NoticeShown) event()      {}
func (NoticeRemoved) event()    {}
func (LoadingShown) event()     {}
func (LoadingRemoved) event()   {}
func (ChatListChanged) event()  {}
func (ChatOpened) event()       {}
func (EmergencyChanged) event() {}
func (ThemeChanged) event()     {}
func (CredentialResult) event() {}

// Sink receives events in order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// Recorder keeps every event, for tests and headless use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset forgets recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Messages returns the recorded MessageAppended events
func (r *Recorder) Messages() []MessageAppended {
	var out []MessageAppended
	for _, e := range r.Events() {
		if m, ok := e.(MessageAppended); ok {
			out = append(out, m)
		}
	}
	return out
}

// Notices returns the recorded NoticeShown events
func (r *Recorder) Notices() []NoticeShown {
	var out []NoticeShown
	for _, e := range r.Events() {
		if n, ok := e.(NoticeShown); ok {
			out = append(out, n)
		}
	}
	return out
}
