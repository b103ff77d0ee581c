package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"Respondr/internal/chatbot"
	"Respondr/internal/events"
)

// Bridge turns view intents into tasks on the controller's loop, and controller events
// into program messages.
type Bridge struct {
	post func(func()) bool
	bot  *chatbot.ChatBot
	send func(tea.Msg)
}

// NewBridge connects the loop behind post to a program's Send. Attach the controller
// before any intent is raised.
func NewBridge(post func(func()) bool, send func(tea.Msg)) *Bridge {
	return &Bridge{post: post, send: send}
}

// Attach sets the controller intents are delivered to
func (b *Bridge) Attach(bot *chatbot.ChatBot) {
	b.bot = bot
}

// Sink forwards controller events to the program
func (b *Bridge) Sink() events.Sink {
	return events.SinkFunc(func(e events.Event) { b.send(e) })
}

func (b *Bridge) Submit(text string) {
	b.post(func() {
		accepted := b.bot.Submit(text)
		b.send(SubmitResult{Text: text, Accepted: accepted})
	})
}

func (b *Bridge) NewChat() {
	b.post(func() { b.bot.NewChat() })
}

func (b *Bridge) DeleteChat(id string) {
	b.post(func() { b.bot.DeleteChat(id) })
}

func (b *Bridge) OpenChat(id string) {
	b.post(func() { b.bot.OpenChat(id) })
}

func (b *Bridge) SaveCredential(candidate string) {
	b.post(func() { b.bot.SaveCredential(candidate) })
}

func (b *Bridge) ToggleTheme() {
	b.post(func() { b.bot.ToggleTheme() })
}
