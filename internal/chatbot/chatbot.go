// Package chatbot holds the conversation controller: it owns session state, drives the
// backend and the emergency call choreography, and reports every change as events.
// All methods must be called on the loop goroutine.
package chatbot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"Respondr/internal/backend"
	"Respondr/internal/emergency"
	"Respondr/internal/events"
	"Respondr/internal/loop"
	"Respondr/internal/session"
	"Respondr/internal/store"
	"Respondr/internal/telemetry"
)

const (
	Greeting        = "Hi there! I'm Respondr, your AI assistant. How can I help you today?"
	NoResponse      = "No response from Respondr"
	CredentialMask  = "••••••••••••••••••"
	DefaultReply    = 300 * time.Millisecond
	DefaultGreeting = time.Second
)

// Persistence is the durable state the controller reads at startup and writes on change.
type Persistence interface {
	session.Saver
	Credential() string
	SaveCredential(string) bool
	Theme() store.Theme
	SaveTheme(store.Theme) bool
	Chats() []session.Chat
}

// Options configures a ChatBot
type Options struct {
	Runtime     loop.Runtime
	Persistence Persistence
	Generator   backend.Generator
	Sink        events.Sink
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Meter       metric.Meter

	Timings        emergency.Timings
	ReplyDelay     time.Duration
	GreetingDelay  time.Duration
	Greeting       bool
	RequestTimeout time.Duration

	// EnvCredential is used when nothing is persisted. It is not saved.
	EnvCredential string

	SessionOptions []session.Option
}

// State is a snapshot of the session state.
type State struct {
	ActiveChatID  string
	HasCredential bool
	Emergency     emergency.State
	Processing    bool
	Verifying     bool
	Theme         store.Theme
	Epoch         uint64
}

// ChatBot is the conversation controller.
type ChatBot struct {
	rt      loop.Runtime
	persist Persistence
	gen     backend.Generator
	sink    events.Sink
	logger  *slog.Logger
	tracer  trace.Tracer

	model   *session.Model
	machine *emergency.Machine

	timings        emergency.Timings
	replyDelay     time.Duration
	greetingDelay  time.Duration
	greeting       bool
	requestTimeout time.Duration

	credential string
	theme      store.Theme
	processing bool
	verifying  bool
	// epoch invalidates pending timers on chat switch and emergency exit
	epoch uint64
	seq   int

	submissions    metric.Int64Counter
	emergencyCalls metric.Int64Counter
	backendErrors  metric.Int64Counter
}

// New creates a controller and rehydrates state from persistence. Call Start before
// handling input.
func New(opts Options) *ChatBot {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.Discard
	}
	tracer, meter := opts.Tracer, opts.Meter
	if tracer == nil || meter == nil {
		nopTracer, nopMeter := telemetry.Nop()
		if tracer == nil {
			tracer = nopTracer
		}
		if meter == nil {
			meter = nopMeter
		}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	cb := &ChatBot{
		rt:             opts.Runtime,
		persist:        opts.Persistence,
		gen:            opts.Generator,
		sink:           sink,
		logger:         logger,
		tracer:         tracer,
		timings:        opts.Timings,
		replyDelay:     opts.ReplyDelay,
		greetingDelay:  opts.GreetingDelay,
		greeting:       opts.Greeting,
		requestTimeout: opts.RequestTimeout,
	}

	cb.credential = opts.Persistence.Credential()
	if cb.credential == "" && opts.EnvCredential != "" {
		cb.credential = strings.TrimSpace(opts.EnvCredential)
		logger.Info("using credential from environment", "key", backend.Fingerprint(cb.credential))
	}
	cb.theme = opts.Persistence.Theme()
	cb.model = session.NewModel(opts.Persistence.Chats(), opts.Persistence, logger, opts.SessionOptions...)

	cb.machine = emergency.New()
	cb.machine.OnTransition = cb.onTransition

	cb.initMetrics(meter)
	return cb
}

func (cb *ChatBot) initMetrics(meter metric.Meter) {
	var err error
	if cb.submissions, err = meter.Int64Counter("respondr.submissions",
		metric.WithDescription("Accepted user submissions by route")); err != nil {
		cb.logger.Warn("failed to create counter", "name", "respondr.submissions", "error", err)
	}
	if cb.emergencyCalls, err = meter.Int64Counter("respondr.emergency.calls",
		metric.WithDescription("Simulated emergency calls started")); err != nil {
		cb.logger.Warn("failed to create counter", "name", "respondr.emergency.calls", "error", err)
	}
	if cb.backendErrors, err = meter.Int64Counter("respondr.backend.errors",
		metric.WithDescription("Failed backend requests")); err != nil {
		cb.logger.Warn("failed to create counter", "name", "respondr.backend.errors", "error", err)
	}
}

// Start guarantees an active chat and emits the initial view: theme, chat list and the
// opened chat.
func (cb *ChatBot) Start() {
	chat, created := cb.model.EnsureActive()
	cb.logger.Info("session started",
		"chats", cb.model.Len(),
		"active_chat", chat.ID,
		"credential", cb.credential != "",
		"theme", string(cb.theme))

	cb.emit(events.ThemeChanged{Theme: cb.theme})
	cb.openView(chat)
	if created || len(chat.Messages) == 0 {
		cb.scheduleGreeting(chat.ID)
	}
}

// Submit handles one line of user input. It reports whether the text was accepted;
// empty text, a missing credential or a pending backend request reject it without any
// state change.
func (cb *ChatBot) Submit(text string) bool {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return false
	case cb.credential == "":
		cb.logger.Debug("submit rejected: no credential")
		return false
	case cb.processing:
		cb.logger.Debug("submit dropped: request in flight")
		return false
	}

	chat, created := cb.model.EnsureActive()
	if created {
		cb.openView(chat)
	}

	msg, ok := cb.model.Append(chat.ID, session.SenderUser, text)
	if !ok {
		return false
	}
	cb.emit(events.MessageAppended{ChatID: chat.ID, Message: msg})
	if cb.isFirstUserMessage(chat.ID) {
		cb.emitChatList()
	}

	var route string
	switch {
	case cb.machine.Active() && emergency.WantsEnd(text):
		route = "emergency_end"
		cb.endCall(chat.ID)
	case cb.machine.Active():
		route = "dispatcher"
		cb.dispatcherReply(chat.ID, text)
	case emergency.Triggers(text):
		route = "emergency_start"
		cb.startCall(chat.ID)
	default:
		route = "backend"
		cb.callBackend(chat.ID, text)
	}

	ctx, span := cb.tracer.Start(context.Background(), "chatbot.submit",
		trace.WithAttributes(attribute.String("route", route), attribute.String("chat_id", chat.ID)))
	span.End()
	if cb.submissions != nil {
		cb.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
	}
	cb.logger.Debug("submission accepted", "chat_id", chat.ID, "route", route)
	return true
}

func (cb *ChatBot) callBackend(chatID, text string) {
	cb.processing = true
	loadingID := cb.showLoading()
	credential := cb.credential
	timeout := cb.requestTimeout

	cb.rt.Go(func() func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		reply, err := cb.gen.Generate(ctx, credential, text)
		return func() { cb.finishBackend(chatID, loadingID, reply, err) }
	})
}

// finishBackend runs on the loop once the request resolves. The reply belongs to the
// chat that asked, even if the user has switched away since.
func (cb *ChatBot) finishBackend(chatID string, loadingID int, reply string, err error) {
	defer func() { cb.processing = false }()

	cb.emit(events.LoadingRemoved{ID: loadingID})

	if err != nil {
		if cb.backendErrors != nil {
			cb.backendErrors.Add(context.Background(), 1)
		}
		cb.logger.Error("backend request failed", "chat_id", chatID, "error", err)
		cb.showNotice("Error: "+backend.Describe(err), false)
		return
	}
	if reply == "" {
		reply = NoResponse
	}

	cb.rt.After(cb.replyDelay, func() {
		msg, ok := cb.model.Append(chatID, session.SenderAI, reply)
		if !ok {
			return
		}
		if chatID != cb.model.ActiveID() {
			return
		}
		cb.emit(events.MessageAppended{ChatID: chatID, Message: msg, Emergency: cb.machine.Active()})
		if chat, ok := cb.model.Get(chatID); ok && len(chat.Messages) <= 2 {
			cb.emitChatList()
		}
	})
}

// NewChat creates an empty chat at the head and opens it. An emergency call is left
// silently.
func (cb *ChatBot) NewChat() session.Chat {
	cb.machine.Abandon()
	cb.bumpEpoch()
	chat := cb.model.Create()
	cb.openView(chat)
	cb.scheduleGreeting(chat.ID)
	return chat
}

// DeleteChat removes a chat. Deleting the active chat opens a fresh replacement. It
// reports false for an unknown id.
func (cb *ChatBot) DeleteChat(id string) bool {
	replacement, err := cb.model.Delete(id)
	if err != nil {
		cb.logger.Debug("delete ignored", "chat_id", id, "error", err)
		return false
	}
	if replacement == nil {
		cb.emitChatList()
		return true
	}

	cb.machine.Abandon()
	cb.bumpEpoch()
	cb.openView(*replacement)
	cb.scheduleGreeting(replacement.ID)
	return true
}

// OpenChat makes id the active chat and redraws it. It reports false for an unknown id.
func (cb *ChatBot) OpenChat(id string) bool {
	chat, err := cb.model.Activate(id)
	if err != nil {
		cb.logger.Debug("open ignored", "chat_id", id, "error", err)
		return false
	}
	cb.machine.Abandon()
	cb.bumpEpoch()
	cb.openView(chat)
	if len(chat.Messages) == 0 {
		cb.scheduleGreeting(chat.ID)
	}
	return true
}

func (cb *ChatBot) scheduleGreeting(chatID string) {
	if !cb.greeting {
		return
	}
	ticket := cb.epoch
	cb.rt.After(cb.greetingDelay, func() {
		if cb.stale(ticket) {
			return
		}
		cb.appendAI(chatID, Greeting)
	})
}

// Summaries lists the chats in display order
func (cb *ChatBot) Summaries() []session.Summary {
	return cb.model.Summaries()
}

// Chats returns a copy of the collection
func (cb *ChatBot) Chats() []session.Chat {
	return cb.model.Chats()
}

// State returns a snapshot of the session state
func (cb *ChatBot) State() State {
	return State{
		ActiveChatID:  cb.model.ActiveID(),
		HasCredential: cb.credential != "",
		Emergency:     cb.machine.State(),
		Processing:    cb.processing,
		Verifying:     cb.verifying,
		Theme:         cb.theme,
		Epoch:         cb.epoch,
	}
}

// MaskedCredential returns a fixed mask when a credential is set, otherwise "".
func (cb *ChatBot) MaskedCredential() string {
	if cb.credential == "" {
		return ""
	}
	return CredentialMask
}

func (cb *ChatBot) appendAI(chatID, text string) {
	msg, ok := cb.model.Append(chatID, session.SenderAI, text)
	if !ok {
		return
	}
	cb.emit(events.MessageAppended{ChatID: chatID, Message: msg, Emergency: cb.machine.Active()})
}

func (cb *ChatBot) isFirstUserMessage(chatID string) bool {
	chat, ok := cb.model.Get(chatID)
	if !ok {
		return false
	}
	n := 0
	for _, m := range chat.Messages {
		if m.Sender == session.SenderUser {
			n++
		}
	}
	return n == 1
}

func (cb *ChatBot) openView(chat session.Chat) {
	cb.emitChatList()
	cb.emit(events.ChatOpened{ChatID: chat.ID, Messages: chat.Messages})
}

func (cb *ChatBot) emitChatList() {
	cb.emit(events.ChatListChanged{Chats: cb.model.Summaries()})
}

func (cb *ChatBot) showNotice(text string, persistent bool) int {
	cb.seq++
	cb.emit(events.NoticeShown{ID: cb.seq, Text: text, Persistent: persistent})
	return cb.seq
}

func (cb *ChatBot) showLoading() int {
	cb.seq++
	cb.emit(events.LoadingShown{ID: cb.seq})
	return cb.seq
}

func (cb *ChatBot) bumpEpoch() {
	cb.epoch++
}

func (cb *ChatBot) stale(ticket uint64) bool {
	return ticket != cb.epoch
}

func (cb *ChatBot) emit(e events.Event) {
	cb.sink.Emit(e)
}
