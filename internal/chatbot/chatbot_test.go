package chatbot

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Respondr/internal/backend"
	"Respondr/internal/dispatcher"
	"Respondr/internal/emergency"
	"Respondr/internal/events"
	"Respondr/internal/loop"
	"Respondr/internal/session"
	"Respondr/internal/store"
)

type fakeGenerator struct {
	mu       sync.Mutex
	prompts  []string
	verified []string
	reply    string
	err      error
	accept   map[string]bool
}

func (f *fakeGenerator) Generate(_ context.Context, credential, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeGenerator) Verify(_ context.Context, credential string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, credential)
	return f.accept[credential]
}

func (f *fakeGenerator) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type harness struct {
	cb      *ChatBot
	rt      *loop.Manual
	rec     *events.Recorder
	gen     *fakeGenerator
	kv      *store.Memory
	persist *store.Persistence
}

func newHarness(t *testing.T, configure ...func(*Options, *store.Persistence)) *harness {
	t.Helper()
	h := &harness{
		rt:  loop.NewManual(),
		rec: &events.Recorder{},
		gen: &fakeGenerator{reply: "Hello from the model", accept: map[string]bool{}},
		kv:  store.NewMemory(),
	}
	h.persist = store.NewPersistence(h.kv, nil)
	require.True(t, h.persist.SaveCredential("test-key"))

	opts := Options{
		Runtime:       h.rt,
		Persistence:   h.persist,
		Generator:     h.gen,
		Sink:          h.rec,
		Timings:       emergency.DefaultTimings(),
		ReplyDelay:    DefaultReply,
		GreetingDelay: DefaultGreeting,
	}
	for _, fn := range configure {
		fn(&opts, h.persist)
	}
	h.cb = New(opts)
	h.cb.Start()
	h.rt.Flush()
	h.rec.Reset()
	return h
}

func (h *harness) activeChat(t *testing.T) session.Chat {
	t.Helper()
	for _, c := range h.cb.Chats() {
		if c.ID == h.cb.State().ActiveChatID {
			return c
		}
	}
	t.Fatal("no active chat")
	return session.Chat{}
}

func (h *harness) aiMessages() []string {
	var out []string
	for _, m := range h.rec.Messages() {
		if m.Message.Sender == session.SenderAI {
			out = append(out, m.Message.Text)
		}
	}
	return out
}

func noticesWith(rec *events.Recorder, text string) int {
	n := 0
	for _, ns := range rec.Notices() {
		if ns.Text == text {
			n++
		}
	}
	return n
}

func TestStart_EmptyCollectionCreatesChat(t *testing.T) {
	rt := loop.NewManual()
	rec := &events.Recorder{}
	persist := store.NewPersistence(store.NewMemory(), nil)
	cb := New(Options{
		Runtime:       rt,
		Persistence:   persist,
		Generator:     &fakeGenerator{},
		Sink:          rec,
		Greeting:      true,
		GreetingDelay: time.Second,
	})
	cb.Start()

	evs := rec.Events()
	require.Len(t, evs, 3)
	assert.Equal(t, events.ThemeChanged{Theme: store.ThemeDark}, evs[0])
	list, ok := evs[1].(events.ChatListChanged)
	require.True(t, ok)
	require.Len(t, list.Chats, 1)
	assert.True(t, list.Chats[0].Active)
	opened, ok := evs[2].(events.ChatOpened)
	require.True(t, ok)
	assert.Empty(t, opened.Messages)
	assert.Equal(t, cb.State().ActiveChatID, opened.ChatID)

	rt.Advance(999 * time.Millisecond)
	assert.Empty(t, rec.Messages())
	rt.Advance(time.Millisecond)
	require.Len(t, rec.Messages(), 1)
	assert.Equal(t, Greeting, rec.Messages()[0].Message.Text)

	// the greeting is persisted
	assert.Len(t, persist.Chats()[0].Messages, 1)
	assert.False(t, cb.State().HasCredential)
}

func TestStart_ActivatesHeadOfPersistedCollection(t *testing.T) {
	h := newHarness(t, func(o *Options, p *store.Persistence) {
		p.SaveChats([]session.Chat{
			{ID: "newest", Messages: []session.Message{{Sender: session.SenderUser, Text: "hi", Timestamp: 2}}},
			{ID: "older", Messages: []session.Message{{Sender: session.SenderUser, Text: "yo", Timestamp: 1}}},
		})
		o.Greeting = true
	})

	assert.Equal(t, "newest", h.cb.State().ActiveChatID)
	assert.Len(t, h.cb.Chats(), 2)
	// non-empty head: no greeting was scheduled
	assert.Len(t, h.activeChat(t).Messages, 1)
}

func TestSubmit_RejectsWithoutStateChange(t *testing.T) {
	h := newHarness(t)
	before := h.cb.Chats()
	state := h.cb.State()

	assert.False(t, h.cb.Submit(""))
	assert.False(t, h.cb.Submit("   \n\t"))
	assert.Empty(t, h.rec.Events())
	assert.Equal(t, before, h.cb.Chats())
	assert.Equal(t, state, h.cb.State())

	noKey := newHarness(t, func(o *Options, p *store.Persistence) {
		p.SaveCredential("")
	})
	before = noKey.cb.Chats()
	state = noKey.cb.State()
	assert.False(t, noKey.cb.Submit("hello"))
	assert.Empty(t, noKey.rec.Events())
	assert.Equal(t, before, noKey.cb.Chats())
	assert.Equal(t, state, noKey.cb.State())
	assert.Zero(t, noKey.rt.PendingJobs())
}

func TestSubmit_BackendReply(t *testing.T) {
	h := newHarness(t)
	chatID := h.cb.State().ActiveChatID

	require.True(t, h.cb.Submit("  what is the weather  "))
	assert.True(t, h.cb.State().Processing)

	evs := h.rec.Events()
	require.Len(t, evs, 3)
	appended := evs[0].(events.MessageAppended)
	assert.Equal(t, chatID, appended.ChatID)
	assert.Equal(t, session.SenderUser, appended.Message.Sender)
	assert.Equal(t, "what is the weather", appended.Message.Text)
	list := evs[1].(events.ChatListChanged)
	assert.Equal(t, "what is the weather", list.Chats[0].Title)
	loading := evs[2].(events.LoadingShown)

	assert.Empty(t, h.gen.Prompts())
	require.Equal(t, 1, h.rt.Complete())
	assert.Equal(t, []string{"what is the weather"}, h.gen.Prompts())
	assert.False(t, h.cb.State().Processing)
	assert.Equal(t, events.LoadingRemoved{ID: loading.ID}, h.rec.Events()[3])

	h.rt.Advance(299 * time.Millisecond)
	assert.Empty(t, h.aiMessages())
	h.rt.Advance(time.Millisecond)
	assert.Equal(t, []string{"Hello from the model"}, h.aiMessages())

	last := h.rec.Events()[len(h.rec.Events())-1]
	_, isList := last.(events.ChatListChanged)
	assert.True(t, isList, "chat list refreshed after the first exchange")

	stored := h.persist.Chats()
	require.Len(t, stored[0].Messages, 2)
	assert.Equal(t, session.SenderAI, stored[0].Messages[1].Sender)
}

func TestSubmit_SecondSubmitWhilePendingIsDropped(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.cb.Submit("first"))
	assert.False(t, h.cb.Submit("second"))

	require.Equal(t, 1, h.rt.Complete())
	h.rt.Flush()

	assert.Equal(t, []string{"first"}, h.gen.Prompts())
	var userTexts []string
	for _, m := range h.activeChat(t).Messages {
		if m.Sender == session.SenderUser {
			userTexts = append(userTexts, m.Text)
		}
	}
	assert.Equal(t, []string{"first"}, userTexts)

	// the flag has cleared, so the next submission goes through
	require.True(t, h.cb.Submit("third"))
	h.rt.Complete()
	assert.Equal(t, []string{"first", "third"}, h.gen.Prompts())
}

func TestSubmit_EmptyReplyFallsBack(t *testing.T) {
	h := newHarness(t)
	h.gen.reply = ""

	require.True(t, h.cb.Submit("hi"))
	h.rt.Complete()
	h.rt.Flush()
	assert.Equal(t, []string{NoResponse}, h.aiMessages())
}

func TestSubmit_BackendErrorShowsNotice(t *testing.T) {
	h := newHarness(t)
	h.gen.err = &backend.APIError{StatusCode: 400, Message: "API key not valid"}

	require.True(t, h.cb.Submit("hi"))
	h.rt.Complete()
	h.rt.Flush()

	assert.False(t, h.cb.State().Processing)
	assert.Empty(t, h.aiMessages())
	notices := h.rec.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Error: API key not valid", notices[0].Text)
	assert.False(t, notices[0].Persistent)

	// the user message is still recorded
	assert.Len(t, h.activeChat(t).Messages, 1)
}

func TestSubmit_TransportErrorDescription(t *testing.T) {
	h := newHarness(t)
	h.gen.err = errors.New("failed to send request: connection refused")

	require.True(t, h.cb.Submit("hi"))
	h.rt.Complete()
	assert.Equal(t, "Error: failed to send request: connection refused", h.rec.Notices()[0].Text)
}

func TestSubmit_ReplyStaysWithOriginatingChat(t *testing.T) {
	h := newHarness(t)
	origin := h.cb.State().ActiveChatID

	require.True(t, h.cb.Submit("question"))
	other := h.cb.NewChat()
	h.rec.Reset()

	h.rt.Complete()
	h.rt.Flush()

	assert.Empty(t, h.aiMessages(), "nothing rendered into the chat on screen")
	assert.Equal(t, other.ID, h.cb.State().ActiveChatID)
	for _, c := range h.cb.Chats() {
		if c.ID == origin {
			require.Len(t, c.Messages, 2)
			assert.Equal(t, "Hello from the model", c.Messages[1].Text)
		}
		if c.ID == other.ID {
			assert.Empty(t, c.Messages)
		}
	}
}

func connectCall(t *testing.T, h *harness) {
	t.Helper()
	require.True(t, h.cb.Submit("I need to call 911"))
	h.rt.Flush()
	require.Equal(t, emergency.Connected, h.cb.State().Emergency)
	h.rec.Reset()
}

func TestEmergency_EntryChoreography(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.cb.Submit("I need to call 911"))
	assert.Equal(t, emergency.Connecting, h.cb.State().Emergency)
	assert.Zero(t, h.rt.PendingJobs(), "backend never consulted")
	assert.False(t, h.cb.State().Processing)
	require.Equal(t, 1, noticesWith(h.rec, emergency.CallingNotice))
	calling := h.rec.Notices()[0]

	h.rt.Advance(1999 * time.Millisecond)
	assert.Equal(t, emergency.Connecting, h.cb.State().Emergency)
	h.rt.Advance(time.Millisecond)
	assert.Equal(t, emergency.Connected, h.cb.State().Emergency)
	assert.Contains(t, h.rec.Events(), events.NoticeRemoved{ID: calling.ID})
	connected := h.rec.Notices()[1]
	assert.Equal(t, emergency.ConnectedNotice, connected.Text)
	assert.True(t, connected.Persistent)
	assert.Contains(t, h.rec.Events(), events.EmergencyChanged{Active: true, State: emergency.Connected})

	h.rt.Advance(500 * time.Millisecond)
	last := h.rec.Events()[len(h.rec.Events())-1]
	loading, ok := last.(events.LoadingShown)
	require.True(t, ok)
	assert.Empty(t, h.aiMessages())

	h.rt.Advance(time.Second)
	assert.Contains(t, h.rec.Events(), events.LoadingRemoved{ID: loading.ID})
	assert.Equal(t, []string{emergency.Opener}, h.aiMessages())
	assert.True(t, h.rec.Messages()[len(h.rec.Messages())-1].Emergency)

	h.rt.Flush()
	assert.Equal(t, []string{emergency.Opener}, h.aiMessages(), "exactly one opener")
}

func TestEmergency_DispatcherAnswersInsteadOfBackend(t *testing.T) {
	h := newHarness(t)
	connectCall(t, h)

	require.True(t, h.cb.Submit("there's a fire at 5th street"))
	assert.Zero(t, h.rt.PendingJobs())
	h.rt.Advance(999 * time.Millisecond)
	assert.Empty(t, h.aiMessages())
	h.rt.Advance(time.Millisecond)
	assert.Equal(t, []string{dispatcher.Response(dispatcher.Fire)}, h.aiMessages())

	require.True(t, h.cb.Submit("help, someone is unconscious"))
	h.rt.Flush()
	assert.Equal(t, dispatcher.Response(dispatcher.NeedLocation), h.aiMessages()[1])

	// a second 911 while connected is just another dispatcher turn
	require.True(t, h.cb.Submit("911 again at the mall"))
	h.rt.Flush()
	assert.Equal(t, emergency.Connected, h.cb.State().Emergency)
	assert.Len(t, h.aiMessages(), 3)
	assert.Empty(t, h.gen.Prompts())
}

func TestEmergency_EndCall(t *testing.T) {
	h := newHarness(t)
	connectCall(t, h)

	require.True(t, h.cb.Submit("please end this"))
	h.rt.Advance(809 * time.Millisecond)
	assert.Equal(t, emergency.Connected, h.cb.State().Emergency)

	h.rt.Advance(time.Millisecond)
	assert.Equal(t, emergency.Normal, h.cb.State().Emergency)
	assert.Contains(t, h.rec.Events(), events.EmergencyChanged{Active: false, State: emergency.Normal})
	require.Equal(t, 1, noticesWith(h.rec, emergency.EndedNotice))
	assert.True(t, h.rec.Notices()[0].Persistent)
	assert.Empty(t, h.aiMessages())

	h.rt.Advance(900 * time.Millisecond)
	assert.Equal(t, []string{emergency.Confirmation}, h.aiMessages())
	assert.False(t, h.rec.Messages()[len(h.rec.Messages())-1].Emergency)

	h.rt.Flush()
	assert.Len(t, h.rec.Notices(), 1)
	assert.Len(t, h.aiMessages(), 1)

	// back to normal: the next message reaches the backend
	require.True(t, h.cb.Submit("thanks"))
	assert.Equal(t, 1, h.rt.PendingJobs())
}

func TestEmergency_RepeatedEndHangsUpOnce(t *testing.T) {
	h := newHarness(t)
	connectCall(t, h)

	require.True(t, h.cb.Submit("end"))
	require.True(t, h.cb.Submit("END now"))
	h.rt.Flush()

	assert.Equal(t, 1, noticesWith(h.rec, emergency.EndedNotice))
	assert.Equal(t, []string{emergency.Confirmation}, h.aiMessages())
	var shown, removed int
	for _, e := range h.rec.Events() {
		switch e.(type) {
		case events.LoadingShown:
			shown++
		case events.LoadingRemoved:
			removed++
		}
	}
	assert.Equal(t, 2, shown)
	assert.Equal(t, shown, removed)
}

func TestEmergency_NewChatWhileConnectingDropsOpener(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.cb.Submit("call 911"))
	h.rt.Advance(time.Second)

	h.cb.NewChat()
	assert.Equal(t, emergency.Normal, h.cb.State().Emergency)
	assert.Contains(t, h.rec.Events(), events.EmergencyChanged{Active: false, State: emergency.Normal})

	h.rt.Flush()
	assert.Empty(t, h.aiMessages())
	assert.Zero(t, noticesWith(h.rec, emergency.ConnectedNotice))
	assert.Zero(t, noticesWith(h.rec, emergency.EndedNotice), "silent exit")
	for _, c := range h.cb.Chats() {
		for _, m := range c.Messages {
			assert.NotEqual(t, emergency.Opener, m.Text)
		}
	}
}

func TestEmergency_SwitchDuringTypingRemovesIndicator(t *testing.T) {
	h := newHarness(t, func(o *Options, p *store.Persistence) {
		p.SaveChats([]session.Chat{
			{ID: "a", Messages: []session.Message{{Sender: session.SenderUser, Text: "a", Timestamp: 1}}},
			{ID: "b", Messages: []session.Message{{Sender: session.SenderUser, Text: "b", Timestamp: 1}}},
		})
	})
	require.True(t, h.cb.Submit("call 911"))
	h.rt.Advance(2500 * time.Millisecond)

	last := h.rec.Events()[len(h.rec.Events())-1]
	loading, ok := last.(events.LoadingShown)
	require.True(t, ok)

	require.True(t, h.cb.OpenChat("b"))
	h.rt.Flush()

	assert.Contains(t, h.rec.Events(), events.LoadingRemoved{ID: loading.ID})
	assert.Empty(t, h.aiMessages())
	assert.Equal(t, "b", h.cb.State().ActiveChatID)
}

func TestEmergency_DispatcherReplyDroppedAfterSwitch(t *testing.T) {
	h := newHarness(t)
	connectCall(t, h)
	origin := h.cb.State().ActiveChatID

	require.True(t, h.cb.Submit("fire at the corner"))
	h.cb.NewChat()
	h.rt.Flush()

	assert.Empty(t, h.aiMessages())
	for _, c := range h.cb.Chats() {
		if c.ID == origin {
			assert.Equal(t, "fire at the corner", c.Messages[len(c.Messages)-1].Text)
		}
	}
}

func TestChats_DeleteAndOpen(t *testing.T) {
	h := newHarness(t)
	first := h.cb.State().ActiveChatID
	second := h.cb.NewChat()

	assert.False(t, h.cb.DeleteChat("missing"))
	assert.False(t, h.cb.OpenChat("missing"))
	assert.Equal(t, second.ID, h.cb.State().ActiveChatID)

	// inactive delete keeps the pointer
	require.True(t, h.cb.DeleteChat(first))
	assert.Equal(t, second.ID, h.cb.State().ActiveChatID)
	assert.Len(t, h.cb.Chats(), 1)

	// deleting the last chat creates a replacement
	epoch := h.cb.State().Epoch
	require.True(t, h.cb.DeleteChat(second.ID))
	require.Len(t, h.cb.Chats(), 1)
	assert.NotEqual(t, second.ID, h.cb.State().ActiveChatID)
	assert.Greater(t, h.cb.State().Epoch, epoch)
}

func TestChats_NeverEmpty(t *testing.T) {
	h := newHarness(t)
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		chats := h.cb.Chats()
		switch r.Intn(3) {
		case 0:
			h.cb.NewChat()
		case 1:
			h.cb.DeleteChat(chats[r.Intn(len(chats))].ID)
		case 2:
			h.cb.OpenChat(chats[r.Intn(len(chats))].ID)
		}
		require.NotEmpty(t, h.cb.Chats())
		active := 0
		for _, s := range h.cb.Summaries() {
			if s.Active {
				active++
			}
		}
		require.Equal(t, 1, active)
	}
}

func TestGreeting_DroppedAfterSwitch(t *testing.T) {
	h := newHarness(t, func(o *Options, p *store.Persistence) {
		p.SaveChats([]session.Chat{
			{ID: "old", Messages: []session.Message{{Sender: session.SenderUser, Text: "hi", Timestamp: 1}}},
		})
		o.Greeting = true
	})

	fresh := h.cb.NewChat()
	h.rt.Advance(500 * time.Millisecond)
	require.True(t, h.cb.OpenChat("old"))
	h.rt.Flush()

	assert.Empty(t, h.aiMessages())
	for _, c := range h.cb.Chats() {
		if c.ID == fresh.ID {
			assert.Empty(t, c.Messages)
		}
	}

	// opening an empty chat greets it
	require.True(t, h.cb.OpenChat(fresh.ID))
	h.rt.Flush()
	assert.Equal(t, []string{Greeting}, h.aiMessages())
}

func TestPersistence_ReloadsIdentically(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.cb.Submit("Is there a fire near 5th avenue and main?"))
	h.rt.Complete()
	h.rt.Flush()
	h.cb.NewChat()
	require.True(t, h.cb.Submit("second chat"))
	h.rt.Complete()
	h.rt.Flush()

	reloaded := New(Options{
		Runtime:     loop.NewManual(),
		Persistence: store.NewPersistence(h.kv, nil),
		Generator:   h.gen,
	})
	assert.Equal(t, h.cb.Chats(), reloaded.Chats())

	titles := reloaded.Summaries()
	assert.Equal(t, "second chat", titles[0].Title)
	assert.Equal(t, "Is there a fire near 5th ...", titles[1].Title)
}

func TestPersistence_WriteFailureKeepsMemoryState(t *testing.T) {
	h := newHarness(t)
	h.kv.FailWrites = errors.New("quota exceeded")

	require.True(t, h.cb.Submit("still works"))
	h.rt.Complete()
	h.rt.Flush()

	assert.Len(t, h.activeChat(t).Messages, 2)
	assert.Empty(t, h.rec.Notices(), "storage failures are not surfaced")
	assert.Empty(t, h.persist.Chats()[0].Messages)
}

func TestSaveCredential(t *testing.T) {
	h := newHarness(t, func(o *Options, p *store.Persistence) {
		p.SaveCredential("")
	})
	h.gen.accept["good-key"] = true

	h.cb.SaveCredential("   ")
	assert.Equal(t, []events.Event{events.CredentialResult{Message: EmptyCredentialMessage}}, h.rec.Events())
	assert.Zero(t, h.rt.PendingJobs())
	h.rec.Reset()

	h.cb.SaveCredential("bad-key")
	h.cb.SaveCredential("good-key")
	assert.True(t, h.cb.State().Verifying)
	require.Equal(t, 1, h.rt.Complete(), "second save dropped while verifying")
	assert.Equal(t, []string{"bad-key"}, h.gen.verified)
	assert.Equal(t, []events.Event{events.CredentialResult{Message: InvalidCredentialMessage}}, h.rec.Events())
	assert.False(t, h.cb.State().HasCredential)
	assert.Empty(t, h.cb.MaskedCredential())
	h.rec.Reset()

	h.cb.SaveCredential(" good-key ")
	h.rt.Complete()
	assert.False(t, h.cb.State().Verifying)
	assert.True(t, h.cb.State().HasCredential)
	assert.Equal(t, "good-key", h.persist.Credential())
	assert.Equal(t, CredentialMask, h.cb.MaskedCredential())
	assert.Contains(t, h.rec.Events(), events.CredentialResult{Accepted: true, Message: CredentialSavedMessage, Masked: CredentialMask})
	assert.Equal(t, 1, noticesWith(h.rec, CredentialSavedMessage))

	require.True(t, h.cb.Submit("now I can talk"))
}

func TestEnvCredential_NotPersisted(t *testing.T) {
	h := newHarness(t, func(o *Options, p *store.Persistence) {
		p.SaveCredential("")
		o.EnvCredential = " env-key "
	})
	assert.True(t, h.cb.State().HasCredential)
	assert.Empty(t, h.persist.Credential())

	require.True(t, h.cb.Submit("hi"))
	h.rt.Complete()
	assert.Equal(t, []string{"hi"}, h.gen.Prompts())
}

func TestToggleTheme(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, store.ThemeLight, h.cb.ToggleTheme())
	assert.Equal(t, store.ThemeLight, h.persist.Theme())
	assert.Contains(t, h.rec.Events(), events.ThemeChanged{Theme: store.ThemeLight})
	assert.Equal(t, 1, noticesWith(h.rec, "Switched to light theme"))

	assert.Equal(t, store.ThemeDark, h.cb.ToggleTheme())
	assert.Equal(t, store.ThemeDark, h.persist.Theme())
	assert.Equal(t, 1, noticesWith(h.rec, "Switched to dark theme"))
}

func TestSummaries_TitleTruncation(t *testing.T) {
	h := newHarness(t)
	text := strings.Repeat("x", 40)
	require.True(t, h.cb.Submit(text))

	s := h.cb.Summaries()
	require.Len(t, s, 1)
	assert.Equal(t, strings.Repeat("x", 25)+"...", s[0].Title)
	assert.Equal(t, 1, s[0].MessageCount)
}
