// Package ui is the terminal view. It renders the controller's events and turns key
// presses into intents; it never touches chat state itself.
package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"Respondr/internal/events"
	"Respondr/internal/session"
	"Respondr/internal/store"
)

const sidebarWidth = 30

// Actions are the user intents the view can raise. Implementations must not block.
type Actions interface {
	Submit(text string)
	NewChat()
	DeleteChat(id string)
	OpenChat(id string)
	SaveCredential(candidate string)
	ToggleTheme()
}

// SubmitResult reports whether a submission was accepted. Accepted text is cleared from
// the input.
type SubmitResult struct {
	Text     string
	Accepted bool
}

type mode int

const (
	modeChat mode = iota
	modeKey
	modeConfirmDelete
	modeAlert
)

type itemKind int

const (
	itemMessage itemKind = iota
	itemNotice
	itemLoading
)

type item struct {
	kind       itemKind
	id         int
	sender     session.Sender
	text       string
	emergency  bool
	persistent bool
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	actions Actions

	styles   Styles
	renderer *Renderer

	width  int
	height int
	ready  bool

	viewport viewport.Model
	input    textarea.Model
	keyInput textinput.Model
	spinner  spinner.Model

	chats     []session.Summary
	chatID    string
	items     []item
	emergency bool
	loading   int

	mode    mode
	alert   string
	status  string
	masked  string
	pending string // chat awaiting delete confirmation
}

// New creates the view. masked is the display form of the saved credential, or "" when
// none is set; the view then opens on the key prompt.
func New(actions Actions, theme store.Theme, masked string) Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message... (alt+enter for a new line)"
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	ki := textinput.New()
	ki.Placeholder = "Paste your Gemini API key"
	ki.EchoMode = textinput.EchoPassword
	ki.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		actions:  actions,
		styles:   NewStyles(theme),
		renderer: NewRenderer(theme, 80),
		viewport: viewport.New(80, 20),
		input:    ta,
		keyInput: ki,
		spinner:  sp,
		masked:   masked,
	}
	if masked == "" {
		m.enterKeyMode()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.loading > 0 {
			m.refresh()
		}
		return m, cmd

	case SubmitResult:
		m.onSubmitResult(msg)
		return m, nil

	case events.Event:
		m.apply(msg)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.mode {
		case modeAlert:
			m.alert = ""
			if m.masked == "" {
				m.enterKeyMode()
			} else {
				m.mode = modeChat
			}
			return m, nil
		case modeConfirmDelete:
			if msg.String() == "y" || msg.String() == "Y" {
				m.actions.DeleteChat(m.pending)
				m.status = ""
			} else {
				m.status = "Delete cancelled"
			}
			m.pending = ""
			m.mode = modeChat
			return m, nil
		case modeKey:
			return m.updateKeyMode(msg)
		}
		if model, cmd, handled := m.handleKey(msg); handled {
			return model, cmd
		}
	}

	var cmd tea.Cmd
	if m.mode == modeChat {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if strings.HasPrefix(text, "/") {
			quit, err := m.handleCommand(text)
			if err != nil {
				m.status = "Error: " + err.Error()
			} else {
				m.input.Reset()
			}
			if quit {
				return m, tea.Quit, true
			}
			return m, nil, true
		}
		if text != "" {
			m.actions.Submit(text)
		}
		return m, nil, true
	case "ctrl+n":
		m.actions.NewChat()
		return m, nil, true
	case "ctrl+t":
		m.actions.ToggleTheme()
		return m, nil, true
	case "ctrl+k":
		m.enterKeyMode()
		return m, textinput.Blink, true
	case "ctrl+d":
		m.confirmDelete()
		return m, nil, true
	case "tab":
		m.step(1)
		return m, nil, true
	case "shift+tab":
		m.step(-1)
		return m, nil, true
	}
	return m, nil, false
}

// handleCommand runs a slash command. It reports whether the program should quit.
func (m *Model) handleCommand(cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		m.actions.NewChat()
		return false, nil

	case "/delete":
		m.confirmDelete()
		return false, nil

	case "/open":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /open <number>")
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 || n > len(m.chats) {
			return false, fmt.Errorf("no chat number %s", parts[1])
		}
		m.actions.OpenChat(m.chats[n-1].ID)
		return false, nil

	case "/key":
		if len(parts) < 2 {
			m.enterKeyMode()
			return false, nil
		}
		m.actions.SaveCredential(parts[1])
		m.status = "Verifying API key..."
		return false, nil

	case "/theme":
		m.actions.ToggleTheme()
		return false, nil

	case "/help":
		m.status = "/new  /open <n>  /delete  /key [key]  /theme  /quit"
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

func (m Model) updateKeyMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.masked != "" {
			m.mode = modeChat
			m.keyInput.Blur()
			m.keyInput.Reset()
			m.status = ""
			return m, m.input.Focus()
		}
		return m, nil
	case "enter":
		m.actions.SaveCredential(m.keyInput.Value())
		m.status = "Verifying API key..."
		return m, nil
	}
	var cmd tea.Cmd
	m.keyInput, cmd = m.keyInput.Update(msg)
	return m, cmd
}

func (m *Model) enterKeyMode() {
	m.mode = modeKey
	m.input.Blur()
	m.keyInput.Reset()
	m.keyInput.Focus()
	m.status = "Enter your API key and press enter"
	if m.masked != "" {
		m.status += " (esc to cancel)"
	}
}

func (m *Model) confirmDelete() {
	if m.chatID == "" {
		return
	}
	m.pending = m.chatID
	m.mode = modeConfirmDelete
	m.status = "Are you sure you want to delete this chat? (y/n)"
}

func (m *Model) step(delta int) {
	if len(m.chats) < 2 {
		return
	}
	cur := 0
	for i, c := range m.chats {
		if c.ID == m.chatID {
			cur = i
			break
		}
	}
	next := (cur + delta + len(m.chats)) % len(m.chats)
	m.actions.OpenChat(m.chats[next].ID)
}

func (m *Model) onSubmitResult(r SubmitResult) {
	if r.Accepted {
		if strings.TrimSpace(m.input.Value()) == r.Text {
			m.input.Reset()
		}
		m.status = ""
		return
	}
	if m.masked == "" {
		m.status = "Set an API key first (ctrl+k)"
		return
	}
	m.status = "Still waiting for the previous reply"
}

// apply folds one controller event into the view.
func (m *Model) apply(e events.Event) {
	switch e := e.(type) {
	case events.ChatOpened:
		m.chatID = e.ChatID
		m.items = m.items[:0]
		m.loading = 0
		for _, msg := range e.Messages {
			m.items = append(m.items, item{kind: itemMessage, sender: msg.Sender, text: msg.Text})
		}
	case events.MessageAppended:
		if e.ChatID != m.chatID {
			return
		}
		m.items = append(m.items, item{
			kind:      itemMessage,
			sender:    e.Message.Sender,
			text:      e.Message.Text,
			emergency: e.Emergency && e.Message.Sender == session.SenderAI,
		})
	case events.NoticeShown:
		m.items = append(m.items, item{kind: itemNotice, id: e.ID, text: e.Text, persistent: e.Persistent})
	case events.NoticeRemoved:
		m.remove(itemNotice, e.ID)
	case events.LoadingShown:
		m.items = append(m.items, item{kind: itemLoading, id: e.ID})
		m.loading++
	case events.LoadingRemoved:
		if m.remove(itemLoading, e.ID) {
			m.loading--
		}
	case events.ChatListChanged:
		m.chats = e.Chats
	case events.EmergencyChanged:
		m.emergency = e.Active
		if !e.Active {
			for i := range m.items {
				m.items[i].emergency = false
			}
		}
	case events.ThemeChanged:
		m.styles = NewStyles(e.Theme)
		m.renderer = NewRenderer(e.Theme, m.renderer.width)
	case events.CredentialResult:
		if e.Accepted {
			m.masked = e.Masked
			m.keyInput.Blur()
			m.keyInput.Reset()
			m.mode = modeChat
			m.input.Focus()
			m.status = ""
		} else {
			m.alert = e.Message
			m.mode = modeAlert
			m.status = ""
		}
	}
	m.refresh()
}

func (m *Model) remove(kind itemKind, id int) bool {
	for i, it := range m.items {
		if it.kind == kind && it.id == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Model) layout() {
	mainWidth := m.width - sidebarWidth - 1
	if mainWidth < 20 {
		mainWidth = 20
	}
	inputHeight := 3 + 2
	vh := m.height - 1 - inputHeight - 1
	if vh < 3 {
		vh = 3
	}
	m.viewport.Width = mainWidth
	m.viewport.Height = vh
	m.input.SetWidth(mainWidth - 2)
	m.keyInput.Width = mainWidth - 4
	m.renderer = NewRenderer(m.styles.Theme, mainWidth-4)
}

// refresh rebuilds the conversation pane.
func (m *Model) refresh() {
	m.viewport.SetContent(m.conversation())
	m.viewport.GotoBottom()
}

func (m *Model) conversation() string {
	w := m.viewport.Width
	if len(m.items) == 0 {
		return lipgloss.PlaceHorizontal(w, lipgloss.Center, m.styles.Header.Render("Welcome to Respondr"))
	}

	var b strings.Builder
	for _, it := range m.items {
		switch it.kind {
		case itemMessage:
			if it.sender == session.SenderUser {
				b.WriteString(lipgloss.PlaceHorizontal(w, lipgloss.Right, m.styles.User.MaxWidth(w*3/4).Render(it.text)))
			} else {
				label := "Respondr"
				if it.emergency {
					label += " ☎"
				}
				b.WriteString(m.styles.Header.Render(label) + "\n")
				b.WriteString(m.styles.AI.Render(m.renderer.Render(it.text)))
			}
		case itemNotice:
			style := m.styles.Notice
			if it.persistent {
				style = m.styles.Persistent
			}
			b.WriteString(style.Width(w).Render(it.text))
		case itemLoading:
			b.WriteString(m.styles.Loading.Render(m.spinner.View() + " typing..."))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) sidebar() string {
	var b strings.Builder
	b.WriteString(m.styles.Header.Render("Chats") + "\n\n")
	for i, c := range m.chats {
		title := fmt.Sprintf("%d. %s", i+1, c.Title)
		if c.Active {
			b.WriteString(m.styles.ChatActive.Render("› "+title) + "\n")
		} else {
			b.WriteString(m.styles.ChatItem.Render("  "+title) + "\n")
		}
	}
	return m.styles.Sidebar.Width(sidebarWidth).Height(m.height - 1).Render(b.String())
}

func (m Model) header() string {
	title := m.styles.Header.Render("Respondr")
	if m.emergency {
		title += " " + m.styles.Emergency.Render("EMERGENCY CALL")
	}
	right := m.styles.Status.Render(string(m.styles.Theme) + " theme")
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + right
}

func (m Model) footer() string {
	switch m.mode {
	case modeKey:
		return m.styles.Input.Render(m.keyInput.View())
	default:
		return m.styles.Input.Render(m.input.View())
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Starting Respondr..."
	}
	if m.mode == modeAlert {
		box := m.styles.Alert.Render(m.alert + "\n\n" + m.styles.Help.Render("press any key"))
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
	}

	status := m.status
	if status == "" {
		status = "enter send · ctrl+n new · tab switch · ctrl+d delete · ctrl+k key · ctrl+t theme · ctrl+c quit"
	}
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		m.footer(),
		m.styles.Status.Render(status),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar(), main)
	return m.styles.App.Render(lipgloss.JoinVertical(lipgloss.Left, m.header(), body))
}
