package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mernchat/chat-client/internal/protocol"
	"github.com/mernchat/chat-client/internal/session"
	"github.com/mernchat/chat-client/internal/ws"
)

const (
	pollInterval = 200 * time.Millisecond
	rosterWidth  = 26
	actionWait   = 5 * time.Second
)

var (
	rosterStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			PaddingRight(1)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	onlineDot     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("●")
	offlineDot    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("○")
	ownMsgStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	peerMsgStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	bannerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

type uiView int

const (
	viewLogin uiView = iota
	viewChat
)

// tickMsg drives the snapshot poll.
type tickMsg time.Time

// actionResultMsg carries the outcome of a login, register, or
// add-friend call back into the update loop.
type actionResultMsg struct {
	err error
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	ctrl *session.Controller

	view         uiView
	width        int
	height       int
	registerMode bool
	formErr      string

	username textinput.Model
	password textinput.Model
	composer textinput.Model
	msgPane  viewport.Model

	// Snapshots refreshed on every tick.
	contacts  []protocol.Contact
	selected  string
	fatal     bool
	fatalMsg  string
	connState ws.State
	rosterIdx int
}

func newModel(ctrl *session.Controller) model {
	username := textinput.New()
	username.Placeholder = "username"
	username.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword

	composer := textinput.New()
	composer.Placeholder = "Message (or /add username)"

	return model{
		ctrl:     ctrl,
		view:     viewLogin,
		username: username,
		password: password,
		composer: composer,
		msgPane:  viewport.New(40, 10),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.msgPane.Width = max(20, m.width-rosterWidth-4)
		m.msgPane.Height = max(5, m.height-5)
		return m, nil

	case tickMsg:
		return m.refresh(), tick()

	case actionResultMsg:
		if msg.err != nil {
			m.formErr = msg.err.Error()
		} else {
			m.formErr = ""
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.view == viewLogin {
			return m.updateLogin(msg)
		}
		return m.updateChat(msg)
	}

	return m, nil
}

// refresh pulls fresh read-only snapshots from the controller.
func (m model) refresh() model {
	_, loggedIn := m.ctrl.Identity()
	if loggedIn {
		m.view = viewChat
		if !m.composer.Focused() {
			m.composer.Focus()
		}
	} else {
		if m.view == viewChat {
			// Session ended; back to the form.
			m.username.SetValue("")
			m.password.SetValue("")
			m.username.Focus()
			m.password.Blur()
		}
		m.view = viewLogin
	}

	m.contacts = m.ctrl.Roster()
	m.selected = m.ctrl.SelectedPeer()
	m.fatal, m.fatalMsg = m.ctrl.FatalError()
	m.connState = m.ctrl.ConnState()
	if m.rosterIdx >= len(m.contacts) {
		m.rosterIdx = max(0, len(m.contacts)-1)
	}

	if m.view == viewChat {
		m.msgPane.SetContent(m.renderMessages())
		m.msgPane.GotoBottom()
	}
	return m
}

func (m model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		if m.username.Focused() {
			m.username.Blur()
			m.password.Focus()
		} else {
			m.password.Blur()
			m.username.Focus()
		}
		return m, nil

	case "ctrl+r":
		m.registerMode = !m.registerMode
		return m, nil

	case "enter":
		user := strings.TrimSpace(m.username.Value())
		pass := m.password.Value()
		if user == "" || pass == "" {
			m.formErr = "username and password are required"
			return m, nil
		}
		ctrl := m.ctrl
		register := m.registerMode
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), actionWait)
			defer cancel()
			var err error
			if register {
				err = ctrl.Register(ctx, user, pass)
			} else {
				err = ctrl.Login(ctx, user, pass)
			}
			return actionResultMsg{err: err}
		}
	}

	var cmd tea.Cmd
	if m.username.Focused() {
		m.username, cmd = m.username.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up":
		if m.rosterIdx > 0 {
			m.rosterIdx--
			m.selectContact()
		}
		return m, nil

	case "down":
		if m.rosterIdx < len(m.contacts)-1 {
			m.rosterIdx++
			m.selectContact()
		}
		return m, nil

	case "ctrl+l":
		if err := m.ctrl.Logout(); err != nil {
			m.formErr = err.Error()
		}
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.composer.Value())
		if text == "" {
			return m, nil
		}
		m.composer.SetValue("")

		if name, ok := strings.CutPrefix(text, "/add "); ok {
			ctrl := m.ctrl
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), actionWait)
				defer cancel()
				return actionResultMsg{err: ctrl.AddFriend(ctx, strings.TrimSpace(name))}
			}
		}

		if err := m.ctrl.SendMessage(text); err != nil {
			m.formErr = err.Error()
		} else {
			m.formErr = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

// selectContact makes the highlighted roster entry the active
// conversation.
func (m *model) selectContact() {
	if m.rosterIdx < 0 || m.rosterIdx >= len(m.contacts) {
		return
	}
	if err := m.ctrl.SelectConversation(m.contacts[m.rosterIdx].ID); err != nil {
		m.formErr = err.Error()
	}
}

func (m model) View() string {
	if m.view == viewLogin {
		return m.viewLoginForm()
	}
	return m.viewChatScreen()
}

func (m model) viewLoginForm() string {
	var b strings.Builder
	title := "Login"
	if m.registerMode {
		title = "Register"
	}
	b.WriteString(selectedStyle.Render(title) + "\n\n")
	b.WriteString(m.username.View() + "\n")
	b.WriteString(m.password.View() + "\n\n")
	if m.formErr != "" {
		b.WriteString(errStyle.Render(m.formErr) + "\n\n")
	}
	b.WriteString(dimStyle.Render("enter: submit · tab: next field · ctrl+r: switch login/register · ctrl+c: quit"))
	return b.String()
}

func (m model) viewChatScreen() string {
	roster := m.renderRoster()
	var right strings.Builder

	if m.fatal {
		right.WriteString(bannerStyle.Render("server error: "+m.fatalMsg+"; log out and back in to recover") + "\n")
	}
	right.WriteString(m.msgPane.View() + "\n")
	right.WriteString(m.composer.View() + "\n")
	if m.formErr != "" {
		right.WriteString(errStyle.Render(m.formErr) + "\n")
	}
	right.WriteString(dimStyle.Render(fmt.Sprintf("connection: %s · ↑/↓: contacts · ctrl+l: logout · ctrl+c: quit", m.connState)))

	return lipgloss.JoinHorizontal(lipgloss.Top,
		rosterStyle.Width(rosterWidth).Render(roster),
		right.String(),
	)
}

func (m model) renderRoster() string {
	if len(m.contacts) == 0 {
		return dimStyle.Render("no contacts yet\n\n/add username")
	}
	var b strings.Builder
	for i, c := range m.contacts {
		dot := offlineDot
		if c.Online {
			dot = onlineDot
		}
		line := fmt.Sprintf("%s %s", dot, c.Username)
		if i == m.rosterIdx && c.ID == m.selected {
			line = selectedStyle.Render("▸ " + line)
		} else if i == m.rosterIdx {
			line = "▸ " + line
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m model) renderMessages() string {
	identity, ok := m.ctrl.Identity()
	if !ok {
		return ""
	}
	if m.selected == "" {
		return dimStyle.Render("Select a contact to start chatting")
	}

	var b strings.Builder
	if peer, ok := m.ctrl.SelectedContact(); ok {
		b.WriteString(selectedStyle.Render("@"+peer.Username) + "\n\n")
	}

	msgs := m.ctrl.Conversation()
	if len(msgs) == 0 {
		b.WriteString(dimStyle.Render("No messages yet"))
		return b.String()
	}
	for _, msg := range msgs {
		prefix := "them"
		style := peerMsgStyle
		if msg.Sender == identity.ID {
			prefix = "you"
			style = ownMsgStyle
		}
		stamp := ""
		if !msg.CreatedAt.IsZero() {
			stamp = dimStyle.Render(msg.CreatedAt.Local().Format("15:04") + " ")
		}
		b.WriteString(stamp + style.Render(prefix+": "+msg.Text) + "\n")
	}
	return b.String()
}
