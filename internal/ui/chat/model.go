// Package chat implements the interactive chat screen: a transcript
// viewport over the chat service, a prompt input, and a status bar
// mirroring the connection with a retry binding.
package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"taskbridge/internal/chat"
	"taskbridge/internal/pubsub"
	"taskbridge/internal/ui/markdown"
)

// chrome is the number of rows around the viewport: status bar, input
// line, and help line.
const chrome = 3

// refreshMsg signals that the chat service's state changed.
type refreshMsg struct{}

// sendResultMsg carries the outcome of an async prompt send.
type sendResultMsg struct {
	err error
}

// Model holds the chat screen state.
type Model struct {
	svc      *chat.Service
	input    textinput.Model
	viewport viewport.Model
	renderer *markdown.Renderer

	width   int
	height  int
	ready   bool
	sendErr string

	updates chan struct{}

	logCtx  context.Context
	logCh   <-chan any
	lastLog string
}

// Option customizes the chat screen.
type Option func(*Model)

// WithDebugLog tails the in-app log stream in the help line. ch is a
// pubsub.Channel over the log topic; ctx stops the tail.
func WithDebugLog(ctx context.Context, ch <-chan any) Option {
	return func(m *Model) {
		m.logCtx = ctx
		m.logCh = ch
	}
}

// New creates a chat screen over svc. The model registers itself for
// service updates; run it with tea.NewProgram and the service's events
// flow in as refresh messages.
func New(svc *chat.Service, opts ...Option) Model {
	input := textinput.New()
	input.Placeholder = "Ask the assistant..."
	input.CharLimit = 2000
	input.Focus()

	m := Model{
		svc:     svc,
		input:   input,
		updates: make(chan struct{}, 1),
	}
	updates := m.updates
	svc.SetOnUpdate(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init starts listening for service updates and the optional log tail.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.listenUpdates()}
	if m.logCh != nil {
		cmds = append(cmds, pubsub.ListenCmd(m.logCtx, m.logCh))
	}
	return tea.Batch(cmds...)
}

func (m Model) listenUpdates() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		<-updates
		return refreshMsg{}
	}
}

// Update handles input and service refreshes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		renderer, err := markdown.New(max(msg.Width-2, 20))
		if err == nil {
			m.renderer = renderer
		}
		m.viewport = viewport.New(msg.Width, max(msg.Height-chrome, 1))
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.refreshTranscript()
		return m, nil

	case refreshMsg:
		m.refreshTranscript()
		return m, m.listenUpdates()

	case string:
		// Log tail line from the bridged log topic.
		m.lastLog = strings.TrimSpace(msg)
		return m, pubsub.ListenCmd(m.logCtx, m.logCh)

	case sendResultMsg:
		if msg.err == nil {
			m.sendErr = ""
		} else if errors.Is(msg.err, chat.ErrNotConnected) {
			m.sendErr = "Not connected. Press ctrl+r to reconnect."
		} else {
			m.sendErr = msg.err.Error()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+r":
			m.sendErr = ""
			m.svc.Retry()
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			svc := m.svc
			return m, func() tea.Msg {
				return sendResultMsg{err: svc.Send(context.Background(), text)}
			}
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) refreshTranscript() {
	if !m.ready || m.renderer == nil {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderTranscript(m.svc.Messages(), m.renderer))
	if atBottom {
		m.viewport.GotoBottom()
	}
}
