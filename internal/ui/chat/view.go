package chat

import (
	"github.com/charmbracelet/lipgloss"

	"taskbridge/internal/conn"
)

var (
	statusConnectedStyle  = lipgloss.NewStyle().Foreground(ConnectedColor).Bold(true)
	statusConnectingStyle = lipgloss.NewStyle().Foreground(PendingColor)
	statusErrorStyle      = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	statusIdleStyle       = lipgloss.NewStyle().Faint(true)
	helpStyle             = lipgloss.NewStyle().Faint(true)
	promptStyle           = lipgloss.NewStyle().Foreground(UserColor)
)

// View renders the status bar, transcript, prompt, and help line.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar(),
		m.viewport.View(),
		promptStyle.Render("> ")+m.input.View(),
		m.helpLine(),
	)
}

func (m Model) statusBar() string {
	switch m.svc.Status() {
	case conn.StatusConnected:
		return statusConnectedStyle.Render("● connected")
	case conn.StatusConnecting:
		return statusConnectingStyle.Render("◌ connecting...")
	case conn.StatusError:
		msg := m.svc.ConnectionError()
		if msg == "" {
			msg = "connection error"
		}
		return statusErrorStyle.Render("✗ " + msg + " (ctrl+r to retry)")
	default:
		return statusIdleStyle.Render("○ disconnected")
	}
}

func (m Model) helpLine() string {
	if m.sendErr != "" {
		return statusErrorStyle.Render(m.sendErr)
	}
	if m.lastLog != "" {
		return helpStyle.Render(m.lastLog)
	}
	return helpStyle.Render("enter: send • ctrl+r: reconnect • ctrl+c: quit")
}
