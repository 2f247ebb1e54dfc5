package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"taskbridge/internal/chat"
	"taskbridge/internal/ui/markdown"
)

// Role colors, consistent across the transcript and the status bar.
var (
	AssistantColor = lipgloss.AdaptiveColor{Light: "#179299", Dark: "#179299"}
	UserColor      = lipgloss.AdaptiveColor{Light: "#FB923C", Dark: "#FB923C"}
	ErrorColor     = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"}
	ConnectedColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#43BF6D"}
	PendingColor   = lipgloss.AdaptiveColor{Light: "#E5C890", Dark: "#E5C890"}
)

// RoleStyle applies bold formatting to role labels.
var RoleStyle = lipgloss.NewStyle().Bold(true)

// renderTranscript renders the message history: user messages word-wrapped
// in the user color, assistant replies through the markdown renderer.
func renderTranscript(messages []chat.Message, renderer *markdown.Renderer) string {
	var content strings.Builder
	for _, msg := range messages {
		if msg.Role == chat.RoleUser {
			label := RoleStyle.Foreground(UserColor).Render("You")
			content.WriteString(label + "\n")
			content.WriteString(renderer.Plain(msg.Content) + "\n\n")
			continue
		}
		label := RoleStyle.Foreground(AssistantColor).Render("Assistant")
		content.WriteString(label + "\n")
		content.WriteString(renderer.Render(msg.Content) + "\n\n")
	}
	return strings.TrimRight(content.String(), "\n")
}
