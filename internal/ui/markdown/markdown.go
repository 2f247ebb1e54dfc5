// Package markdown provides styled markdown rendering for the TUI.
package markdown

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
)

// noMarginStyle is a JSON style that removes document margins so replies
// align with the transcript's role labels. It inherits from auto
// (dark/light detection) but overrides margin to 0.
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

// Renderer wraps glamour with taskbridge-specific configuration.
type Renderer struct {
	renderer *glamour.TermRenderer
	width    int
}

// New creates a markdown renderer with the given width.
func New(width int) (*Renderer, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	return &Renderer{renderer: r, width: width}, nil
}

// Width returns the configured word wrap width.
func (r *Renderer) Width() int {
	return r.width
}

// Render transforms markdown to styled terminal output. Content that fails
// to parse falls back to plain word wrapping.
func (r *Renderer) Render(content string) string {
	out, err := r.renderer.Render(content)
	if err != nil {
		return wordwrap.String(content, r.width)
	}
	return strings.TrimRight(out, "\n")
}

// Plain word-wraps text without markdown styling.
func (r *Renderer) Plain(content string) string {
	return wordwrap.String(content, r.width)
}
