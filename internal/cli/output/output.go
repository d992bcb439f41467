// Package output renders CLI results as styled text, markdown or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/csvchat/pkg/core"
	"golang.org/x/term"
)

// OutputMode selects how results are rendered.
type OutputMode string

// Output modes.
const (
	ModeText     OutputMode = "text"
	ModeMarkdown OutputMode = "markdown"
	ModeJSON     OutputMode = "json"
)

// Mode parses a mode name. Unknown names render as text.
func Mode(s string) OutputMode {
	switch OutputMode(strings.ToLower(s)) {
	case ModeMarkdown, "md":
		return ModeMarkdown
	case ModeJSON:
		return ModeJSON
	default:
		return ModeText
	}
}

// Renderer writes command output.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   OutputMode
	isTTY  bool
	styles *Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode OutputMode) *Renderer {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd())) //nolint:gosec
	}
	return NewRendererWithTTY(out, errOut, isTTY, mode)
}

// NewRendererWithTTY creates a renderer with an explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode OutputMode) *Renderer {
	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		isTTY:  isTTY,
		styles: NewStyles(out, isTTY),
	}
}

// Mode returns the output mode.
func (r *Renderer) Mode() OutputMode { return r.mode }

// Writer returns the standard output writer.
func (r *Renderer) Writer() io.Writer { return r.out }

// Styles returns the text styles.
func (r *Renderer) Styles() *Styles { return r.styles }

// IsTTY reports whether output goes to a terminal.
func (r *Renderer) IsTTY() bool { return r.isTTY }

// Println writes a line to standard output.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted output to standard output.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Errorf writes a styled error line to standard error.
func (r *Renderer) Errorf(format string, a ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Error.Render("Error: "+fmt.Sprintf(format, a...)))
}

// Warnf writes a styled warning line to standard error.
func (r *Renderer) Warnf(format string, a ...any) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render(fmt.Sprintf(format, a...)))
}

// Successf writes a styled confirmation line to standard output.
func (r *Renderer) Successf(format string, a ...any) {
	_, _ = fmt.Fprintln(r.out, r.styles.Success.Render(fmt.Sprintf(format, a...)))
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table writes rows under header. Markdown mode emits a markdown table.
func (r *Renderer) Table(header []string, rows [][]any) {
	if len(rows) == 0 {
		r.Println("(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)

	h := make(table.Row, len(header))
	for i, col := range header {
		h[i] = col
	}
	t.AppendHeader(h)
	for _, row := range rows {
		t.AppendRow(table.Row(row))
	}

	if r.mode == ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.Render()
}

// Message renders one transcript message.
func (r *Renderer) Message(msg core.Message) {
	if r.mode == ModeMarkdown {
		r.Printf("**%s**\n\n%s\n\n", msg.Role, strings.TrimRight(msg.Content, "\n"))
		if msg.Code != "" {
			r.Printf("```python\n%s\n```\n\n", strings.TrimRight(msg.Code, "\n"))
		}
		if msg.Plot != "" {
			r.Println("_(plot attached)_")
			r.Println()
		}
		return
	}

	label := r.styles.Assistant.Render("assistant")
	if msg.Role == core.RoleUser {
		label = r.styles.User.Render("you")
	}
	r.Printf("%s: %s\n", label, strings.TrimRight(msg.Content, "\n"))
	if msg.Code != "" {
		r.Println(r.styles.Code.Render(strings.TrimRight(msg.Code, "\n")))
	}
	if msg.Plot != "" {
		r.Println(r.styles.Muted.Render("(plot attached)"))
	}
}
