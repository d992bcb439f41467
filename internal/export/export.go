// Package export writes session transcripts as YAML, JSON or markdown.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/leapstack-labs/csvchat/pkg/core"
	"gopkg.in/yaml.v3"
)

// Format is an export file format.
type Format string

// Supported formats.
const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat resolves a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown export format %q (available: yaml, json, markdown)", s)
	}
}

// Options controls what is exported.
type Options struct {
	// IncludePlots keeps base64 plot images. They are dropped otherwise.
	IncludePlots bool
}

// Document is the exported form of a session.
type Document struct {
	ID        string         `json:"id" yaml:"id"`
	Title     string         `json:"title" yaml:"title"`
	FileName  string         `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	Columns   []string       `json:"columns,omitempty" yaml:"columns,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
	Messages  []core.Message `json:"messages" yaml:"messages"`
}

// NewDocument builds the exported form of a session and its transcript.
func NewDocument(session *core.Session, messages []core.Message, opts Options) Document {
	doc := Document{
		ID:        session.ID,
		Title:     session.Title,
		FileName:  session.FileName,
		Columns:   session.Columns,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		Messages:  make([]core.Message, 0, len(messages)),
	}
	for _, msg := range messages {
		if !opts.IncludePlots {
			msg.Plot = ""
		}
		doc.Messages = append(doc.Messages, msg)
	}
	return doc
}

// Write encodes doc to w in the given format.
func Write(w io.Writer, format Format, doc Document) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	case FormatMarkdown:
		return writeMarkdown(w, doc)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func writeMarkdown(w io.Writer, doc Document) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	if doc.FileName != "" {
		fmt.Fprintf(&b, "- File: `%s`\n", doc.FileName)
	}
	if len(doc.Columns) > 0 {
		fmt.Fprintf(&b, "- Columns: %s\n", strings.Join(doc.Columns, ", "))
	}
	fmt.Fprintf(&b, "- Created: %s\n\n", doc.CreatedAt.Format(time.RFC3339))

	for _, msg := range doc.Messages {
		heading := "Assistant"
		if msg.Role == core.RoleUser {
			heading = "User"
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", heading, strings.TrimRight(msg.Content, "\n"))
		if msg.Code != "" {
			fmt.Fprintf(&b, "```python\n%s\n```\n\n", strings.TrimRight(msg.Code, "\n"))
		}
		if msg.Plot != "" {
			fmt.Fprintf(&b, "![plot](data:image/png;base64,%s)\n\n", msg.Plot)
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write markdown: %w", err)
	}
	return nil
}
