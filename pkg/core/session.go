package core

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies the author of a transcript message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultSessionTitle is used for sessions created without a file.
const DefaultSessionTitle = "New Chat"

// PreviewLength is the number of runes kept in a session preview.
const PreviewLength = 50

// Session is a persisted conversation scoped to at most one dataset.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Preview   string    `json:"preview"`
	FileName  string    `json:"file_name,omitempty"`
	// Columns is the schema snapshot taken at upload time.
	Columns []string `json:"columns,omitempty"`
}

// HasFile reports whether the session is bound to a dataset file.
func (s *Session) HasFile() bool {
	return s != nil && s.FileName != ""
}

// Message is a single transcript entry. Messages are immutable once appended.
type Message struct {
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Code      string    `json:"code,omitempty" yaml:"code,omitempty"`
	Plot      string    `json:"plot,omitempty" yaml:"plot,omitempty"` // base64 PNG
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// MakePreview derives the sidebar preview for a message content.
func MakePreview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewLength]) + "..."
}
