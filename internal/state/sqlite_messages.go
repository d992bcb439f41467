package state

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/csvchat/pkg/core"
)

// GetTranscript returns the messages of a session in append order.
// Unknown sessions yield an empty transcript.
func (s *SQLiteStore) GetTranscript(sessionID string) ([]core.Message, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(),
		`SELECT role, content, code, plot, created_at
		 FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []core.Message{}
	for rows.Next() {
		var (
			msg       core.Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&role, &msg.Content, &msg.Code, &msg.Plot, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = core.Role(role)
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// AppendMessage appends a message to a session transcript and refreshes the
// session preview in the same transaction.
func (s *SQLiteStore) AppendMessage(sessionID string, msg core.Message) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if msg.Role != core.RoleUser && msg.Role != core.RoleAssistant {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx(),
		`INSERT INTO messages (session_id, role, content, code, plot, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), msg.Content, msg.Code, msg.Plot, toMillis(msg.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx(),
		`UPDATE sessions SET preview = ?, updated_at = ? WHERE id = ?`,
		core.MakePreview(msg.Content), toMillis(msg.CreatedAt), sessionID,
	); err != nil {
		return fmt.Errorf("failed to update session preview: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	s.logger.Debug("appended message",
		slog.String("session", sessionID),
		slog.String("role", string(msg.Role)),
		slog.Bool("has_plot", msg.Plot != ""))
	return nil
}

// DeleteTranscript removes every message of a session.
func (s *SQLiteStore) DeleteTranscript(sessionID string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if _, err := s.db.ExecContext(ctx(), `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements core.Store.
var _ core.Store = (*SQLiteStore)(nil)
