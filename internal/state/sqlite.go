package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/csvchat/pkg/core"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteStore implements core.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite state store instance.
// If logger is nil, logging is discarded.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// NewSQLiteStoreFromDB wraps an already opened database handle.
// The schema is not initialized.
func NewSQLiteStoreFromDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	s := NewSQLiteStore(logger)
	s.db = db
	return s
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single connection keeps :memory: databases alive across calls and
	// makes every write visible to the next read.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	s.logger.Debug("opened state store", slog.String("path", path))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InitSchema initializes the database schema by running migrations.
func (s *SQLiteStore) InitSchema() error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if err := s.Migrate(); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func ctx() context.Context {
	return context.Background()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// --- Session operations ---

// ListSessions returns all sessions, most recently updated first.
func (s *SQLiteStore) ListSessions() ([]*core.Session, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(),
		`SELECT id, title, created_at, updated_at, preview, file_name, columns
		 FROM sessions ORDER BY updated_at DESC, created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []*core.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(id string) (*core.Session, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx(),
		`SELECT id, title, created_at, updated_at, preview, file_name, columns
		 FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// UpsertSession inserts a session or replaces the stored record with the same ID.
func (s *SQLiteStore) UpsertSession(session *core.Session) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if session == nil || session.ID == "" {
		return fmt.Errorf("session id is required")
	}

	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	var columns *string
	if session.Columns != nil {
		raw, err := json.Marshal(session.Columns)
		if err != nil {
			return fmt.Errorf("failed to encode columns: %w", err)
		}
		str := string(raw)
		columns = &str
	}

	s.logger.Debug("upserting session", slog.String("id", session.ID), slog.String("file", session.FileName))

	_, err := s.db.ExecContext(ctx(),
		`INSERT INTO sessions (id, title, created_at, updated_at, preview, file_name, columns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   updated_at = excluded.updated_at,
		   preview = excluded.preview,
		   file_name = excluded.file_name,
		   columns = excluded.columns`,
		session.ID, session.Title, toMillis(session.CreatedAt), toMillis(session.UpdatedAt),
		session.Preview, session.FileName, columns,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a session record. The transcript is not touched.
func (s *SQLiteStore) DeleteSession(id string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if _, err := s.db.ExecContext(ctx(), `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*core.Session, error) {
	var (
		session            core.Session
		createdAt, updated int64
		columns            sql.NullString
	)
	err := row.Scan(&session.ID, &session.Title, &createdAt, &updated,
		&session.Preview, &session.FileName, &columns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updated)
	if columns.Valid && columns.String != "" {
		if err := json.Unmarshal([]byte(columns.String), &session.Columns); err != nil {
			return nil, fmt.Errorf("failed to decode columns for session %s: %w", session.ID, err)
		}
	}
	return &session, nil
}
