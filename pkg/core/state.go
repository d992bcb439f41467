package core

import "context"

// Store defines the interface for session and transcript persistence.
//
// Sessions and transcripts are two independent maps with no foreign key
// between them. Every mutator is durable before it returns.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Session operations
	ListSessions() ([]*Session, error)
	GetSession(id string) (*Session, error)
	UpsertSession(session *Session) error
	DeleteSession(id string) error

	// Transcript operations
	GetTranscript(sessionID string) ([]Message, error)
	AppendMessage(sessionID string, msg Message) error
	DeleteTranscript(sessionID string) error
}

// BlobStore persists raw uploaded file bytes keyed by file name.
// There is no versioning: the last Put for a name wins.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) error
	// Get returns the stored bytes, or an error satisfying
	// errors.Is(err, blob.ErrNotFound) when nothing is stored under name.
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]BlobInfo, error)
	Close() error
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Name string
	Size int64
}

// CodeGenerator turns a question about a dataset into analysis code.
type CodeGenerator interface {
	Generate(ctx context.Context, columns []string, question string) (string, error)
}
