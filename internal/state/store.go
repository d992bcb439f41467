// Package state persists chat sessions and their transcripts in SQLite.
//
// Session records and transcripts are stored in separate tables so that
// listing sessions never loads message bodies.
package state

import (
	"errors"

	"github.com/leapstack-labs/csvchat/pkg/core"
)

// Type aliases so callers can stay within this package.
type (
	// Store is an alias for core.Store.
	Store = core.Store

	// Session is an alias for core.Session.
	Session = core.Session

	// Message is an alias for core.Message.
	Message = core.Message
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")
