package chat

import "errors"

var (
	// ErrBusy is returned when an operation is already in flight.
	ErrBusy = errors.New("another operation is in progress")
	// ErrNoActiveSession is returned by operations that need a session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrNoDataset is returned when asking a session that has no file.
	ErrNoDataset = errors.New("session has no dataset; upload a file first")
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
)
