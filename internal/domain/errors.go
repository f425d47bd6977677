package domain

import "errors"

var (
	// ErrValidation is returned for malformed or missing identifiers and payloads.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a topic, subject or student does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidReference indicates a submitted answer references a question outside the topic.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrConflict covers duplicate assignments and lost attempt-number races.
	ErrConflict = errors.New("conflict")
	// ErrRecordingFailed means an attempt could not be persisted; nothing was written.
	ErrRecordingFailed = errors.New("attempt recording failed")
	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidCredentials is returned when a login does not match a user.
	ErrInvalidCredentials = errors.New("invalid username or password")
)
