package session

import "context"

// Repository is the session metadata store contract (relational).
// Implementations must treat single-row update failures as recoverable;
// callers decide whether to surface or swallow them.
type Repository interface {
	// GetSession retrieves a session row by its id
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// SaveSession inserts or replaces a session row
	SaveSession(ctx context.Context, sess *Session) error

	// UpdateSession applies a partial update of mutable columns
	// (status, is_connected, reconnect_attempts, phone_number,
	// detected, detection bookkeeping)
	UpdateSession(ctx context.Context, sess *Session) error

	// DeleteSession removes the session row entirely
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteSessionKeepUser marks the session disconnected but keeps
	// the row (web users retain their account identity)
	DeleteSessionKeepUser(ctx context.Context, sessionID string) error

	// CompletelyDeleteSession removes the row and related user
	// settings; best-effort, errors are logged by the implementation
	CompletelyDeleteSession(ctx context.Context, sessionID string) error

	// GetAllSessions returns every session row
	GetAllSessions(ctx context.Context) ([]*Session, error)

	// GetUndetectedWebSessions returns rows written by the web
	// frontend that this controller has not taken over yet
	GetUndetectedWebSessions(ctx context.Context) ([]*Session, error)

	// MarkSessionAsDetected flips the detected flag for a session
	MarkSessionAsDetected(ctx context.Context, sessionID string) error

	// GetAllUserSettings returns every user settings row (prefix cache boot load)
	GetAllUserSettings(ctx context.Context) ([]*UserSettings, error)

	// SaveUserSettings inserts or replaces a user settings row
	SaveUserSettings(ctx context.Context, settings *UserSettings) error
}
