package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for fleet and storage operations
var (
	// ErrNotFound is returned when no session row exists for an id
	ErrNotFound = errors.New("session not found")

	// ErrMaxSessionsReached is returned when the fleet is at capacity
	ErrMaxSessionsReached = errors.New("maximum number of sessions reached")

	// ErrStorageUnavailable is returned when required storage cannot
	// be reached during initialization
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrFactoryFailed wraps client-library socket creation failures
	ErrFactoryFailed = errors.New("socket factory failed")

	// ErrAlreadyInitializing is returned when a create races an
	// in-flight initialization for the same session
	ErrAlreadyInitializing = errors.New("session is already initializing")
)

// NotFoundError builds an ErrNotFound carrying the session id
func NotFoundError(sessionID string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
}

// MaxSessionsError builds an ErrMaxSessionsReached carrying the limit
func MaxSessionsError(limit int) error {
	return fmt.Errorf("%w (%d)", ErrMaxSessionsReached, limit)
}

// FactoryError wraps a client-library failure for a session
func FactoryError(sessionID string, err error) error {
	return fmt.Errorf("%w for %s: %v", ErrFactoryFailed, sessionID, err)
}
