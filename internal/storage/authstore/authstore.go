// Package authstore persists WhatsApp auth blobs (credentials and
// signal key material) per session, with file and MongoDB backends.
package authstore

import (
	"context"
	"errors"
)

// CredsFilename is the credential blob every paired session carries.
// Auth clears that preserve credentials delete everything except it.
const CredsFilename = "creds.json"

// ErrBlobNotFound is returned when a requested blob does not exist
var ErrBlobNotFound = errors.New("auth blob not found")

// Store persists named auth blobs keyed by session
type Store interface {
	// Get returns the blob bytes, or ErrBlobNotFound
	Get(ctx context.Context, sessionID, filename string) ([]byte, error)

	// Put writes or replaces a blob
	Put(ctx context.Context, sessionID, filename string, data []byte) error

	// Delete removes one blob; missing blobs are not an error
	Delete(ctx context.Context, sessionID, filename string) error

	// DeleteSession removes every blob belonging to a session
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteSessionExceptCreds removes every blob except creds.json,
	// used by reconnection routes that reset state but keep pairing
	DeleteSessionExceptCreds(ctx context.Context, sessionID string) error

	// ListSessionIDs returns ids of sessions that have stored blobs
	ListSessionIDs(ctx context.Context) ([]string, error)

	// HasCreds reports whether the session has a credential blob
	HasCreds(ctx context.Context, sessionID string) (bool, error)
}
