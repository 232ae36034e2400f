package authstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// FileStore keeps auth blobs on disk under
// {baseDir}/session_{userID}/{filename}.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the file-backed auth store, creating baseDir
// if needed
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

// Get returns the blob bytes, or ErrBlobNotFound
func (s *FileStore) Get(ctx context.Context, sessionID, filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read auth blob: %w", err)
	}
	return data, nil
}

// Put writes or replaces a blob
func (s *FileStore) Put(ctx context.Context, sessionID, filename string, data []byte) error {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o600); err != nil {
		return fmt.Errorf("failed to write auth blob: %w", err)
	}
	return nil
}

// Delete removes one blob; missing blobs are not an error
func (s *FileStore) Delete(ctx context.Context, sessionID, filename string) error {
	err := os.Remove(filepath.Join(s.sessionDir(sessionID), filename))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete auth blob: %w", err)
	}
	return nil
}

// DeleteSession removes every blob belonging to a session
func (s *FileStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("failed to delete session directory: %w", err)
	}
	return nil
}

// DeleteSessionExceptCreds removes every blob except creds.json
func (s *FileStore) DeleteSessionExceptCreds(ctx context.Context, sessionID string) error {
	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list session directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == CredsFilename {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			log.Warn().Err(err).
				Str("session_id", sessionID).
				Str("file", entry.Name()).
				Msg("Failed to remove auth blob during partial clear")
		}
	}
	return nil
}

// ListSessionIDs returns ids of sessions that have stored blobs
func (s *FileStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "session_") {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// HasCreds reports whether the session has a credential blob
func (s *FileStore) HasCreds(ctx context.Context, sessionID string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.sessionDir(sessionID), CredsFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat credentials: %w", err)
	}
	return true, nil
}
