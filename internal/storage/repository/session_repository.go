// Package repository implements the session metadata repository on bun.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"wafleet/internal/domain/session"
)

// SessionRepository persists session metadata and user settings
type SessionRepository struct {
	db *bun.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *bun.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// GetSession retrieves a session by its ID
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess := new(session.Session)
	err := r.db.NewSelect().
		Model(sess).
		Where("session_id = ?", sessionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.NotFoundError(sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// SaveSession inserts a session, replacing any existing row
func (r *SessionRepository) SaveSession(ctx context.Context, sess *session.Session) error {
	sess.Touch()
	_, err := r.db.NewInsert().
		Model(sess).
		On("CONFLICT (session_id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("phone_number = EXCLUDED.phone_number").
		Set("source = EXCLUDED.source").
		Set("status = EXCLUDED.status").
		Set("is_connected = EXCLUDED.is_connected").
		Set("reconnect_attempts = EXCLUDED.reconnect_attempts").
		Set("detected = EXCLUDED.detected").
		Set("detection_error = EXCLUDED.detection_error").
		Set("last_detection_attempt = EXCLUDED.last_detection_attempt").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// UpdateSession updates an existing session row
func (r *SessionRepository) UpdateSession(ctx context.Context, sess *session.Session) error {
	sess.Touch()
	res, err := r.db.NewUpdate().
		Model(sess).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return session.NotFoundError(sess.SessionID)
	}
	return nil
}

// DeleteSession removes the session row and the user's settings
func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	userID := session.UserIDFrom(sessionID)
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*session.Session)(nil)).
			Where("session_id = ?", sessionID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		if _, err := tx.NewDelete().
			Model((*session.UserSettings)(nil)).
			Where("user_id = ?", userID).
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete user settings: %w", err)
		}
		return nil
	})
}

// DeleteSessionKeepUser removes the session row but preserves the
// user's settings, for re-pairing flows
func (r *SessionRepository) DeleteSessionKeepUser(ctx context.Context, sessionID string) error {
	_, err := r.db.NewDelete().
		Model((*session.Session)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CompletelyDeleteSession removes every trace of the session and user
func (r *SessionRepository) CompletelyDeleteSession(ctx context.Context, sessionID string) error {
	return r.DeleteSession(ctx, sessionID)
}

// GetAllSessions returns every stored session
func (r *SessionRepository) GetAllSessions(ctx context.Context) ([]*session.Session, error) {
	var sessions []*session.Session
	err := r.db.NewSelect().
		Model(&sessions).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}
	return sessions, nil
}

// GetUndetectedWebSessions returns web-originated sessions that the
// detector has not claimed yet
func (r *SessionRepository) GetUndetectedWebSessions(ctx context.Context) ([]*session.Session, error) {
	var sessions []*session.Session
	err := r.db.NewSelect().
		Model(&sessions).
		Where("source = ?", session.SourceWeb).
		Where("detected = ?", false).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get undetected web sessions: %w", err)
	}
	return sessions, nil
}

// MarkSessionAsDetected flags a web session as claimed by the detector
func (r *SessionRepository) MarkSessionAsDetected(ctx context.Context, sessionID string) error {
	res, err := r.db.NewUpdate().
		Model((*session.Session)(nil)).
		Set("detected = ?", true).
		Set("detection_error = ?", "").
		Set("updated_at = ?", time.Now()).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark session as detected: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return session.NotFoundError(sessionID)
	}
	return nil
}

// GetAllUserSettings returns settings for every known user
func (r *SessionRepository) GetAllUserSettings(ctx context.Context) ([]*session.UserSettings, error) {
	var settings []*session.UserSettings
	err := r.db.NewSelect().
		Model(&settings).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}
	return settings, nil
}

// SaveUserSettings upserts a user's settings
func (r *SessionRepository) SaveUserSettings(ctx context.Context, settings *session.UserSettings) error {
	settings.UpdatedAt = time.Now()
	_, err := r.db.NewInsert().
		Model(settings).
		On("CONFLICT (user_id) DO UPDATE").
		Set("prefix = EXCLUDED.prefix").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}
	return nil
}
