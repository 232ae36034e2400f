package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/domain/session"
)

// WebDetector takes ownership of sessions whose credentials were
// written by the web frontend but are not yet managed by this fleet.
type WebDetector struct {
	manager   *Manager
	repo      session.Repository
	state     *State
	pollEvery time.Duration

	mu         sync.Mutex
	processing map[string]bool
}

// NewWebDetector creates the takeover detector
func NewWebDetector(manager *Manager, repo session.Repository, state *State, pollEvery time.Duration) *WebDetector {
	return &WebDetector{
		manager:    manager,
		repo:       repo,
		state:      state,
		pollEvery:  pollEvery,
		processing: make(map[string]bool),
	}
}

// Start polls for undetected web sessions until ctx ends
func (d *WebDetector) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.pollEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.poll(ctx)
			}
		}
	}()
}

func (d *WebDetector) poll(ctx context.Context) {
	rows, err := d.repo.GetUndetectedWebSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Web detector: listing failed")
		return
	}

	for _, row := range rows {
		if d.state.IsDetected(row.SessionID) {
			continue
		}
		d.takeover(ctx, row)
	}
}

// takeover claims one web session. At most one in-flight takeover per
// session id.
func (d *WebDetector) takeover(ctx context.Context, row *session.Session) {
	d.mu.Lock()
	if d.processing[row.SessionID] {
		d.mu.Unlock()
		return
	}
	d.processing[row.SessionID] = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.processing, row.SessionID)
		d.mu.Unlock()
	}()

	// a live socket means the session is already ours in memory
	if d.manager.IsSessionConnected(row.SessionID) {
		d.markDetected(ctx, row.SessionID)
		return
	}

	log.Info().Str("session_id", row.SessionID).Msg("Taking over web session")

	_, err := d.manager.Create(ctx, CreateOptions{
		UserID:      row.UserID,
		PhoneNumber: row.PhoneNumber,
		Source:      session.SourceWeb,
		IsReconnect: true,
	})
	if err != nil {
		d.recordFailure(ctx, row, err)
		return
	}

	d.markDetected(ctx, row.SessionID)
}

func (d *WebDetector) markDetected(ctx context.Context, sessionID string) {
	d.state.MarkDetected(sessionID)
	if err := d.repo.MarkSessionAsDetected(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to mark session as detected")
		return
	}
	log.Info().Str("session_id", sessionID).Msg("Web session detected and claimed")
}

// recordFailure stores the error so the next poll retries with
// context
func (d *WebDetector) recordFailure(ctx context.Context, row *session.Session, takeoverErr error) {
	log.Warn().Err(takeoverErr).Str("session_id", row.SessionID).Msg("Web session takeover failed")

	row.DetectionError = takeoverErr.Error()
	row.LastDetectionAttempt = time.Now()
	if err := d.repo.UpdateSession(ctx, row); err != nil {
		log.Warn().Err(err).Str("session_id", row.SessionID).Msg("Failed to record detection error")
	}
}

// ForceTakeover bypasses the detected flag and retries immediately,
// dropping any in-memory socket first
func (d *WebDetector) ForceTakeover(ctx context.Context, sessionID string) error {
	d.state.ClearDetected(sessionID)
	d.manager.cleanupSocketInMemoryOnly(sessionID)

	row, err := d.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	row.Detected = false
	if err := d.repo.UpdateSession(ctx, row); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to reset detected flag")
	}

	d.takeover(ctx, row)
	return nil
}
