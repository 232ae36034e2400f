package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/domain/whatsapp"
	"wafleet/internal/fleet/policy"
	"wafleet/internal/storage/prefix"
)

const (
	// maxFailedPings before local monitoring gives up and defers to
	// the sweep
	maxFailedPings = 3

	// reinitCooldown spaces reinitialization attempts per session
	reinitCooldown = 60 * time.Second

	// reinitTombstoneTTL blocks rapid re-entry after a reinit
	reinitTombstoneTTL = 5 * time.Second

	// reinitCloseWait sits between closing the wire and recreating
	reinitCloseWait = 2 * time.Second
)

// monitorState is the per-session liveness bookkeeping
type monitorState struct {
	lastActivity time.Time
	failedPings  int
	started      time.Time
	pinging      bool
}

// HealthMonitor detects silent-failure sessions: alive wire with no
// traffic, partial sessions with no identity, and repairs them
// without ever racing the reconnection scheduler.
type HealthMonitor struct {
	manager  *Manager
	prefixes *prefix.Cache

	sweepEvery      time.Duration
	probeEvery      time.Duration
	inactivityLimit time.Duration
	pingTimeout     time.Duration

	mu         sync.Mutex
	monitored  map[string]*monitorState
	lastReinit map[string]time.Time
	reinitNow  map[string]bool
	tombstones map[string]time.Time
}

// NewHealthMonitor creates the health monitor
func NewHealthMonitor(manager *Manager, prefixes *prefix.Cache, sweepEvery, probeEvery, inactivityLimit, pingTimeout time.Duration) *HealthMonitor {
	return &HealthMonitor{
		manager:         manager,
		prefixes:        prefixes,
		sweepEvery:      sweepEvery,
		probeEvery:      probeEvery,
		inactivityLimit: inactivityLimit,
		pingTimeout:     pingTimeout,
		monitored:       make(map[string]*monitorState),
		lastReinit:      make(map[string]time.Time),
		reinitNow:       make(map[string]bool),
		tombstones:      make(map[string]time.Time),
	}
}

// StartMonitoring begins tracking a session's liveness
func (h *HealthMonitor) StartMonitoring(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.monitored[sessionID] = &monitorState{lastActivity: now, started: now}
}

// StopMonitoring drops a session from liveness tracking
func (h *HealthMonitor) StopMonitoring(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.monitored, sessionID)
}

// RecordActivity resets the inactivity clock, called for every
// received event
func (h *HealthMonitor) RecordActivity(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.monitored[sessionID]; ok {
		st.lastActivity = time.Now()
		st.failedPings = 0
	}
}

// Start runs the sweep and probe loops until ctx ends
func (h *HealthMonitor) Start(ctx context.Context) {
	go h.runSweep(ctx)
	go h.runProbe(ctx)
}

func (h *HealthMonitor) runSweep(ctx context.Context) {
	ticker := time.NewTicker(h.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep classifies every registered session. Partial sessions (wire
// up, no identity) are routed through the disconnect router as a
// simulated logout so the source-aware cleanup applies uniformly.
// Dead wires are left to the socket's own close event.
func (h *HealthMonitor) sweep() {
	healthy, partial, closed := 0, 0, 0

	for _, id := range h.manager.ActiveSessionIDs() {
		sock, ok := h.manager.Socket(id)
		if !ok {
			continue
		}
		switch {
		case !sock.Connected():
			closed++
		case !sock.LoggedIn():
			partial++
			log.Warn().Str("session_id", id).Msg("Partial session detected, routing as logout")
			if h.manager.reconnector != nil {
				h.manager.reconnector.HandleConnectionUpdate(id, &whatsapp.ConnectionUpdate{
					Connection: whatsapp.ConnClose,
					StatusCode: policy.CodeLoggedOut,
					Err:        errors.New("session has no user identity"),
				})
			}
		default:
			healthy++
		}
	}

	log.Info().
		Int("healthy", healthy).
		Int("partial", partial).
		Int("closed", closed).
		Msg("Health sweep completed")
}

func (h *HealthMonitor) runProbe(ctx context.Context) {
	ticker := time.NewTicker(h.probeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probe(ctx)
		}
	}
}

// probe self-pings sessions that have been silent for too long
func (h *HealthMonitor) probe(ctx context.Context) {
	now := time.Now()

	h.mu.Lock()
	var quiet []string
	for id, st := range h.monitored {
		if st.pinging || now.Sub(st.lastActivity) <= h.inactivityLimit {
			continue
		}
		if st.failedPings >= maxFailedPings {
			continue
		}
		st.pinging = true
		quiet = append(quiet, id)
	}
	h.mu.Unlock()

	for _, id := range quiet {
		go h.selfPing(ctx, id)
	}
}

// selfPing sends a warning plus the user's ping command to the
// session's own JID, then waits for any inbound activity
func (h *HealthMonitor) selfPing(ctx context.Context, sessionID string) {
	defer func() {
		h.mu.Lock()
		if st, ok := h.monitored[sessionID]; ok {
			st.pinging = false
		}
		h.mu.Unlock()
	}()

	sock, ok := h.manager.Socket(sessionID)
	if !ok || !sock.Connected() {
		return
	}

	own := sock.OwnJID()
	if own == "" {
		return
	}

	userID := h.manager.userIDOf(sessionID)
	pfx := h.prefixes.Get(userID)

	log.Info().Str("session_id", sessionID).Msg("Session quiet too long, self-pinging")

	warn := "⚠️ Inactivity check: this session has been quiet for a while."
	if err := sock.SendMessage(ctx, own, whatsapp.Content{Text: warn}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Self-ping warning send failed")
	}
	if err := sock.SendMessage(ctx, own, whatsapp.Content{Text: pfx + "ping"}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Self-ping send failed")
	}

	pingSentAt := time.Now()
	timer := time.NewTimer(h.pingTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.monitored[sessionID]
	if !ok {
		return
	}
	if st.lastActivity.After(pingSentAt) {
		log.Debug().Str("session_id", sessionID).Msg("Self-ping answered, session healthy")
		return
	}

	st.failedPings++
	log.Warn().
		Str("session_id", sessionID).
		Int("failed_pings", st.failedPings).
		Msg("Self-ping went unanswered")

	if st.failedPings >= maxFailedPings {
		// defer to the next sweep or real close event
		delete(h.monitored, sessionID)
		log.Warn().Str("session_id", sessionID).Msg("Too many failed pings, stopping local monitoring")
	}
}

// Reinitialize tears down and recreates a session's socket. Gated by
// a per-session cooldown, a re-entry guard and the reconnection
// scheduler's lock.
func (h *HealthMonitor) Reinitialize(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	if at, ok := h.tombstones[sessionID]; ok && time.Since(at) < reinitTombstoneTTL {
		h.mu.Unlock()
		return fmt.Errorf("session %s was just reinitialized", sessionID)
	}
	if at, ok := h.lastReinit[sessionID]; ok && time.Since(at) < reinitCooldown {
		h.mu.Unlock()
		return fmt.Errorf("session %s is in reinit cooldown", sessionID)
	}
	if h.reinitNow[sessionID] {
		h.mu.Unlock()
		return fmt.Errorf("session %s is already reinitializing", sessionID)
	}
	h.reinitNow[sessionID] = true
	h.lastReinit[sessionID] = time.Now()
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.reinitNow, sessionID)
		h.tombstones[sessionID] = time.Now()
		h.mu.Unlock()
	}()

	if h.manager.reconnector != nil && !h.manager.reconnector.CanReinitialize(sessionID) {
		return fmt.Errorf("session %s has a reconnection in flight", sessionID)
	}

	sess, err := h.manager.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session for reinit: %w", err)
	}

	if sock, ok := h.manager.Socket(sessionID); ok {
		// close the wire only; the library keeps its internal listeners
		sock.FlushEvents()
		sock.Close()
	}

	timer := time.NewTimer(reinitCloseWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	_, err = h.manager.Create(ctx, CreateOptions{
		UserID:      sess.UserID,
		PhoneNumber: sess.PhoneNumber,
		Source:      sess.Source,
		IsReconnect: true,
	})
	if err != nil {
		return fmt.Errorf("failed to recreate session: %w", err)
	}

	log.Info().Str("session_id", sessionID).Msg("Session reinitialized")
	return nil
}
