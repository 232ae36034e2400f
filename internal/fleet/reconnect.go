package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/domain/session"
	"wafleet/internal/domain/whatsapp"
	"wafleet/internal/fleet/policy"
	"wafleet/internal/notify"
)

// staleLockAge is when a reconnection lock is declared abandoned and
// force-released
const staleLockAge = 120 * time.Second

// reconnection records one in-flight reconnection
type reconnection struct {
	startTime time.Time
	attempt   int
	code      int
	timer     *time.Timer
}

// Reconnector is the per-session disconnect state machine and the
// sole authority for scheduling reconnections.
type Reconnector struct {
	manager       *Manager
	state         *State
	notifier      notify.Notifier
	enable515Flow bool

	mu     sync.Mutex
	locks  map[string]time.Time
	active map[string]*reconnection
}

// NewReconnector creates the disconnect router
func NewReconnector(manager *Manager, state *State, notifier notify.Notifier, enable515Flow bool) *Reconnector {
	return &Reconnector{
		manager:       manager,
		state:         state,
		notifier:      notifier,
		enable515Flow: enable515Flow,
		locks:         make(map[string]time.Time),
		active:        make(map[string]*reconnection),
	}
}

// HandleConnectionUpdate routes connection.update events. Close
// events drive the state machine; everything else only clears state.
func (r *Reconnector) HandleConnectionUpdate(sessionID string, ev *whatsapp.ConnectionUpdate) {
	switch ev.Connection {
	case whatsapp.ConnOpen:
		r.onOpen(sessionID)
	case whatsapp.ConnClose:
		r.onClose(sessionID, ev)
	}
}

func (r *Reconnector) onOpen(sessionID string) {
	// the 515 tag stays set across a successful open; it is only
	// dropped by cleanup or the flag sweep
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if sess, err := r.manager.repo.GetSession(ctx, sessionID); err == nil {
		sess.Status = session.StatusConnected
		sess.IsConnected = true
		sess.ReconnectAttempts = 0
		if err := r.manager.repo.UpdateSession(ctx, sess); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist open state")
		}
	}
}

func (r *Reconnector) onClose(sessionID string, ev *whatsapp.ConnectionUpdate) {
	// a held lock means a reconnection is already working this session
	if r.isLocked(sessionID) {
		log.Debug().Str("session_id", sessionID).Msg("Close event dropped, reconnection in flight")
		return
	}

	if r.manager.health != nil {
		r.manager.health.StopMonitoring(sessionID)
	}

	code := ev.StatusCode
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	entry := policy.Lookup(code, errText)

	log.Info().
		Str("session_id", sessionID).
		Int("status_code", code).
		Str("reason", entry.Message).
		Msg("Session closed")

	if entry.Skip {
		return
	}

	r.persistClosed(sessionID)

	if entry.ClearVoluntaryFlag {
		r.state.ClearVoluntary(sessionID)
	}
	if r.state.IsVoluntary(sessionID) {
		log.Debug().Str("session_id", sessionID).Msg("Voluntary disconnect, no reconnection")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if entry.Supports515Flow {
		r.state.Mark515(sessionID)
		if r.enable515Flow {
			r.state.MarkComplex515(sessionID)
		}
		r.schedule(sessionID, code, errText, 0)
		return
	}

	if entry.IsPermanent {
		r.handlePermanent(ctx, sessionID, code, entry)
		return
	}

	if entry.RequiresAuthClear {
		r.clearAuth(ctx, sessionID, entry.PreserveCreds)
	}

	if !entry.ShouldReconnect {
		return
	}

	if sess, err := r.manager.repo.GetSession(ctx, sessionID); err == nil {
		if sess.ReconnectAttempts >= policy.MaxAttempts(code, errText) {
			log.Warn().
				Str("session_id", sessionID).
				Int("attempts", sess.ReconnectAttempts).
				Msg("Reconnection budget exhausted")
			r.persistClosed(sessionID)
			return
		}
	}

	r.manager.cleanupSocketInMemoryOnly(sessionID)
	r.schedule(sessionID, code, errText, 0)
}

// handlePermanent routes terminal codes: web sessions keep their
// stored identity, chat-bot sessions are erased and notified.
func (r *Reconnector) handlePermanent(ctx context.Context, sessionID string, code int, entry policy.Entry) {
	source := session.SourceForUserID(session.UserIDFrom(sessionID))
	if sess, err := r.manager.repo.GetSession(ctx, sessionID); err == nil {
		source = sess.Source
	}

	if code == policy.CodeLoggedOut && source == session.SourceWeb {
		// web users keep the metadata row; only auth is erased
		r.manager.cleanupSocketInMemoryOnly(sessionID)
		r.clearAuth(ctx, sessionID, false)
		r.persistClosed(sessionID)
	} else if entry.RequiresCleanup {
		r.manager.CompleteCleanup(ctx, sessionID)
	} else {
		r.manager.cleanupSocketInMemoryOnly(sessionID)
	}

	if entry.RequiresNotification && source == session.SourceTelegram {
		userID := session.UserIDFrom(sessionID)
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
			defer cancel()
			r.notifier.NotifyDisconnect(nctx, userID, code, entry.Message, entry.UserAction)
		}()
	}
}

func (r *Reconnector) clearAuth(ctx context.Context, sessionID string, preserveCreds bool) {
	var err error
	if preserveCreds {
		// keep the paired identity; the library refreshes its own
		// session keys on the next connect
		err = r.manager.auth.DeleteSessionExceptCreds(ctx, sessionID)
	} else {
		r.manager.wipeDevice(ctx, sessionID)
		err = r.manager.auth.DeleteSession(ctx, sessionID)
	}
	if err != nil {
		log.Warn().Err(err).
			Str("session_id", sessionID).
			Bool("preserve_creds", preserveCreds).
			Msg("Auth clear failed")
	}
}

// schedule arms a reconnection attempt after the policy delay
func (r *Reconnector) schedule(sessionID string, code int, errText string, attempt int) {
	delay := policy.ReconnectDelay(code, errText, attempt)

	r.mu.Lock()
	if at, held := r.locks[sessionID]; held {
		if time.Since(at) < staleLockAge {
			r.mu.Unlock()
			log.Debug().Str("session_id", sessionID).Msg("Reconnection lock held, not scheduling")
			return
		}
		log.Warn().Str("session_id", sessionID).Msg("Releasing stale reconnection lock")
		r.releaseLocked(sessionID)
	}
	r.locks[sessionID] = time.Now()

	rec := &reconnection{startTime: time.Now(), attempt: attempt, code: code}
	rec.timer = time.AfterFunc(delay, func() {
		r.attempt(sessionID, code, errText, attempt)
	})
	r.active[sessionID] = rec
	r.mu.Unlock()

	log.Info().
		Str("session_id", sessionID).
		Int("status_code", code).
		Int("attempt", attempt+1).
		Dur("delay", delay).
		Msg("Reconnection scheduled")
}

// attempt performs one reconnection try and reschedules on failure
func (r *Reconnector) attempt(sessionID string, code int, errText string, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := r.manager.repo.GetSession(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Session row missing, cleaning up")
		r.release(sessionID)
		r.manager.CompleteCleanup(ctx, sessionID)
		return
	}

	sess.ReconnectAttempts++
	sess.Status = session.StatusConnecting
	sess.IsConnected = false
	if err := r.manager.repo.UpdateSession(ctx, sess); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist reconnect attempt")
	}

	_, err = r.manager.Create(ctx, CreateOptions{
		UserID:      sess.UserID,
		PhoneNumber: sess.PhoneNumber,
		Source:      sess.Source,
		IsReconnect: true,
	})
	r.release(sessionID)

	if err == nil {
		log.Info().
			Str("session_id", sessionID).
			Int("attempt", attempt+1).
			Msg("Reconnection succeeded")
		return
	}

	log.Warn().Err(err).
		Str("session_id", sessionID).
		Int("attempt", attempt+1).
		Msg("Reconnection attempt failed")

	// retries stay on the triggering code's curve
	next := attempt + 1
	maxAttempts := policy.MaxAttempts(code, errText)
	if next >= maxAttempts {
		log.Error().
			Str("session_id", sessionID).
			Int("attempts", next).
			Msg("Giving up on reconnection")
		r.persistClosed(sessionID)
		return
	}
	r.schedule(sessionID, code, errText, next)
}

// CancelReconnection aborts any in-flight reconnection, called by
// voluntary disconnect
func (r *Reconnector) CancelReconnection(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[sessionID]; ok {
		log.Debug().Str("session_id", sessionID).Msg("Reconnection cancelled")
	}
	r.releaseLocked(sessionID)
}

// CanReinitialize reports whether the health monitor may touch the
// session; false while a reconnection holds the lock
func (r *Reconnector) CanReinitialize(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, held := r.locks[sessionID]
	if held && time.Since(at) >= staleLockAge {
		r.releaseLocked(sessionID)
		held = false
	}
	return !held
}

// ActiveCount returns the number of in-flight reconnections
func (r *Reconnector) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Reconnector) isLocked(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	at, held := r.locks[sessionID]
	if !held {
		return false
	}
	if time.Since(at) >= staleLockAge {
		r.releaseLocked(sessionID)
		return false
	}
	return true
}

func (r *Reconnector) release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(sessionID)
}

// releaseLocked drops the lock and disarms any pending attempt timer.
// Caller holds r.mu.
func (r *Reconnector) releaseLocked(sessionID string) {
	if rec, ok := r.active[sessionID]; ok {
		rec.timer.Stop()
		delete(r.active, sessionID)
	}
	delete(r.locks, sessionID)
}

func (r *Reconnector) persistClosed(sessionID string) {
	r.manager.persistStatus(sessionID, session.StatusDisconnected, false)
}
