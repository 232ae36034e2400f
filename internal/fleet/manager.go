package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/app/config"
	"wafleet/internal/batch"
	"wafleet/internal/dispatch"
	"wafleet/internal/domain/session"
	"wafleet/internal/domain/whatsapp"
	"wafleet/internal/plugin"
	"wafleet/internal/storage/authstore"
)

// persistTimeout bounds fire-and-forget metadata writes
const persistTimeout = 5 * time.Second

// failedRetryMaxAttempts caps how often the background retry revisits
// a failed session
const failedRetryMaxAttempts = 10

// Purger removes a session's archived messages during full cleanup
type Purger interface {
	PurgeSession(ctx context.Context, sessionID string) error
}

// DeviceWiper erases the client library's stored device and key state
// for a session. Without it an erased session leaves orphan device
// rows behind and a re-pair accumulates them.
type DeviceWiper interface {
	DeleteDevice(ctx context.Context, sessionID string) error
}

// managed is one live registry entry
type managed struct {
	sock      whatsapp.Socket
	sessionID string
	userID    string
	phone     string
	source    session.Source
}

// CreateOptions parameterizes session creation
type CreateOptions struct {
	UserID       string
	PhoneNumber  string
	Source       session.Source
	IsReconnect  bool
	AllowPairing bool
	OnQR         func(code string)
	OnPairCode   func(code string)
}

// InitResult summarizes a startup rehydration pass
type InitResult struct {
	Initialized int `json:"initialized"`
	Total       int `json:"total"`
	Failed      int `json:"failed"`
}

// SessionInfo is the merged persisted and runtime view of a session
type SessionInfo struct {
	*session.Session
	InRegistry bool `json:"in_registry"`
	WireAlive  bool `json:"wire_alive"`
	LoggedIn   bool `json:"logged_in"`
	Voluntary  bool `json:"voluntary_disconnect"`
	Restarting bool `json:"restarting_515"`
}

// Manager owns the live socket registry. It is the only component
// that mutates activeSockets.
type Manager struct {
	cfg        config.FleetConfig
	repo       session.Repository
	auth       authstore.Store
	factory    whatsapp.SocketFactory
	dispatcher *dispatch.Dispatcher
	state      *State
	purger     Purger
	wiper      DeviceWiper

	mu     sync.RWMutex
	active map[string]*managed

	reconnector *Reconnector
	health      *HealthMonitor
}

// NewManager creates the session manager
func NewManager(cfg config.FleetConfig, repo session.Repository, auth authstore.Store, factory whatsapp.SocketFactory, dispatcher *dispatch.Dispatcher, state *State) *Manager {
	return &Manager{
		cfg:        cfg,
		repo:       repo,
		auth:       auth,
		factory:    factory,
		dispatcher: dispatcher,
		state:      state,
		active:     make(map[string]*managed),
	}
}

// SetReconnector wires the disconnect router (post-construction, the
// two reference each other)
func (m *Manager) SetReconnector(r *Reconnector) { m.reconnector = r }

// SetHealth wires the health monitor
func (m *Manager) SetHealth(h *HealthMonitor) { m.health = h }

// SetPurger wires the message archive purge step of full cleanup
func (m *Manager) SetPurger(p Purger) { m.purger = p }

// SetDeviceWiper wires the client-library device erase step
func (m *Manager) SetDeviceWiper(w DeviceWiper) { m.wiper = w }

// Initialize verifies the storage adapters are reachable
func (m *Manager) Initialize(ctx context.Context) error {
	if _, err := m.auth.ListSessionIDs(ctx); err != nil {
		return fmt.Errorf("%w: auth store: %v", session.ErrStorageUnavailable, err)
	}
	if _, err := m.repo.GetAllSessions(ctx); err != nil {
		return fmt.Errorf("%w: metadata store: %v", session.ErrStorageUnavailable, err)
	}
	log.Info().Int("max_sessions", m.cfg.MaxSessions).Msg("Session manager initialized")
	return nil
}

// InitializeExistingSessions rehydrates all persisted sessions with
// bounded parallelism, then retries failures one at a time.
func (m *Manager) InitializeExistingSessions(ctx context.Context) (InitResult, error) {
	candidates, err := m.startupCandidates(ctx)
	if err != nil {
		return InitResult{}, err
	}

	if len(candidates) > m.cfg.MaxSessions {
		log.Warn().
			Int("found", len(candidates)).
			Int("max", m.cfg.MaxSessions).
			Msg("More stored sessions than the fleet limit, truncating")
		candidates = candidates[:m.cfg.MaxSessions]
	}

	result := InitResult{Total: len(candidates)}
	if len(candidates) == 0 {
		return result, nil
	}

	log.Info().Int("total", result.Total).Msg("Reconnecting existing sessions")

	concurrency := m.cfg.InitConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	var mu sync.Mutex
	var failedSessions []*session.Session

	for start := 0; start < len(candidates); start += concurrency {
		end := start + concurrency
		if end > len(candidates) {
			end = len(candidates)
		}

		var wg sync.WaitGroup
		for i, sess := range candidates[start:end] {
			if i > 0 {
				time.Sleep(m.cfg.InitStagger)
			}
			wg.Add(1)
			go func(sess *session.Session) {
				defer wg.Done()
				if err := m.rehydrate(ctx, sess); err != nil {
					log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("Startup reconnect failed")
					mu.Lock()
					failedSessions = append(failedSessions, sess)
					mu.Unlock()
					return
				}
				mu.Lock()
				result.Initialized++
				mu.Unlock()
			}(sess)
		}
		wg.Wait()

		if end < len(candidates) {
			time.Sleep(m.cfg.InitBatchDelay)
		}
	}

	// failed sessions get one more pass, strictly serialized
	for _, sess := range failedSessions {
		if err := m.rehydrate(ctx, sess); err != nil {
			log.Error().Err(err).Str("session_id", sess.SessionID).Msg("Startup reconnect retry failed")
			result.Failed++
			continue
		}
		result.Initialized++
	}

	log.Info().
		Int("initialized", result.Initialized).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Msg("Startup session rehydration completed")
	return result, nil
}

// startupCandidates merges session rows with, in file mode, on-disk
// credential directories unknown to the metadata store.
func (m *Manager) startupCandidates(ctx context.Context) ([]*session.Session, error) {
	rows, err := m.repo.GetAllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored sessions: %w", err)
	}

	known := make(map[string]bool, len(rows))
	candidates := make([]*session.Session, 0, len(rows))
	for _, row := range rows {
		known[row.SessionID] = true
		candidates = append(candidates, row)
	}

	ids, err := m.auth.ListSessionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth sessions: %w", err)
	}
	for _, id := range ids {
		if known[id] {
			continue
		}
		has, err := m.auth.HasCreds(ctx, id)
		if err != nil || !has {
			continue
		}
		userID := session.UserIDFrom(id)
		candidates = append(candidates, session.New(userID, "", session.SourceForUserID(userID)))
	}
	return candidates, nil
}

func (m *Manager) rehydrate(ctx context.Context, sess *session.Session) error {
	has, err := m.auth.HasCreds(ctx, sess.SessionID)
	if err != nil {
		return fmt.Errorf("failed to check credentials: %w", err)
	}
	if !has {
		log.Debug().Str("session_id", sess.SessionID).Msg("No credentials stored, skipping rehydration")
		m.persistStatus(sess.SessionID, session.StatusAuthMissing, false)
		return nil
	}

	_, err = m.Create(ctx, CreateOptions{
		UserID:      sess.UserID,
		PhoneNumber: sess.PhoneNumber,
		Source:      sess.Source,
		IsReconnect: true,
	})
	return err
}

// Create is the canonical session-creation entry point
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (whatsapp.Socket, error) {
	sessionID := session.IDFor(opts.UserID)

	m.mu.RLock()
	existing := m.active[sessionID]
	size := len(m.active)
	m.mu.RUnlock()

	if existing == nil && size >= m.cfg.MaxSessions {
		return nil, session.MaxSessionsError(m.cfg.MaxSessions)
	}

	if !m.state.TrySetInitializing(sessionID) {
		log.Debug().Str("session_id", sessionID).Msg("Creation already in flight")
		if existing != nil {
			return existing.sock, nil
		}
		return nil, session.ErrAlreadyInitializing
	}
	defer m.state.ClearInitializing(sessionID)

	if existing != nil {
		if existing.sock.Connected() {
			return existing.sock, nil
		}
		// dead wire: drop the in-memory object, never touch stored auth
		m.cleanupSocketInMemoryOnly(sessionID)
	}

	// fresh pairing over stale auth starts from a clean slate
	if opts.AllowPairing && !opts.IsReconnect {
		if has, _ := m.auth.HasCreds(ctx, sessionID); has {
			log.Info().Str("session_id", sessionID).Msg("Stale credentials found before pairing, cleaning up")
			m.CompleteCleanup(ctx, sessionID)
		}
	}

	sock, err := m.factory.NewSocket(ctx, whatsapp.FactoryOptions{
		SessionID:     sessionID,
		PhoneNumber:   opts.PhoneNumber,
		AllowPairing:  opts.AllowPairing,
		OnQR:          opts.OnQR,
		OnPairingCode: opts.OnPairCode,
	})
	if err != nil {
		return nil, session.FactoryError(sessionID, err)
	}

	entry := &managed{
		sock:      sock,
		sessionID: sessionID,
		userID:    opts.UserID,
		phone:     opts.PhoneNumber,
		source:    opts.Source,
	}

	m.mu.Lock()
	m.active[sessionID] = entry
	m.mu.Unlock()

	m.dispatcher.Install(sock, sessionID, opts.UserID)

	if err := sock.Connect(ctx); err != nil {
		m.cleanupSocketInMemoryOnly(sessionID)
		return nil, session.FactoryError(sessionID, fmt.Errorf("connect: %w", err))
	}

	m.state.ClearVoluntary(sessionID)
	if m.health != nil {
		m.health.StartMonitoring(sessionID)
	}

	pctx, pcancel := context.WithTimeout(ctx, persistTimeout)
	sess, gerr := m.repo.GetSession(pctx, sessionID)
	if gerr != nil {
		sess = session.New(opts.UserID, opts.PhoneNumber, opts.Source)
	}
	sess.Status = session.StatusConnected
	sess.IsConnected = true
	sess.ReconnectAttempts = 0
	if opts.PhoneNumber != "" {
		sess.PhoneNumber = opts.PhoneNumber
	}
	if err := m.repo.SaveSession(pctx, sess); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist session")
	}
	pcancel()

	log.Info().
		Str("session_id", sessionID).
		Str("source", string(opts.Source)).
		Bool("reconnect", opts.IsReconnect).
		Msg("Session created")
	return sock, nil
}

// Disconnect closes a session on user request. forceCleanup erases
// everything; otherwise web sessions keep their stored identity.
func (m *Manager) Disconnect(ctx context.Context, sessionID string, forceCleanup bool) error {
	if m.reconnector != nil {
		m.reconnector.CancelReconnection(sessionID)
	}
	m.state.MarkVoluntary(sessionID)

	if forceCleanup {
		m.CompleteCleanup(ctx, sessionID)
		return nil
	}

	m.mu.RLock()
	entry := m.active[sessionID]
	m.mu.RUnlock()

	source := session.SourceForUserID(session.UserIDFrom(sessionID))
	if entry != nil {
		source = entry.source
	}

	m.cleanupSocketInMemoryOnly(sessionID)

	if source == session.SourceWeb {
		m.persistStatus(sessionID, session.StatusDisconnected, false)
	} else if err := m.repo.DeleteSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete session row")
	}

	log.Info().
		Str("session_id", sessionID).
		Str("source", string(source)).
		Msg("Session disconnected voluntarily")
	return nil
}

// CompleteCleanup is the only path allowed to erase stored auth.
// Every step is best-effort; web sessions keep their metadata row.
func (m *Manager) CompleteCleanup(ctx context.Context, sessionID string) {
	source := session.SourceForUserID(session.UserIDFrom(sessionID))
	if sess, err := m.repo.GetSession(ctx, sessionID); err == nil {
		source = sess.Source
	}

	m.cleanupSocketInMemoryOnly(sessionID)

	if m.purger != nil {
		if err := m.purger.PurgeSession(ctx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Cleanup: message purge failed")
		}
	}

	// device state first: resolving the device needs the creds blob
	m.wipeDevice(ctx, sessionID)

	if err := m.auth.DeleteSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Cleanup: auth erase failed")
	}

	if source == session.SourceWeb {
		m.persistStatus(sessionID, session.StatusDisconnected, false)
	} else if err := m.repo.CompletelyDeleteSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Cleanup: metadata erase failed")
	}

	m.state.Clear515(sessionID)
	log.Info().
		Str("session_id", sessionID).
		Str("source", string(source)).
		Msg("Complete cleanup finished")
}

// wipeDevice erases the client library's device and key rows
func (m *Manager) wipeDevice(ctx context.Context, sessionID string) {
	if m.wiper == nil {
		return
	}
	if err := m.wiper.DeleteDevice(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Device state erase failed")
	}
}

// cleanupSocketInMemoryOnly closes the wire and drops the registry
// entry without touching persisted auth
func (m *Manager) cleanupSocketInMemoryOnly(sessionID string) {
	m.mu.Lock()
	entry := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	if m.health != nil {
		m.health.StopMonitoring(sessionID)
	}

	if entry == nil {
		return
	}
	entry.sock.RemoveHandlers()
	entry.sock.Close()
}

// userIDOf returns the registered user id, falling back to the
// session id convention
func (m *Manager) userIDOf(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if entry, ok := m.active[sessionID]; ok {
		return entry.userID
	}
	return session.UserIDFrom(sessionID)
}

// Socket returns the live socket for a session, if registered
func (m *Manager) Socket(sessionID string) (whatsapp.Socket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.active[sessionID]
	if !ok {
		return nil, false
	}
	return entry.sock, true
}

// IsSessionConnected reports registry membership with a live wire
func (m *Manager) IsSessionConnected(sessionID string) bool {
	sock, ok := m.Socket(sessionID)
	return ok && sock.Connected()
}

// IsReallyConnected additionally requires an authenticated identity
func (m *Manager) IsReallyConnected(sessionID string) bool {
	sock, ok := m.Socket(sessionID)
	return ok && sock.Connected() && sock.LoggedIn()
}

// ActiveCount returns the registry size
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// ActiveSessionIDs returns the registered session ids
func (m *Manager) ActiveSessionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// GetSessionInfo merges the stored row with runtime state
func (m *Manager) GetSessionInfo(ctx context.Context, sessionID string) (*SessionInfo, error) {
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	info := &SessionInfo{
		Session:    sess,
		Voluntary:  m.state.IsVoluntary(sessionID),
		Restarting: m.state.Is515(sessionID),
	}
	if sock, ok := m.Socket(sessionID); ok {
		info.InRegistry = true
		info.WireAlive = sock.Connected()
		info.LoggedIn = sock.LoggedIn()
	}
	return info, nil
}

// GetAllSessions returns every stored session row
func (m *Manager) GetAllSessions(ctx context.Context) ([]*session.Session, error) {
	return m.repo.GetAllSessions(ctx)
}

// ConnectedTargets implements the broadcast target provider
func (m *Manager) ConnectedTargets() []batch.Target {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]batch.Target, 0, len(m.active))
	for id, entry := range m.active {
		if entry.sock.Connected() {
			targets = append(targets, batch.Target{Sock: entry.sock, SessionID: id})
		}
	}
	return targets
}

// FleetStatus implements the status plugin provider
func (m *Manager) FleetStatus() plugin.FleetStatus {
	m.mu.RLock()
	total := len(m.active)
	connected := 0
	for _, entry := range m.active {
		if entry.sock.Connected() {
			connected++
		}
	}
	m.mu.RUnlock()

	st := plugin.FleetStatus{Total: total, Connected: connected}
	if m.reconnector != nil {
		st.Reconnecting = m.reconnector.ActiveCount()
	}
	st.Failed = total - connected - st.Reconnecting
	if st.Failed < 0 {
		st.Failed = 0
	}
	return st
}

// StartMaintenance runs the flag sweep and the failed-session retry
// loops until ctx ends
func (m *Manager) StartMaintenance(ctx context.Context) {
	go m.runFlagSweep(ctx)
	go m.runFailedRetry(ctx)
}

func (m *Manager) runFlagSweep(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := m.state.Sweep(func(id string) bool {
				_, ok := m.Socket(id)
				return ok
			})
			if removed > 0 {
				log.Debug().Int("removed", removed).Msg("Swept stale session flags")
			}
		}
	}
}

func (m *Manager) runFailedRetry(ctx context.Context) {
	ticker := time.NewTicker(300 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.retryFailedSessions(ctx)
		}
	}
}

// retryFailedSessions re-attempts sessions that should be online but
// fell out of the registry, at most 3 per tick
func (m *Manager) retryFailedSessions(ctx context.Context) {
	rows, err := m.repo.GetAllSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed-session retry: listing failed")
		return
	}

	attempted := 0
	for _, row := range rows {
		if attempted >= 3 {
			return
		}
		if row.Status == session.StatusDisconnected ||
			m.state.IsVoluntary(row.SessionID) ||
			row.ReconnectAttempts >= failedRetryMaxAttempts {
			continue
		}
		if _, ok := m.Socket(row.SessionID); ok {
			continue
		}

		if attempted > 0 {
			time.Sleep(2 * time.Second)
		}
		attempted++

		log.Info().Str("session_id", row.SessionID).Msg("Retrying failed session")
		if _, err := m.Create(ctx, CreateOptions{
			UserID:      row.UserID,
			PhoneNumber: row.PhoneNumber,
			Source:      row.Source,
			IsReconnect: true,
		}); err != nil {
			log.Warn().Err(err).Str("session_id", row.SessionID).Msg("Failed-session retry unsuccessful")
		}
	}
}

// Shutdown closes every socket and records the fleet as disconnected
func (m *Manager) Shutdown(ctx context.Context) {
	ids := m.ActiveSessionIDs()
	log.Info().Int("sessions", len(ids)).Msg("Shutting down session fleet")

	for _, id := range ids {
		m.state.MarkVoluntary(id)
		if m.reconnector != nil {
			m.reconnector.CancelReconnection(id)
		}
		m.cleanupSocketInMemoryOnly(id)
		m.persistStatus(id, session.StatusDisconnected, false)
	}
}

// persistStatus updates status fields without blocking the caller
func (m *Manager) persistStatus(sessionID string, status session.Status, connected bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		sess, err := m.repo.GetSession(ctx, sessionID)
		if err != nil {
			return
		}
		sess.Status = status
		sess.IsConnected = connected
		if err := m.repo.UpdateSession(ctx, sess); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to persist session status")
		}
	}()
}
