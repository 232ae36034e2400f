package fleet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wafleet/internal/app/config"
	"wafleet/internal/dispatch"
	"wafleet/internal/domain/session"
	"wafleet/internal/domain/whatsapp"
	"wafleet/internal/fleet/policy"
	"wafleet/internal/plugin"
	"wafleet/internal/storage/authstore"
	"wafleet/internal/storage/prefix"
)

// memRepo is an in-memory session.Repository
type memRepo struct {
	mu       sync.Mutex
	rows     map[string]*session.Session
	settings map[string]*session.UserSettings
}

func newMemRepo() *memRepo {
	return &memRepo{
		rows:     make(map[string]*session.Session),
		settings: make(map[string]*session.UserSettings),
	}
}

func (r *memRepo) GetSession(ctx context.Context, id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, session.NotFoundError(id)
}

func (r *memRepo) SaveSession(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.rows[s.SessionID] = &cp
	return nil
}

func (r *memRepo) UpdateSession(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[s.SessionID]; !ok {
		return session.NotFoundError(s.SessionID)
	}
	cp := *s
	r.rows[s.SessionID] = &cp
	return nil
}

func (r *memRepo) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	delete(r.settings, session.UserIDFrom(id))
	return nil
}

func (r *memRepo) DeleteSessionKeepUser(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memRepo) CompletelyDeleteSession(ctx context.Context, id string) error {
	return r.DeleteSession(ctx, id)
}

func (r *memRepo) GetAllSessions(ctx context.Context) ([]*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.rows))
	for _, row := range r.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) GetUndetectedWebSessions(ctx context.Context) ([]*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.Session
	for _, row := range r.rows {
		if row.Source == session.SourceWeb && !row.Detected {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRepo) MarkSessionAsDetected(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return session.NotFoundError(id)
	}
	row.Detected = true
	row.DetectionError = ""
	return nil
}

func (r *memRepo) GetAllUserSettings(ctx context.Context) ([]*session.UserSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.UserSettings, 0, len(r.settings))
	for _, s := range r.settings {
		out = append(out, s)
	}
	return out, nil
}

func (r *memRepo) SaveUserSettings(ctx context.Context, s *session.UserSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[s.UserID] = s
	return nil
}

func (r *memRepo) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[id]
	return ok
}

func (r *memRepo) status(id string) session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		return row.Status
	}
	return ""
}

// stubSocket is a controllable whatsapp.Socket
type stubSocket struct {
	whatsapp.Socket

	mu        sync.Mutex
	connected bool
	loggedIn  bool
	installed bool
	closed    bool
	own       string
	sent      []string
	connErr   error
}

func (s *stubSocket) InstallHandler(h func(whatsapp.Event)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.installed {
		return false
	}
	s.installed = true
	return true
}

func (s *stubSocket) RemoveHandlers() {}

func (s *stubSocket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connErr != nil {
		return s.connErr
	}
	s.connected = true
	return nil
}

func (s *stubSocket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.closed = true
}

func (s *stubSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubSocket) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *stubSocket) OwnJID() string { return s.own }

func (s *stubSocket) SendMessage(ctx context.Context, jid string, c whatsapp.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c.Text)
	return nil
}

func (s *stubSocket) FlushEvents()      {}
func (s *stubSocket) IsBuffering() bool { return false }

// stubFactory hands out pre-built sockets per session id
type stubFactory struct {
	mu      sync.Mutex
	sockets map[string]*stubSocket
	err     error
	calls   int
}

func newStubFactory() *stubFactory {
	return &stubFactory{sockets: make(map[string]*stubSocket)}
}

func (f *stubFactory) NewSocket(ctx context.Context, opts whatsapp.FactoryOptions) (whatsapp.Socket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sock := &stubSocket{loggedIn: true, own: session.UserIDFrom(opts.SessionID) + "@s.whatsapp.net"}
	f.sockets[opts.SessionID] = sock
	return sock, nil
}

// memNotifier records disconnect notifications
type memNotifier struct {
	mu    sync.Mutex
	calls []int
	users []string
}

func (n *memNotifier) Send(ctx context.Context, userID, text string) error { return nil }

func (n *memNotifier) NotifyDisconnect(ctx context.Context, userID string, code int, reason, action string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, code)
	n.users = append(n.users, userID)
	return nil
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fixture struct {
	manager     *Manager
	reconnector *Reconnector
	health      *HealthMonitor
	detector    *WebDetector
	repo        *memRepo
	auth        *authstore.FileStore
	factory     *stubFactory
	notifier    *memNotifier
	state       *State
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	auth, err := authstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	factory := newStubFactory()
	state := NewState()
	notifier := &memNotifier{}

	groups := dispatch.NewGroupMetaCache()
	proc := dispatch.NewProcessor(dispatch.NewDedup(time.Minute), prefix.New(repo), plugin.NewRegistry(), groups, nil, nil, 0)
	dispatcher := dispatch.NewDispatcher(proc, auth, groups, nil)

	cfg := config.FleetConfig{
		MaxSessions:     5,
		InitConcurrency: 3,
		PingTimeout:     100 * time.Millisecond,
		InactivityLimit: time.Hour,
	}

	manager := NewManager(cfg, repo, auth, factory, dispatcher, state)
	reconnector := NewReconnector(manager, state, notifier, false)
	health := NewHealthMonitor(manager, prefix.New(repo), time.Hour, time.Hour, time.Hour, 100*time.Millisecond)
	detector := NewWebDetector(manager, repo, state, time.Hour)
	manager.SetReconnector(reconnector)
	manager.SetHealth(health)

	return &fixture{
		manager:     manager,
		reconnector: reconnector,
		health:      health,
		detector:    detector,
		repo:        repo,
		auth:        auth,
		factory:     factory,
		notifier:    notifier,
		state:       state,
	}
}

func (f *fixture) createConnected(t *testing.T, userID string, source session.Source) *stubSocket {
	t.Helper()
	_, err := f.manager.Create(context.Background(), CreateOptions{UserID: userID, Source: source})
	require.NoError(t, err)
	return f.factory.sockets[session.IDFor(userID)]
}

func TestCreateRegistersAndPersists(t *testing.T) {
	f := newFixture(t)

	sock, err := f.manager.Create(context.Background(), CreateOptions{UserID: "100", Source: session.SourceTelegram})
	require.NoError(t, err)
	assert.True(t, sock.Connected())
	assert.Equal(t, 1, f.manager.ActiveCount())

	assert.Eventually(t, func() bool {
		return f.repo.status("session_100") == session.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateReturnsLiveSocket(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "100", session.SourceTelegram)

	sock2, err := f.manager.Create(context.Background(), CreateOptions{UserID: "100", Source: session.SourceTelegram})
	require.NoError(t, err)
	assert.Equal(t, 1, f.factory.calls, "live socket is reused, not recreated")
	assert.True(t, sock2.Connected())
}

func TestCreateReplacesDeadSocket(t *testing.T) {
	f := newFixture(t)
	sock := f.createConnected(t, "100", session.SourceTelegram)
	sock.Close()

	_, err := f.manager.Create(context.Background(), CreateOptions{UserID: "100", Source: session.SourceTelegram, IsReconnect: true})
	require.NoError(t, err)
	assert.Equal(t, 2, f.factory.calls)
	assert.Equal(t, 1, f.manager.ActiveCount())
}

func TestCreateEnforcesMaxSessions(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		f.createConnected(t, id, session.SourceTelegram)
	}

	_, err := f.manager.Create(context.Background(), CreateOptions{UserID: "6", Source: session.SourceTelegram})
	assert.ErrorIs(t, err, session.ErrMaxSessionsReached)
}

func TestCreateFactoryFailure(t *testing.T) {
	f := newFixture(t)
	f.factory.err = errors.New("boom")

	_, err := f.manager.Create(context.Background(), CreateOptions{UserID: "100", Source: session.SourceTelegram})
	assert.ErrorIs(t, err, session.ErrFactoryFailed)
	assert.Equal(t, 0, f.manager.ActiveCount())
}

func TestDisconnectWebKeepsRow(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "1000000001", session.SourceWeb)
	require.Eventually(t, func() bool { return f.repo.has("session_1000000001") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.manager.Disconnect(context.Background(), "session_1000000001", false))

	assert.Equal(t, 0, f.manager.ActiveCount())
	assert.True(t, f.state.IsVoluntary("session_1000000001"))
	assert.True(t, f.repo.has("session_1000000001"), "web rows survive voluntary disconnect")
	assert.Eventually(t, func() bool {
		return f.repo.status("session_1000000001") == session.StatusDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectTelegramDeletesRow(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "200", session.SourceTelegram)
	require.Eventually(t, func() bool { return f.repo.has("session_200") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.manager.Disconnect(context.Background(), "session_200", false))
	assert.False(t, f.repo.has("session_200"))
}

func TestCompleteCleanupErasesAuthBifurcated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// telegram: everything goes
	f.createConnected(t, "300", session.SourceTelegram)
	require.Eventually(t, func() bool { return f.repo.has("session_300") }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.auth.Put(ctx, "session_300", authstore.CredsFilename, []byte("c")))

	f.manager.CompleteCleanup(ctx, "session_300")

	has, _ := f.auth.HasCreds(ctx, "session_300")
	assert.False(t, has)
	assert.False(t, f.repo.has("session_300"))

	// web: auth goes, metadata stays
	f.createConnected(t, "1000000002", session.SourceWeb)
	require.Eventually(t, func() bool { return f.repo.has("session_1000000002") }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.auth.Put(ctx, "session_1000000002", authstore.CredsFilename, []byte("c")))

	f.manager.CompleteCleanup(ctx, "session_1000000002")

	has, _ = f.auth.HasCreds(ctx, "session_1000000002")
	assert.False(t, has)
	assert.True(t, f.repo.has("session_1000000002"))
}

func TestInitializeExistingSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"10", "11", "12"} {
		require.NoError(t, f.repo.SaveSession(ctx, session.New(id, "", session.SourceTelegram)))
		require.NoError(t, f.auth.Put(ctx, session.IDFor(id), authstore.CredsFilename, []byte("c")))
	}
	// a row with no creds is skipped, not failed
	require.NoError(t, f.repo.SaveSession(ctx, session.New("13", "", session.SourceTelegram)))

	res, err := f.manager.InitializeExistingSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 3, f.manager.ActiveCount())
}

func TestStartupFindsOrphanedCredDirs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.auth.Put(ctx, "session_77", authstore.CredsFilename, []byte("c")))

	candidates, err := f.manager.startupCandidates(ctx)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "session_77", candidates[0].SessionID)
	assert.Equal(t, session.SourceTelegram, candidates[0].Source)
}

func TestOnCloseSkips405(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "100", session.SourceTelegram)
	require.Eventually(t, func() bool { return f.repo.has("session_100") }, 2*time.Second, 10*time.Millisecond)

	f.reconnector.HandleConnectionUpdate("session_100", &whatsapp.ConnectionUpdate{
		Connection: whatsapp.ConnClose,
		StatusCode: policy.CodeMethodNotAllowed,
	})

	assert.Equal(t, 1, f.manager.ActiveCount(), "405 leaves everything untouched")
	assert.Equal(t, 0, f.reconnector.ActiveCount())
}

func TestOnCloseVoluntaryNoReconnect(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "100", session.SourceTelegram)
	f.state.MarkVoluntary("session_100")

	f.reconnector.HandleConnectionUpdate("session_100", &whatsapp.ConnectionUpdate{
		Connection: whatsapp.ConnClose,
		StatusCode: policy.CodeUnavailable,
	})

	assert.Equal(t, 0, f.reconnector.ActiveCount())
}

func TestOnCloseLoggedOutTelegramCleansAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createConnected(t, "100", session.SourceTelegram)
	require.Eventually(t, func() bool { return f.repo.has("session_100") }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.auth.Put(ctx, "session_100", authstore.CredsFilename, []byte("c")))

	f.reconnector.HandleConnectionUpdate("session_100", &whatsapp.ConnectionUpdate{
		Connection: whatsapp.ConnClose,
		StatusCode: policy.CodeLoggedOut,
	})

	assert.Equal(t, 0, f.manager.ActiveCount())
	assert.False(t, f.repo.has("session_100"), "chat-bot rows are erased on logout")
	has, _ := f.auth.HasCreds(ctx, "session_100")
	assert.False(t, has)
	assert.Eventually(t, func() bool { return f.notifier.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestOnCloseLoggedOutWebKeepsMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createConnected(t, "1000000001", session.SourceWeb)
	require.Eventually(t, func() bool { return f.repo.has("session_1000000001") }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.auth.Put(ctx, "session_1000000001", authstore.CredsFilename, []byte("c")))

	f.reconnector.HandleConnectionUpdate("session_1000000001", &whatsapp.ConnectionUpdate{
		Connection: whatsapp.ConnClose,
		StatusCode: policy.CodeLoggedOut,
	})

	assert.True(t, f.repo.has("session_1000000001"), "web rows survive logout")
	has, _ := f.auth.HasCreds(ctx, "session_1000000001")
	assert.False(t, has, "auth is still erased")
	assert.Equal(t, 0, f.notifier.count(), "web users are not notified via chat-bot")
}

func TestOnClose515TagsAndSchedules(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "100", session.SourceTelegram)
	require.Eventually(t, func() bool { return f.repo.has("session_100") }, 2*time.Second, 10*time.Millisecond)

	f.reconnector.HandleConnectionUpdate("session_100", &whatsapp.ConnectionUpdate{
		Connection: whatsapp.ConnClose,
		StatusCode: policy.CodeRestartRequired,
	})

	assert.True(t, f.state.Is515("session_100"))
	assert.False(t, f.state.IsComplex515("session_100"), "complex flow disabled by default")
	assert.Equal(t, 1, f.reconnector.ActiveCount())
	assert.False(t, f.reconnector.CanReinitialize("session_100"))

	// a second close while locked is dropped
	f.reconnector.HandleConnectionUpdate("session_100", &whatsapp.ConnectionUpdate{
		Connection: whatsapp.ConnClose,
		StatusCode: policy.CodeRestartRequired,
	})
	assert.Equal(t, 1, f.reconnector.ActiveCount())

	f.reconnector.CancelReconnection("session_100")
	assert.Equal(t, 0, f.reconnector.ActiveCount())
	assert.True(t, f.reconnector.CanReinitialize("session_100"))
}

func TestOnOpenResetsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess := session.New("100", "", session.SourceTelegram)
	sess.ReconnectAttempts = 4
	require.NoError(t, f.repo.SaveSession(ctx, sess))

	f.reconnector.HandleConnectionUpdate("session_100", &whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})

	row, err := f.repo.GetSession(ctx, "session_100")
	require.NoError(t, err)
	assert.Equal(t, 0, row.ReconnectAttempts)
	assert.Equal(t, session.StatusConnected, row.Status)
}

func TestAttemptIncrementsAndCreates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveSession(ctx, session.New("100", "", session.SourceTelegram)))

	f.reconnector.attempt("session_100", policy.CodeUnavailable, "", 0)

	assert.Equal(t, 1, f.manager.ActiveCount())
	row, err := f.repo.GetSession(ctx, "session_100")
	require.NoError(t, err)
	assert.Equal(t, session.StatusConnected, row.Status)
	assert.Equal(t, 0, row.ReconnectAttempts, "successful reconnect resets the budget")
	assert.Equal(t, 0, f.reconnector.ActiveCount(), "lock released after success")
}

func TestAttemptMissingRowCleansUp(t *testing.T) {
	f := newFixture(t)

	f.reconnector.attempt("session_404", policy.CodeUnavailable, "", 0)
	assert.Equal(t, 0, f.manager.ActiveCount())
	assert.Equal(t, 0, f.reconnector.ActiveCount())
}

func TestHealthSweepRoutesPartialAsLogout(t *testing.T) {
	f := newFixture(t)
	sock := f.createConnected(t, "100", session.SourceTelegram)
	require.Eventually(t, func() bool { return f.repo.has("session_100") }, 2*time.Second, 10*time.Millisecond)

	sock.mu.Lock()
	sock.loggedIn = false
	sock.mu.Unlock()

	f.health.sweep()

	assert.Equal(t, 0, f.manager.ActiveCount(), "partial session torn down via logout routing")
	assert.False(t, f.repo.has("session_100"))
}

func TestHealthRecordActivityResetsPings(t *testing.T) {
	f := newFixture(t)
	f.health.StartMonitoring("session_1")

	f.health.mu.Lock()
	f.health.monitored["session_1"].failedPings = 2
	f.health.mu.Unlock()

	f.health.RecordActivity("session_1")

	f.health.mu.Lock()
	st := f.health.monitored["session_1"]
	f.health.mu.Unlock()
	assert.Equal(t, 0, st.failedPings)
}

func TestReinitializeGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createConnected(t, "100", session.SourceTelegram)
	require.Eventually(t, func() bool { return f.repo.has("session_100") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.health.Reinitialize(ctx, "session_100"))
	assert.Equal(t, 1, f.manager.ActiveCount())

	// immediate retry hits the tombstone/cooldown
	err := f.health.Reinitialize(ctx, "session_100")
	assert.Error(t, err)
}

func TestReinitializeDefersToReconnector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveSession(ctx, session.New("100", "", session.SourceTelegram)))

	f.reconnector.mu.Lock()
	f.reconnector.locks["session_100"] = time.Now()
	f.reconnector.mu.Unlock()

	err := f.health.Reinitialize(ctx, "session_100")
	assert.Error(t, err, "reconnection in flight blocks reinit")
}

func TestWebDetectorClaimsLiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createConnected(t, "1000000001", session.SourceWeb)

	row := session.New("1000000001", "", session.SourceWeb)
	row.Detected = false
	require.NoError(t, f.repo.SaveSession(ctx, row))

	f.detector.poll(ctx)

	got, err := f.repo.GetSession(ctx, "session_1000000001")
	require.NoError(t, err)
	assert.True(t, got.Detected)
	assert.True(t, f.state.IsDetected("session_1000000001"))
	assert.Equal(t, 1, f.factory.calls, "no second socket created")
}

func TestWebDetectorCreatesMissingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row := session.New("1000000002", "15550001111", session.SourceWeb)
	row.Detected = false
	require.NoError(t, f.repo.SaveSession(ctx, row))

	f.detector.poll(ctx)

	assert.Equal(t, 1, f.manager.ActiveCount())
	got, err := f.repo.GetSession(ctx, "session_1000000002")
	require.NoError(t, err)
	assert.True(t, got.Detected)
}

func TestWebDetectorRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.factory.err = errors.New("factory down")

	row := session.New("1000000003", "", session.SourceWeb)
	row.Detected = false
	require.NoError(t, f.repo.SaveSession(ctx, row))

	f.detector.poll(ctx)

	got, err := f.repo.GetSession(ctx, "session_1000000003")
	require.NoError(t, err)
	assert.False(t, got.Detected)
	assert.Contains(t, got.DetectionError, "factory down")
	assert.False(t, got.LastDetectionAttempt.IsZero())
}

func TestForceTakeoverBypassesDetectedFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	row := session.New("1000000004", "", session.SourceWeb)
	row.Detected = true
	require.NoError(t, f.repo.SaveSession(ctx, row))
	f.state.MarkDetected("session_1000000004")

	require.NoError(t, f.detector.ForceTakeover(ctx, "session_1000000004"))

	assert.Equal(t, 1, f.manager.ActiveCount())
	got, err := f.repo.GetSession(ctx, "session_1000000004")
	require.NoError(t, err)
	assert.True(t, got.Detected, "re-marked after successful takeover")
}

func TestFleetStatusCounts(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "1", session.SourceTelegram)
	sock := f.createConnected(t, "2", session.SourceTelegram)
	sock.Close()

	st := f.manager.FleetStatus()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Connected)
}

func TestStateSweepKeepsVoluntary(t *testing.T) {
	s := NewState()
	s.MarkVoluntary("session_1")
	s.Mark515("session_1")
	s.MarkComplex515("session_1")

	removed := s.Sweep(func(string) bool { return false })
	assert.Equal(t, 2, removed)
	assert.True(t, s.IsVoluntary("session_1"), "voluntary outlives the socket")
	assert.False(t, s.Is515("session_1"))
}

func TestShutdownClosesEverything(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "1", session.SourceTelegram)
	f.createConnected(t, "2", session.SourceTelegram)

	f.manager.Shutdown(context.Background())
	assert.Equal(t, 0, f.manager.ActiveCount())
}

func TestOnOpen515TagRetained(t *testing.T) {
	f := newFixture(t)
	f.createConnected(t, "100", session.SourceTelegram)
	require.Eventually(t, func() bool { return f.repo.has("session_100") }, 2*time.Second, 10*time.Millisecond)

	f.reconnector.HandleConnectionUpdate("session_100", &whatsapp.ConnectionUpdate{
		Connection: whatsapp.ConnClose,
		StatusCode: policy.CodeRestartRequired,
	})
	require.True(t, f.state.Is515("session_100"))

	// reconnect succeeds and the wire reopens
	f.reconnector.attempt("session_100", policy.CodeRestartRequired, "", 0)
	f.reconnector.HandleConnectionUpdate("session_100", &whatsapp.ConnectionUpdate{Connection: whatsapp.ConnOpen})

	assert.True(t, f.state.Is515("session_100"), "tag survives the next open for observation")

	f.manager.CompleteCleanup(context.Background(), "session_100")
	assert.False(t, f.state.Is515("session_100"), "cleanup finally drops the tag")
}

// memWiper records device-state erasures
type memWiper struct {
	mu    sync.Mutex
	wiped []string
}

func (w *memWiper) DeleteDevice(ctx context.Context, sessionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wiped = append(w.wiped, sessionID)
	return nil
}

func (w *memWiper) all() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.wiped...)
}

func TestCompleteCleanupWipesDeviceState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wiper := &memWiper{}
	f.manager.SetDeviceWiper(wiper)

	f.createConnected(t, "100", session.SourceTelegram)
	require.NoError(t, f.auth.Put(ctx, "session_100", authstore.CredsFilename, []byte("c")))

	f.manager.CompleteCleanup(ctx, "session_100")

	assert.Equal(t, []string{"session_100"}, wiper.all())
	has, _ := f.auth.HasCreds(ctx, "session_100")
	assert.False(t, has)
}

func TestOnCloseLoggedOutWebWipesDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wiper := &memWiper{}
	f.manager.SetDeviceWiper(wiper)

	f.createConnected(t, "1000000001", session.SourceWeb)
	require.Eventually(t, func() bool { return f.repo.has("session_1000000001") }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.auth.Put(ctx, "session_1000000001", authstore.CredsFilename, []byte("c")))

	f.reconnector.HandleConnectionUpdate("session_1000000001", &whatsapp.ConnectionUpdate{
		Connection: whatsapp.ConnClose,
		StatusCode: policy.CodeLoggedOut,
	})

	assert.Equal(t, []string{"session_1000000001"}, wiper.all(), "full auth erase drops the device too")
	assert.True(t, f.repo.has("session_1000000001"), "web rows still survive logout")
}

func TestStaleLockReleaseDisarmsTimer(t *testing.T) {
	f := newFixture(t)

	f.reconnector.schedule("session_100", policy.CodeTooManyRequests, "", 5)
	f.reconnector.mu.Lock()
	rec := f.reconnector.active["session_100"]
	f.reconnector.locks["session_100"] = time.Now().Add(-2 * staleLockAge)
	f.reconnector.mu.Unlock()
	require.NotNil(t, rec)

	assert.True(t, f.reconnector.CanReinitialize("session_100"))
	assert.False(t, rec.timer.Stop(), "pending attempt was disarmed with the stale lock")
	assert.Equal(t, 0, f.reconnector.ActiveCount())
}

func TestScheduleOverStaleLockStopsPriorTimer(t *testing.T) {
	f := newFixture(t)

	f.reconnector.schedule("session_100", policy.CodeTooManyRequests, "", 5)
	f.reconnector.mu.Lock()
	old := f.reconnector.active["session_100"]
	f.reconnector.locks["session_100"] = time.Now().Add(-2 * staleLockAge)
	f.reconnector.mu.Unlock()
	require.NotNil(t, old)

	f.reconnector.schedule("session_100", policy.CodeTooManyRequests, "", 5)

	assert.False(t, old.timer.Stop(), "overwritten attempt was disarmed")
	assert.Equal(t, 1, f.reconnector.ActiveCount())
	f.reconnector.CancelReconnection("session_100")
}
