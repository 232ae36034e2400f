package batch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wafleet/internal/domain/whatsapp"
)

// batchSocket records newsletter and send calls
type batchSocket struct {
	whatsapp.Socket

	mu          sync.Mutex
	connected   bool
	ownJID      string
	viewerRole  string
	follows     []string
	subscribes  []string
	unmutes     []string
	sent        []string
	pins        []string
	sendErr     error
	metadataErr error
}

func (s *batchSocket) Connected() bool { return s.connected }

func (s *batchSocket) OwnJID() string { return s.ownJID }

func (s *batchSocket) NewsletterMetadata(ctx context.Context, jid string) (*whatsapp.NewsletterInfo, error) {
	if s.metadataErr != nil {
		return nil, s.metadataErr
	}
	return &whatsapp.NewsletterInfo{JID: jid, ViewerRole: s.viewerRole}, nil
}

func (s *batchSocket) NewsletterFollow(ctx context.Context, jid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.follows = append(s.follows, jid)
	return nil
}

func (s *batchSocket) SubscribeNewsletterUpdates(ctx context.Context, jid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes = append(s.subscribes, jid)
	return nil
}

func (s *batchSocket) NewsletterUnmute(ctx context.Context, jid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unmutes = append(s.unmutes, jid)
	return nil
}

func (s *batchSocket) SendMessage(ctx context.Context, jid string, content whatsapp.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, content.Text)
	return nil
}

func (s *batchSocket) ChatPin(ctx context.Context, jid string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins = append(s.pins, jid)
	return nil
}

func (s *batchSocket) followCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.follows)
}

func fastFollowTimings() FollowTimings {
	return FollowTimings{BatchSize: 10, InterBatch: time.Millisecond, PerFollow: time.Millisecond, SubStep: time.Millisecond}
}

func TestFollowerRunsFullTriple(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewChannelFollower("chan@newsletter", fastFollowTimings())
	f.Start(ctx)

	sock := &batchSocket{connected: true}
	f.Enqueue(sock, "session_1")

	assert.Eventually(t, func() bool {
		sock.mu.Lock()
		defer sock.mu.Unlock()
		return len(sock.follows) == 1 && len(sock.subscribes) == 1 && len(sock.unmutes) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFollowerSkipsAlreadySubscribed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewChannelFollower("chan@newsletter", fastFollowTimings())
	f.Start(ctx)

	sock := &batchSocket{connected: true, viewerRole: "SUBSCRIBER"}
	f.Enqueue(sock, "session_1")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, sock.followCount(), "viewer role present means already subscribed")

	// a second enqueue is a no-op once followed
	f.Enqueue(sock, "session_1")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, sock.followCount())
}

func TestFollowerDeduplicatesQueuedSessions(t *testing.T) {
	f := NewChannelFollower("chan@newsletter", fastFollowTimings())

	sock := &batchSocket{connected: true}
	f.Enqueue(sock, "session_1")
	f.Enqueue(sock, "session_1")

	assert.Len(t, f.queue, 1)
}

func TestFollowerDisabledWithoutChannel(t *testing.T) {
	f := NewChannelFollower("", fastFollowTimings())
	f.Enqueue(&batchSocket{connected: true}, "session_1")
	assert.Len(t, f.queue, 0)
}

func TestFollowerForgetAllowsReenqueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewChannelFollower("chan@newsletter", fastFollowTimings())
	f.Start(ctx)

	sock := &batchSocket{connected: true}
	f.Enqueue(sock, "session_1")
	assert.Eventually(t, func() bool { return sock.followCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.Forget("session_1")
	f.Enqueue(sock, "session_1")
	assert.Eventually(t, func() bool { return sock.followCount() == 2 }, 2*time.Second, 10*time.Millisecond)
}

// staticTargets serves a fixed target list
type staticTargets struct{ targets []Target }

func (s staticTargets) ConnectedTargets() []Target { return s.targets }

func fastBroadcastTimings() BroadcastTimings {
	return BroadcastTimings{Interval: time.Hour, BatchSize: 2, InterBatch: time.Millisecond, PerMessage: time.Millisecond, PinDelay: time.Millisecond}
}

func writeAnnouncement(t *testing.T, text string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "announcement.txt")
	require.NoError(t, os.WriteFile(file, []byte(text), 0o644))
	return file
}

func TestBroadcastDeliversToOwnJID(t *testing.T) {
	file := writeAnnouncement(t, "maintenance tonight\n")

	s1 := &batchSocket{connected: true, ownJID: "1@s.whatsapp.net"}
	s2 := &batchSocket{connected: true, ownJID: "2@s.whatsapp.net"}
	b := NewBroadcaster(file, fastBroadcastTimings(), staticTargets{[]Target{
		{Sock: s1, SessionID: "session_1"},
		{Sock: s2, SessionID: "session_2"},
	}}, false)

	sent, failed := b.RunOnce(context.Background())
	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"maintenance tonight"}, s1.sent)
	assert.Equal(t, []string{"maintenance tonight"}, s2.sent)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Empty(t, data, "file truncated after the sweep")
}

func TestBroadcastCountsFailuresWithoutAborting(t *testing.T) {
	file := writeAnnouncement(t, "hello")

	bad := &batchSocket{connected: true, ownJID: "1@s.whatsapp.net", sendErr: assert.AnError}
	good := &batchSocket{connected: true, ownJID: "2@s.whatsapp.net"}
	b := NewBroadcaster(file, fastBroadcastTimings(), staticTargets{[]Target{
		{Sock: bad, SessionID: "session_1"},
		{Sock: good, SessionID: "session_2"},
	}}, false)

	sent, failed := b.RunOnce(context.Background())
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"hello"}, good.sent)
}

func TestBroadcastSkipsEmptyFile(t *testing.T) {
	file := writeAnnouncement(t, "   \n")

	s := &batchSocket{connected: true, ownJID: "1@s.whatsapp.net"}
	b := NewBroadcaster(file, fastBroadcastTimings(), staticTargets{[]Target{{Sock: s, SessionID: "session_1"}}}, false)

	sent, failed := b.RunOnce(context.Background())
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, failed)
	assert.Empty(t, s.sent)
}

func TestBroadcastMissingFileIsNoop(t *testing.T) {
	b := NewBroadcaster(filepath.Join(t.TempDir(), "missing.txt"), fastBroadcastTimings(), staticTargets{}, false)
	sent, failed := b.RunOnce(context.Background())
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, failed)
}

func TestBroadcastPinsAfterSend(t *testing.T) {
	file := writeAnnouncement(t, "pinned news")

	s := &batchSocket{connected: true, ownJID: "1@s.whatsapp.net"}
	b := NewBroadcaster(file, fastBroadcastTimings(), staticTargets{[]Target{{Sock: s, SessionID: "session_1"}}}, true)

	sent, _ := b.RunOnce(context.Background())
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{"1@s.whatsapp.net"}, s.pins)
}

func TestBroadcastStageThenSweep(t *testing.T) {
	file := filepath.Join(t.TempDir(), "announcement.txt")

	s := &batchSocket{connected: true, ownJID: "1@s.whatsapp.net"}
	b := NewBroadcaster(file, fastBroadcastTimings(), staticTargets{[]Target{{Sock: s, SessionID: "session_1"}}}, false)

	require.NoError(t, b.Stage("fleet restart at 22:00"))

	sent, failed := b.RunOnce(context.Background())
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"fleet restart at 22:00"}, s.sent)
}
