// Package batch runs the slow-path bulk jobs that ride on session
// lifecycle: channel auto-follow after connect and the periodic
// announcement broadcast.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/domain/whatsapp"
)

// FollowTimings spaces out the follow worker so 150+ sessions joining
// a channel do not look like a flood.
type FollowTimings struct {
	BatchSize  int
	InterBatch time.Duration
	PerFollow  time.Duration
	SubStep    time.Duration
}

// DefaultFollowTimings returns the production spacing
func DefaultFollowTimings() FollowTimings {
	return FollowTimings{
		BatchSize:  10,
		InterBatch: 7 * time.Second,
		PerFollow:  3 * time.Second,
		SubStep:    1 * time.Second,
	}
}

type followJob struct {
	sock      whatsapp.Socket
	sessionID string
}

// ChannelFollower subscribes every connected session to the fleet's
// announcement channel. A single worker drains the queue in batches.
type ChannelFollower struct {
	channelJID string
	timings    FollowTimings

	mu       sync.Mutex
	queued   map[string]bool
	followed map[string]bool
	queue    chan followJob
}

// NewChannelFollower creates the follower for one channel JID
func NewChannelFollower(channelJID string, timings FollowTimings) *ChannelFollower {
	if timings.BatchSize <= 0 {
		timings.BatchSize = 10
	}
	return &ChannelFollower{
		channelJID: channelJID,
		timings:    timings,
		queued:     make(map[string]bool),
		followed:   make(map[string]bool),
		queue:      make(chan followJob, 512),
	}
}

// Enqueue schedules a session for channel follow. Sessions already
// queued or already followed are skipped.
func (f *ChannelFollower) Enqueue(sock whatsapp.Socket, sessionID string) {
	if f.channelJID == "" {
		return
	}

	f.mu.Lock()
	if f.queued[sessionID] || f.followed[sessionID] {
		f.mu.Unlock()
		return
	}
	f.queued[sessionID] = true
	f.mu.Unlock()

	select {
	case f.queue <- followJob{sock: sock, sessionID: sessionID}:
	default:
		f.mu.Lock()
		delete(f.queued, sessionID)
		f.mu.Unlock()
		log.Warn().Str("session_id", sessionID).Msg("Channel follow queue full, dropping")
	}
}

// Forget clears the session's follow state so a future reconnect
// re-enqueues it
func (f *ChannelFollower) Forget(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.queued, sessionID)
	delete(f.followed, sessionID)
}

// Start runs the single drain worker until ctx ends
func (f *ChannelFollower) Start(ctx context.Context) {
	if f.channelJID == "" {
		return
	}
	go f.run(ctx)
}

func (f *ChannelFollower) run(ctx context.Context) {
	for {
		batch := f.collectBatch(ctx)
		if batch == nil {
			return
		}

		for i, job := range batch {
			if i > 0 {
				if !sleepCtx(ctx, f.timings.PerFollow) {
					return
				}
			}
			f.followOne(ctx, job)
		}

		if !sleepCtx(ctx, f.timings.InterBatch) {
			return
		}
	}
}

// collectBatch blocks for the first job, then grabs whatever else is
// already queued up to the batch size
func (f *ChannelFollower) collectBatch(ctx context.Context) []followJob {
	var batch []followJob

	select {
	case <-ctx.Done():
		return nil
	case job := <-f.queue:
		batch = append(batch, job)
	}

	for len(batch) < f.timings.BatchSize {
		select {
		case job := <-f.queue:
			batch = append(batch, job)
		default:
			return batch
		}
	}
	return batch
}

func (f *ChannelFollower) followOne(ctx context.Context, job followJob) {
	defer func() {
		f.mu.Lock()
		delete(f.queued, job.sessionID)
		f.mu.Unlock()
	}()

	if !job.sock.Connected() {
		return
	}

	// viewerMeta role present means the session already follows
	if info, err := job.sock.NewsletterMetadata(ctx, f.channelJID); err == nil && info != nil && info.ViewerRole != "" {
		f.markFollowed(job.sessionID)
		return
	}

	if err := job.sock.NewsletterFollow(ctx, f.channelJID); err != nil {
		log.Warn().Err(err).
			Str("session_id", job.sessionID).
			Str("channel", f.channelJID).
			Msg("Channel follow failed")
		return
	}
	if !sleepCtx(ctx, f.timings.SubStep) {
		return
	}

	if err := job.sock.SubscribeNewsletterUpdates(ctx, f.channelJID); err != nil {
		log.Debug().Err(err).
			Str("session_id", job.sessionID).
			Msg("Newsletter live-update subscription failed")
	}
	if !sleepCtx(ctx, f.timings.SubStep) {
		return
	}

	if err := job.sock.NewsletterUnmute(ctx, f.channelJID); err != nil {
		log.Debug().Err(err).
			Str("session_id", job.sessionID).
			Msg("Newsletter unmute failed")
	}

	f.markFollowed(job.sessionID)
	log.Info().
		Str("session_id", job.sessionID).
		Str("channel", f.channelJID).
		Msg("Session now follows the channel")
}

func (f *ChannelFollower) markFollowed(sessionID string) {
	f.mu.Lock()
	f.followed[sessionID] = true
	f.mu.Unlock()
}

// sleepCtx sleeps unless the context ends first, reporting whether
// the full duration elapsed
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
