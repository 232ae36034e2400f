package batch

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/domain/whatsapp"
)

// BroadcastTimings spaces out the announcement sweep
type BroadcastTimings struct {
	Interval   time.Duration
	BatchSize  int
	InterBatch time.Duration
	PerMessage time.Duration
	PinDelay   time.Duration
}

// DefaultBroadcastTimings returns the production spacing
func DefaultBroadcastTimings() BroadcastTimings {
	return BroadcastTimings{
		Interval:   5 * time.Minute,
		BatchSize:  10,
		InterBatch: 5 * time.Second,
		PerMessage: 2 * time.Second,
		PinDelay:   1 * time.Second,
	}
}

// Target is one connected session the broadcaster can reach
type Target struct {
	Sock      whatsapp.Socket
	SessionID string
}

// TargetProvider lists the sessions currently able to receive a
// broadcast
type TargetProvider interface {
	ConnectedTargets() []Target
}

// Broadcaster periodically delivers the announcement file to every
// connected session's own chat.
type Broadcaster struct {
	file     string
	timings  BroadcastTimings
	targets  TargetProvider
	pinChats bool
}

// NewBroadcaster creates the announcement broadcaster
func NewBroadcaster(file string, timings BroadcastTimings, targets TargetProvider, pinChats bool) *Broadcaster {
	if timings.BatchSize <= 0 {
		timings.BatchSize = 10
	}
	return &Broadcaster{
		file:     file,
		timings:  timings,
		targets:  targets,
		pinChats: pinChats,
	}
}

// Stage writes the announcement text; the next sweep delivers it
func (b *Broadcaster) Stage(text string) error {
	if err := os.WriteFile(b.file, []byte(text), 0o600); err != nil {
		return err
	}
	log.Info().Str("file", b.file).Int("length", len(text)).Msg("Announcement staged")
	return nil
}

// Start runs the periodic sweep until ctx ends
func (b *Broadcaster) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.timings.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce performs a single announcement sweep. Individual send
// failures are counted but do not abort the sweep; the file is
// truncated once the sweep completes.
func (b *Broadcaster) RunOnce(ctx context.Context) (sent, failed int) {
	data, err := os.ReadFile(b.file)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", b.file).Msg("Failed to read announcement file")
		}
		return 0, 0
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return 0, 0
	}

	targets := b.targets.ConnectedTargets()
	log.Info().
		Int("targets", len(targets)).
		Msg("Broadcasting announcement")

	for i, t := range targets {
		if i > 0 {
			if i%b.timings.BatchSize == 0 {
				if !sleepCtx(ctx, b.timings.InterBatch) {
					return sent, failed
				}
			} else if !sleepCtx(ctx, b.timings.PerMessage) {
				return sent, failed
			}
		}

		if err := b.deliver(ctx, t, text); err != nil {
			failed++
			log.Warn().Err(err).
				Str("session_id", t.SessionID).
				Msg("Announcement delivery failed")
			continue
		}
		sent++
	}

	if err := os.Truncate(b.file, 0); err != nil {
		log.Warn().Err(err).Str("file", b.file).Msg("Failed to truncate announcement file")
	}

	log.Info().
		Int("sent", sent).
		Int("failed", failed).
		Msg("Announcement sweep completed")
	return sent, failed
}

func (b *Broadcaster) deliver(ctx context.Context, t Target, text string) error {
	own := t.Sock.OwnJID()
	if err := t.Sock.SendMessage(ctx, own, whatsapp.Content{Text: text}); err != nil {
		return err
	}

	if b.pinChats {
		sleepCtx(ctx, b.timings.PinDelay)
		if err := t.Sock.ChatPin(ctx, own, true); err != nil {
			log.Debug().Err(err).
				Str("session_id", t.SessionID).
				Msg("Chat pin after announcement failed")
		}
	}
	return nil
}
