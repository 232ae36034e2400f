package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/domain/whatsapp"
	"wafleet/internal/plugin"
	"wafleet/internal/storage/prefix"
	"wafleet/internal/wajid"
)

// placeholderResendDelay is how long to wait before requesting a
// resend for an undecryptable message
const placeholderResendDelay = 2 * time.Second

// Recorder archives processed messages
type Recorder interface {
	RecordMessage(ctx context.Context, sessionID string, m *whatsapp.Message) error
}

// ActivitySink receives liveness signals from the event stream
type ActivitySink interface {
	RecordActivity(sessionID string)
}

// Processor runs the per-message ingress pipeline for one fleet
type Processor struct {
	dedup    *Dedup
	prefixes *prefix.Cache
	registry *plugin.Registry
	groups   *GroupMetaCache
	recorder Recorder
	activity ActivitySink
	tsOffset time.Duration
}

// NewProcessor wires the ingress pipeline
func NewProcessor(dedup *Dedup, prefixes *prefix.Cache, registry *plugin.Registry, groups *GroupMetaCache, recorder Recorder, activity ActivitySink, tsOffset time.Duration) *Processor {
	return &Processor{
		dedup:    dedup,
		prefixes: prefixes,
		registry: registry,
		groups:   groups,
		recorder: recorder,
		activity: activity,
		tsOffset: tsOffset,
	}
}

// ProcessUpsert handles one messages batch from a socket. Messages
// within the batch are processed sequentially to preserve per-chat
// order; batches from different sockets run concurrently.
func (p *Processor) ProcessUpsert(ctx context.Context, sock whatsapp.Socket, sessionID, userID string, ev *whatsapp.MessagesUpsert) {
	if p.activity != nil {
		p.activity.RecordActivity(sessionID)
	}

	for _, m := range ev.Messages {
		p.processOne(ctx, sock, sessionID, userID, m)
	}
}

func (p *Processor) processOne(ctx context.Context, sock whatsapp.Socket, sessionID, userID string, m *whatsapp.Message) {
	// the broadcast server (status and broadcast lists) never feeds
	// dedup, archive or command routing
	if m == nil || m.IsBroadcast() {
		return
	}

	// Undecryptable stub: ask for a placeholder resend later, this is
	// not a failure.
	if !m.HasContent() && m.StubType == whatsapp.MessageStubCiphertext {
		key := m.Key
		time.AfterFunc(placeholderResendDelay, func() {
			if err := sock.RequestPlaceholderResend(context.Background(), key); err != nil {
				log.Debug().Err(err).
					Str("session_id", sessionID).
					Str("message_id", key.ID).
					Msg("Placeholder resend request failed")
			}
		})
		return
	}

	chat := m.Key.RemoteJID
	if p.dedup.IsDuplicate(chat, m.Key.ID, sessionID) {
		return
	}
	if !p.dedup.TryLock(chat, m.Key.ID, sessionID) {
		log.Trace().
			Str("session_id", sessionID).
			Str("message_id", m.Key.ID).
			Msg("Message owned by another session, dropping")
		return
	}

	wajid.NormalizeMessage(m)
	wajid.ResolveMessageLIDs(ctx, sock, m)

	// the offset only fills in for a missing wire timestamp
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().Add(p.tsOffset)
	}

	sender := p.resolveSender(ctx, sock, m)
	isGroup := wajid.IsGroup(m.Key.RemoteJID)

	inv := &plugin.Invocation{
		SessionID: sessionID,
		UserID:    userID,
		ChatJID:   m.Key.RemoteJID,
		SenderJID: sender,
		IsGroup:   isGroup,
		Message:   m,
		Socket:    sock,
		Reply: func(ctx context.Context, text string) error {
			return sock.SendMessage(ctx, m.Key.RemoteJID, whatsapp.Content{Text: text, Quoted: m})
		},
	}

	if isGroup {
		inv.IsAdmin = p.groups.IsAdmin(ctx, sock, m.Key.RemoteJID, sender)
		if info, err := p.groups.Get(ctx, sock, m.Key.RemoteJID); err == nil && info != nil {
			inv.IsOwner = wajid.Equal(info.OwnerJID, sender)
		}
	} else {
		inv.IsAdmin = true
		inv.IsOwner = wajid.Equal(sender, sock.OwnJID())
	}

	p.record(sessionID, m)

	if p.registry.RunAntis(ctx, inv) {
		return
	}

	body := m.Body
	if m.Interactive != nil && m.Interactive.SelectedID != "" {
		body = m.Interactive.SelectedID
	}
	if body == "" {
		return
	}

	pfx := p.prefixes.Get(userID)
	if pfx != "" && !strings.HasPrefix(body, pfx) {
		p.registry.HandleGameText(ctx, inv)
		return
	}

	fields := strings.Fields(strings.TrimPrefix(body, pfx))
	if len(fields) == 0 {
		return
	}
	inv.Command = strings.ToLower(fields[0])
	inv.Args = fields[1:]

	if _, known := p.registry.Get(inv.Command); !known {
		p.registry.HandleGameText(ctx, inv)
		return
	}

	go func() {
		if err := p.registry.Dispatch(ctx, inv); err != nil {
			log.Warn().Err(err).
				Str("session_id", sessionID).
				Str("command", inv.Command).
				Msg("Command execution failed")
		}
	}()
}

// resolveSender picks the author JID: group messages carry it in the
// participant, private self-sent messages in the self-author field,
// everything else in the chat JID.
func (p *Processor) resolveSender(ctx context.Context, sock whatsapp.Socket, m *whatsapp.Message) string {
	var sender string
	switch {
	case wajid.IsGroup(m.Key.RemoteJID):
		sender = m.Key.Participant
	case m.Key.FromMe:
		sender = m.SelfAuthor
		if sender == "" {
			sender = sock.OwnJID()
		}
	default:
		sender = m.Key.RemoteJID
	}

	if wajid.IsLID(sender) {
		sender = wajid.ResolveLIDToJID(ctx, sock, m.Key.RemoteJID, sender)
	}
	return wajid.Normalize(sender)
}

// record persists the message and logs it without blocking the
// dispatcher
func (p *Processor) record(sessionID string, m *whatsapp.Message) {
	log.Debug().
		Str("session_id", sessionID).
		Str("chat", m.Key.RemoteJID).
		Str("message_id", m.Key.ID).
		Bool("from_me", m.Key.FromMe).
		Msg("Message accepted")

	if p.recorder == nil {
		return
	}
	msg := m
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.recorder.RecordMessage(ctx, sessionID, msg); err != nil {
			log.Warn().Err(err).
				Str("session_id", sessionID).
				Str("message_id", msg.Key.ID).
				Msg("Failed to archive message")
		}
	}()
}
