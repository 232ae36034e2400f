package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/domain/whatsapp"
	"wafleet/internal/storage/authstore"
)

// ConnectionHandler receives connection.update events; the fleet's
// reconnection scheduler owns close handling.
type ConnectionHandler func(sessionID string, ev *whatsapp.ConnectionUpdate)

// OpenHandler fires after a socket reaches the open state
type OpenHandler func(sock whatsapp.Socket, sessionID string)

// Dispatcher installs the single event handler per socket and fans
// events out to the message processor, the auth store and the fleet.
type Dispatcher struct {
	processor *Processor
	auth      authstore.Store
	groups    *GroupMetaCache
	activity  ActivitySink
	onConn    ConnectionHandler
	onOpen    OpenHandler
}

// NewDispatcher wires the event fan-out
func NewDispatcher(processor *Processor, auth authstore.Store, groups *GroupMetaCache, activity ActivitySink) *Dispatcher {
	return &Dispatcher{
		processor: processor,
		auth:      auth,
		groups:    groups,
		activity:  activity,
	}
}

// OnConnection registers the connection.update delegate
func (d *Dispatcher) OnConnection(h ConnectionHandler) { d.onConn = h }

// OnOpen registers the post-open hook (feeds the batch operator)
func (d *Dispatcher) OnOpen(h OpenHandler) { d.onOpen = h }

// Install attaches the event handler to a socket exactly once.
// Reports whether the handler was installed by this call.
func (d *Dispatcher) Install(sock whatsapp.Socket, sessionID, userID string) bool {
	installed := sock.InstallHandler(func(ev whatsapp.Event) {
		d.handle(sock, sessionID, userID, ev)
	})
	if !installed {
		log.Debug().Str("session_id", sessionID).Msg("Event handler already installed")
	}
	return installed
}

func (d *Dispatcher) handle(sock whatsapp.Socket, sessionID, userID string, ev whatsapp.Event) {
	switch e := ev.(type) {
	case *whatsapp.ConnectionUpdate:
		if e.Connection == whatsapp.ConnOpen && d.onOpen != nil {
			d.onOpen(sock, sessionID)
		}
		if d.onConn != nil {
			d.onConn(sessionID, e)
		}

	case *whatsapp.CredsUpdate:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.auth.Put(ctx, sessionID, e.Filename, e.Data); err != nil {
				log.Error().Err(err).
					Str("session_id", sessionID).
					Str("file", e.Filename).
					Msg("Failed to persist credential update")
			}
		}()

	case *whatsapp.MessagesUpsert:
		// Handlers run on the socket's event goroutine, so processing
		// inline keeps arrival order within a chat. Slow work (command
		// execution, archiving) is offloaded inside the pipeline.
		d.processor.ProcessUpsert(context.Background(), sock, sessionID, userID, e)

	case *whatsapp.MessageUpdate:
		// Pure delivery-status and empty-edit updates carry nothing
		// worth routing.
		if e.StatusOnly || e.EditedText == "" {
			return
		}
		d.recordActivity(sessionID)

	case *whatsapp.MessagesDelete:
		d.recordActivity(sessionID)

	case *whatsapp.MessageReaction:
		d.recordActivity(sessionID)

	case *whatsapp.GroupsUpsert:
		for _, jid := range e.JIDs {
			d.groups.Invalidate(jid)
		}

	case *whatsapp.GroupUpdate:
		d.groups.Invalidate(e.JID)

	case *whatsapp.GroupParticipantsUpdate:
		d.groups.Invalidate(e.GroupJID)

	case *whatsapp.PresenceUpdate:
		d.recordActivity(sessionID)

	case *whatsapp.ContactsUpdate, *whatsapp.ChatsUpdate:
		d.recordActivity(sessionID)

	case *whatsapp.CallEvent:
		log.Debug().
			Str("session_id", sessionID).
			Str("from", e.From).
			Str("action", e.Action).
			Msg("Call event")

	case *whatsapp.BlocklistUpdate:
		log.Debug().
			Str("session_id", sessionID).
			Str("action", e.Action).
			Int("count", len(e.JIDs)).
			Msg("Blocklist update")
	}
}

func (d *Dispatcher) recordActivity(sessionID string) {
	if d.activity != nil {
		d.activity.RecordActivity(sessionID)
	}
}
