package plugin

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// AntiPlugin inspects every message before command routing. A
// consumed message stops further processing.
type AntiPlugin interface {
	Name() string
	Handle(ctx context.Context, inv *Invocation) (consumed bool, err error)
}

// RegisterAnti appends an anti-plugin to the inspection chain
func (r *Registry) RegisterAnti(p AntiPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.antis = append(r.antis, p)
}

// RunAntis feeds the message through the anti-plugin chain, stopping
// at the first consumer
func (r *Registry) RunAntis(ctx context.Context, inv *Invocation) bool {
	r.mu.RLock()
	antis := r.antis
	r.mu.RUnlock()

	for _, p := range antis {
		consumed, err := p.Handle(ctx, inv)
		if err != nil {
			log.Warn().Err(err).
				Str("session_id", inv.SessionID).
				Str("anti", p.Name()).
				Msg("Anti-plugin failed")
			continue
		}
		if consumed {
			return true
		}
	}
	return false
}

// AntiDeletePlugin announces revoked messages back to the chat
type AntiDeletePlugin struct{}

// Name implements AntiPlugin
func (AntiDeletePlugin) Name() string { return "antidelete" }

// Handle implements AntiPlugin
func (AntiDeletePlugin) Handle(ctx context.Context, inv *Invocation) (bool, error) {
	if inv.Message == nil || !inv.Message.Revoked {
		return false, nil
	}
	return true, inv.Reply(ctx, fmt.Sprintf("🗑 A message from %s was deleted.", inv.SenderJID))
}

// AntiViewOncePlugin reposts view-once content into the chat
type AntiViewOncePlugin struct{}

// Name implements AntiPlugin
func (AntiViewOncePlugin) Name() string { return "antiviewonce" }

// Handle implements AntiPlugin
func (AntiViewOncePlugin) Handle(ctx context.Context, inv *Invocation) (bool, error) {
	if inv.Message == nil || !inv.Message.ViewOnce {
		return false, nil
	}
	if inv.Message.Body == "" {
		return false, nil
	}
	return true, inv.Reply(ctx, "👁 View-once caption: "+inv.Message.Body)
}
