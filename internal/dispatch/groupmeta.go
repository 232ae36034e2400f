package dispatch

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"wafleet/internal/domain/whatsapp"
	"wafleet/internal/wajid"
)

// GroupMetaCache caches group metadata so admin checks and LID
// resolution do not hammer the socket on every group message.
type GroupMetaCache struct {
	cache *gocache.Cache
}

// NewGroupMetaCache creates the cache with a 5 minute entry TTL
func NewGroupMetaCache() *GroupMetaCache {
	return &GroupMetaCache{cache: gocache.New(5*time.Minute, 10*time.Minute)}
}

// Get returns the group metadata, fetching through the socket on miss
func (g *GroupMetaCache) Get(ctx context.Context, sock whatsapp.Socket, groupJID string) (*whatsapp.GroupInfo, error) {
	if v, ok := g.cache.Get(groupJID); ok {
		return v.(*whatsapp.GroupInfo), nil
	}

	info, err := sock.GroupMetadata(ctx, groupJID)
	if err != nil {
		return nil, err
	}
	g.cache.Set(groupJID, info, gocache.DefaultExpiration)
	return info, nil
}

// Invalidate drops a group's cached metadata, called on group updates
func (g *GroupMetaCache) Invalidate(groupJID string) {
	g.cache.Delete(groupJID)
}

// IsAdmin reports whether the participant holds admin rights in the
// group. Lookup failures report false.
func (g *GroupMetaCache) IsAdmin(ctx context.Context, sock whatsapp.Socket, groupJID, participantJID string) bool {
	info, err := g.Get(ctx, sock, groupJID)
	if err != nil || info == nil {
		return false
	}
	for _, p := range info.Participants {
		if wajid.Equal(p.JID, participantJID) {
			return p.IsAdmin || p.IsSuperAdmin
		}
	}
	return false
}
