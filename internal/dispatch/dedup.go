// Package dispatch demultiplexes socket event streams: one handler
// installation per socket, cross-session message deduplication,
// identity normalization and routing into the plugin registry.
package dispatch

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultDedupTTL bounds how long a processed message id is remembered
const DefaultDedupTTL = 2 * time.Minute

// Dedup is the cross-session message ownership map. The first session
// to lock a (chat, id) pair processes the message; every other session
// observes the entry and drops.
type Dedup struct {
	cache *gocache.Cache
}

// NewDedup creates the dedup map with the given entry TTL
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Dedup{cache: gocache.New(ttl, ttl)}
}

func dedupKey(chat, id string) string {
	return chat + "|" + id
}

// IsDuplicate reports whether this session already accepted the
// message
func (d *Dedup) IsDuplicate(chat, id, sessionID string) bool {
	owner, ok := d.cache.Get(dedupKey(chat, id))
	return ok && owner == sessionID
}

// TryLock atomically claims the message for this session. It fails
// when another session already owns the (chat, id) pair.
func (d *Dedup) TryLock(chat, id, sessionID string) bool {
	return d.cache.Add(dedupKey(chat, id), sessionID, gocache.DefaultExpiration) == nil
}

// Owner returns the session that holds the lock, if any
func (d *Dedup) Owner(chat, id string) (string, bool) {
	owner, ok := d.cache.Get(dedupKey(chat, id))
	if !ok {
		return "", false
	}
	return owner.(string), true
}
