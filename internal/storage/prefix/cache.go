// Package prefix caches per-user command prefixes so the message
// ingress never blocks on the database for a lookup.
package prefix

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"wafleet/internal/domain/session"
)

// DefaultPrefix is used for users with no stored settings
const DefaultPrefix = "."

// disabledValue stored in settings means "no prefix required"
const disabledValue = "none"

// Cache is a read-through, write-through prefix cache backed by the
// user settings table.
type Cache struct {
	repo  session.Repository
	cache *gocache.Cache
}

// New creates the prefix cache
func New(repo session.Repository) *Cache {
	return &Cache{
		repo:  repo,
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

// Load replaces the cache contents with the stored settings
func (c *Cache) Load(ctx context.Context) error {
	settings, err := c.repo.GetAllUserSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load user settings: %w", err)
	}

	for _, s := range settings {
		c.cache.Set(s.UserID, normalize(s.Prefix), gocache.NoExpiration)
	}

	log.Debug().Int("users", len(settings)).Msg("Prefix cache loaded")
	return nil
}

// Get returns the prefix for a user. Unknown users get the default.
// An empty return means the user disabled the prefix entirely.
func (c *Cache) Get(userID string) string {
	if v, ok := c.cache.Get(userID); ok {
		return v.(string)
	}
	return DefaultPrefix
}

// Set persists the prefix and updates the cache. Storing "none"
// disables the prefix requirement for the user.
func (c *Cache) Set(ctx context.Context, userID, value string) error {
	if err := c.repo.SaveUserSettings(ctx, &session.UserSettings{
		UserID: userID,
		Prefix: value,
	}); err != nil {
		return fmt.Errorf("failed to save prefix: %w", err)
	}

	c.cache.Set(userID, normalize(value), gocache.NoExpiration)
	return nil
}

// StartRefresh reloads the cache on a fixed interval until ctx ends,
// picking up settings written by other processes.
func (c *Cache) StartRefresh(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Load(ctx); err != nil {
					log.Warn().Err(err).Msg("Prefix cache refresh failed")
				}
			}
		}
	}()
}

func normalize(value string) string {
	if value == disabledValue {
		return ""
	}
	if value == "" {
		return DefaultPrefix
	}
	return value
}
