// Package plugin hosts the chat command plugins dispatched by the
// message ingress, plus the per-chat game session lock.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"wafleet/internal/domain/whatsapp"
)

// Invocation carries everything a plugin needs to handle one command
type Invocation struct {
	SessionID string
	UserID    string
	ChatJID   string
	SenderJID string
	IsGroup   bool
	IsAdmin   bool
	IsOwner   bool
	Command   string
	Args      []string
	Message   *whatsapp.Message
	Socket    whatsapp.Socket

	// Reply sends text back to the originating chat, quoting the
	// triggering message
	Reply func(ctx context.Context, text string) error
}

// Plugin is one chat command
type Plugin interface {
	Name() string
	Execute(ctx context.Context, inv *Invocation) error
}

// GameHandler consumes free text in a chat while its game is active.
// Returning done releases the chat's game lock.
type GameHandler func(ctx context.Context, inv *Invocation) (done bool, err error)

// Registry maps command names to plugins and tracks at most one
// active game per chat.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	antis   []AntiPlugin

	gameMu sync.Mutex
	games  map[string]GameHandler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		games:   make(map[string]GameHandler),
	}
}

// Register adds a plugin under its name and any aliases
func (r *Registry) Register(p Plugin, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins[strings.ToLower(p.Name())] = p
	for _, alias := range aliases {
		r.plugins[strings.ToLower(alias)] = p
	}
}

// Get returns the plugin registered under name
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[strings.ToLower(name)]
	return p, ok
}

// Names returns the sorted list of registered command names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.plugins))
	names := make([]string, 0, len(r.plugins))
	for name, p := range r.plugins {
		if name == strings.ToLower(p.Name()) && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Dispatch executes the plugin registered for inv.Command
func (r *Registry) Dispatch(ctx context.Context, inv *Invocation) error {
	p, ok := r.Get(inv.Command)
	if !ok {
		return fmt.Errorf("unknown command: %s", inv.Command)
	}

	log.Debug().
		Str("session_id", inv.SessionID).
		Str("command", inv.Command).
		Str("chat", inv.ChatJID).
		Msg("Dispatching command")

	return p.Execute(ctx, inv)
}

// StartGame installs a game handler for a chat. It fails when the
// chat already has an active game.
func (r *Registry) StartGame(chatJID string, handler GameHandler) bool {
	r.gameMu.Lock()
	defer r.gameMu.Unlock()

	if _, exists := r.games[chatJID]; exists {
		return false
	}
	r.games[chatJID] = handler
	return true
}

// EndGame releases the chat's game lock
func (r *Registry) EndGame(chatJID string) {
	r.gameMu.Lock()
	defer r.gameMu.Unlock()
	delete(r.games, chatJID)
}

// HandleGameText feeds non-command text to the chat's active game, if
// any. Reports whether a game consumed the text.
func (r *Registry) HandleGameText(ctx context.Context, inv *Invocation) bool {
	r.gameMu.Lock()
	handler, ok := r.games[inv.ChatJID]
	r.gameMu.Unlock()
	if !ok {
		return false
	}

	done, err := handler(ctx, inv)
	if err != nil {
		log.Warn().Err(err).
			Str("session_id", inv.SessionID).
			Str("chat", inv.ChatJID).
			Msg("Game handler failed")
	}
	if done {
		r.EndGame(inv.ChatJID)
	}
	return true
}
