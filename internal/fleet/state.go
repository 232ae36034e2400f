// Package fleet is the session fleet controller: the registry and
// lifecycle owner, the disconnect router and reconnection scheduler,
// the health monitor and the web-session takeover detector.
package fleet

import (
	"sync"
)

// State holds the per-session lifecycle flag sets shared by the
// manager and its delegates. A background sweep drops flags whose
// session left the registry.
type State struct {
	mu           sync.RWMutex
	initializing map[string]bool
	voluntary    map[string]bool
	detectedWeb  map[string]bool
	sessions515  map[string]bool
	complex515   map[string]bool
}

// NewState creates empty flag sets
func NewState() *State {
	return &State{
		initializing: make(map[string]bool),
		voluntary:    make(map[string]bool),
		detectedWeb:  make(map[string]bool),
		sessions515:  make(map[string]bool),
		complex515:   make(map[string]bool),
	}
}

// TrySetInitializing atomically claims the initializing flag.
// Reports false when another creation is already in flight.
func (s *State) TrySetInitializing(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initializing[sessionID] {
		return false
	}
	s.initializing[sessionID] = true
	return true
}

// ClearInitializing releases the initializing flag
func (s *State) ClearInitializing(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.initializing, sessionID)
}

// IsInitializing reports whether a creation is in flight
func (s *State) IsInitializing(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initializing[sessionID]
}

// MarkVoluntary records a user-requested disconnect
func (s *State) MarkVoluntary(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voluntary[sessionID] = true
}

// ClearVoluntary drops the voluntary-disconnect flag
func (s *State) ClearVoluntary(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.voluntary, sessionID)
}

// IsVoluntary reports whether the session was disconnected on purpose
func (s *State) IsVoluntary(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voluntary[sessionID]
}

// MarkDetected records that the takeover detector owns this session
func (s *State) MarkDetected(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectedWeb[sessionID] = true
}

// ClearDetected drops the takeover flag, forcing a re-detect
func (s *State) ClearDetected(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.detectedWeb, sessionID)
}

// IsDetected reports whether the detector already claimed the session
func (s *State) IsDetected(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detectedWeb[sessionID]
}

// Mark515 tags a session as disconnected by a post-pairing restart
// code
func (s *State) Mark515(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions515[sessionID] = true
}

// Clear515 drops the restart tag
func (s *State) Clear515(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions515, sessionID)
	delete(s.complex515, sessionID)
}

// Is515 reports whether the session is in the post-pairing restart
// window
func (s *State) Is515(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions515[sessionID]
}

// MarkComplex515 additionally tags the session for the complex
// restart path
func (s *State) MarkComplex515(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complex515[sessionID] = true
}

// IsComplex515 reports whether the complex restart path applies
func (s *State) IsComplex515(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complex515[sessionID]
}

// Sweep drops flags belonging to sessions that are no longer active.
// The voluntary and detected sets survive because they outlive the
// socket on purpose.
func (s *State) Sweep(isActive func(sessionID string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, set := range []map[string]bool{s.initializing, s.sessions515, s.complex515} {
		for id := range set {
			if !isActive(id) {
				delete(set, id)
				removed++
			}
		}
	}
	return removed
}
