// Package handlers implements the admin HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"wafleet/internal/domain/session"
	"wafleet/internal/fleet"
)

// pairingState holds the latest pairing artifacts for a session while
// pairing is in flight
type pairingState struct {
	mu        sync.Mutex
	qrCodes   map[string]string
	pairCodes map[string]string
}

func newPairingState() *pairingState {
	return &pairingState{
		qrCodes:   make(map[string]string),
		pairCodes: make(map[string]string),
	}
}

func (p *pairingState) setQR(sessionID, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qrCodes[sessionID] = code
}

func (p *pairingState) setPairCode(sessionID, code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairCodes[sessionID] = code
}

func (p *pairingState) qr(sessionID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	code, ok := p.qrCodes[sessionID]
	return code, ok
}

func (p *pairingState) pairCode(sessionID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	code, ok := p.pairCodes[sessionID]
	return code, ok
}

func (p *pairingState) clear(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.qrCodes, sessionID)
	delete(p.pairCodes, sessionID)
}

// SessionHandler handles HTTP requests for session operations
type SessionHandler struct {
	manager  *fleet.Manager
	repo     session.Repository
	detector *fleet.WebDetector
	health   *fleet.HealthMonitor
	validate *validator.Validate
	pairing  *pairingState
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager *fleet.Manager, repo session.Repository, detector *fleet.WebDetector, health *fleet.HealthMonitor) *SessionHandler {
	return &SessionHandler{
		manager:  manager,
		repo:     repo,
		detector: detector,
		health:   health,
		validate: validator.New(),
		pairing:  newPairingState(),
	}
}

// CreateSessionRequest is the body for POST /sessions/add
type CreateSessionRequest struct {
	UserID      string `json:"user_id" validate:"required,numeric"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,min=8,max=20"`
	Source      string `json:"source" validate:"omitempty,oneof=telegram web"`
}

// CreateSession handles POST /sessions/add
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error().Err(err).Msg("Failed to decode create session request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	source := session.Source(req.Source)
	if source == "" {
		source = session.SourceForUserID(req.UserID)
	}

	sessionID := session.IDFor(req.UserID)
	h.pairing.clear(sessionID)

	_, err := h.manager.Create(r.Context(), fleet.CreateOptions{
		UserID:       req.UserID,
		PhoneNumber:  req.PhoneNumber,
		Source:       source,
		AllowPairing: true,
		OnQR: func(code string) {
			h.pairing.setQR(sessionID, code)
		},
		OnPairCode: func(code string) {
			h.pairing.setPairCode(sessionID, code)
		},
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to create session")
		writeFleetError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": sessionID,
		"user_id":    req.UserID,
		"source":     string(source),
		"status":     string(session.StatusConnecting),
	})
}

// ListSessions handles GET /sessions/list
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.manager.GetAllSessions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sessions")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, map[string]any{
			"session_id":   s.SessionID,
			"user_id":      s.UserID,
			"source":       string(s.Source),
			"status":       string(s.Status),
			"is_connected": s.IsConnected,
			"in_registry":  h.manager.IsSessionConnected(s.SessionID),
			"created_at":   s.CreatedAt,
			"updated_at":   s.UpdatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sessions": response,
		"total":    len(response),
	})
}

// GetSessionInfo handles GET /sessions/{sessionID}/info
func (h *SessionHandler) GetSessionInfo(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	info, err := h.manager.GetSessionInfo(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to get session info")
		writeFleetError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// GetQR handles GET /sessions/{sessionID}/qr. It returns the pending
// pairing artifacts, as PNG when format=png is requested.
func (h *SessionHandler) GetQR(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if code, ok := h.pairing.pairCode(sessionID); ok {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"session_id": sessionID,
			"pair_code":  code,
		})
		return
	}

	code, ok := h.pairing.qr(sessionID)
	if !ok {
		http.Error(w, "No pairing in progress", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "png" {
		png, err := qrcode.Encode(code, qrcode.Medium, 256)
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to render QR code")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": sessionID,
		"qr_code":    code,
	})
}

// ConnectSession handles POST /sessions/{sessionID}/connect. It brings
// an already paired session back into the registry.
func (h *SessionHandler) ConnectSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	row, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to load session for connect")
		writeFleetError(w, err)
		return
	}

	if h.manager.IsSessionConnected(sessionID) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"session_id": sessionID,
			"status":     string(session.StatusConnected),
			"message":    "Session is already connected",
		})
		return
	}

	_, err = h.manager.Create(r.Context(), fleet.CreateOptions{
		UserID:      row.UserID,
		PhoneNumber: row.PhoneNumber,
		Source:      row.Source,
		IsReconnect: true,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to connect session")
		writeFleetError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": sessionID,
		"status":     string(session.StatusConnected),
		"message":    "Session connection initiated",
	})
}

// DisconnectSession handles POST /sessions/{sessionID}/disconnect
func (h *SessionHandler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	log.Info().
		Str("session_id", sessionID).
		Str("remote_addr", r.RemoteAddr).
		Msg("Session disconnect requested")

	if err := h.manager.Disconnect(r.Context(), sessionID, false); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to disconnect session")
		writeFleetError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": sessionID,
		"status":     string(session.StatusDisconnected),
		"message":    "Session disconnected",
	})
}

// CleanupSession handles POST /sessions/{sessionID}/cleanup. Unlike
// disconnect it erases credentials and archived messages.
func (h *SessionHandler) CleanupSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	log.Info().
		Str("session_id", sessionID).
		Str("remote_addr", r.RemoteAddr).
		Msg("Session cleanup requested")

	if err := h.manager.Disconnect(r.Context(), sessionID, true); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to clean up session")
		writeFleetError(w, err)
		return
	}
	h.pairing.clear(sessionID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": sessionID,
		"message":    "Session cleaned up",
	})
}

// TakeoverSession handles POST /sessions/{sessionID}/takeover. It
// forces the web detector to adopt the session immediately.
func (h *SessionHandler) TakeoverSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.detector.ForceTakeover(r.Context(), sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to take over session")
		writeFleetError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": sessionID,
		"message":    "Session takeover initiated",
	})
}

// ReinitializeSession handles POST /sessions/{sessionID}/reinitialize
func (h *SessionHandler) ReinitializeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.health.Reinitialize(r.Context(), sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to reinitialize session")
		writeFleetError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": sessionID,
		"message":    "Session reinitialized",
	})
}

// writeFleetError maps domain errors onto HTTP status codes
func writeFleetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrMaxSessionsReached):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrAlreadyInitializing):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrStorageUnavailable):
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
