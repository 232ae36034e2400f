package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"wafleet/internal/batch"
	"wafleet/internal/fleet"
	"wafleet/internal/storage"
)

// FleetHandler exposes fleet-wide operations and health probes
type FleetHandler struct {
	manager     *fleet.Manager
	db          *storage.Database
	broadcaster *batch.Broadcaster
	instanceID  string
	version     string
	startTime   time.Time
}

// NewFleetHandler creates the fleet handler
func NewFleetHandler(manager *fleet.Manager, db *storage.Database, broadcaster *batch.Broadcaster, instanceID, version string) *FleetHandler {
	return &FleetHandler{
		manager:     manager,
		db:          db,
		broadcaster: broadcaster,
		instanceID:  instanceID,
		version:     version,
		startTime:   time.Now(),
	}
}

// Health handles GET /health
func (h *FleetHandler) Health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	status := "ok"
	httpStatus := http.StatusOK
	if err := h.db.Health(r.Context()); err != nil {
		log.Error().Err(err).Msg("Database health check failed")
		dbStatus = err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"service":     "wafleet",
		"version":     h.version,
		"instance_id": h.instanceID,
		"database":    dbStatus,
		"uptime":      time.Since(h.startTime).String(),
		"timestamp":   time.Now(),
	})
}

// Status handles GET /fleet/status
func (h *FleetHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.manager.FleetStatus()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total":        st.Total,
		"connected":    st.Connected,
		"reconnecting": st.Reconnecting,
		"failed":       st.Failed,
		"active_ids":   h.manager.ActiveSessionIDs(),
	})
}

// BroadcastRequest is the body for POST /broadcast
type BroadcastRequest struct {
	Text string `json:"text"`
	Now  bool   `json:"now"`
}

// Broadcast handles POST /broadcast. New text is staged in the
// announcement file; with "now" set the sweep runs immediately
// instead of waiting for the timer.
func (h *FleetHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if req.Text != "" {
		if err := h.broadcaster.Stage(req.Text); err != nil {
			log.Error().Err(err).Msg("Failed to stage announcement")
			http.Error(w, "Failed to stage announcement", http.StatusInternalServerError)
			return
		}
	}

	response := map[string]any{"staged": req.Text != ""}
	if req.Now || req.Text == "" {
		log.Info().Str("remote_addr", r.RemoteAddr).Msg("Manual broadcast sweep requested")
		sent, failed := h.broadcaster.RunOnce(r.Context())
		response["sent"] = sent
		response["failed"] = failed
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
