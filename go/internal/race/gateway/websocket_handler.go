package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/practicetree/go/internal/race/registry"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler serves the racer endpoints of a host
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	hostName          string
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, hostName string) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		hostName:          hostName,
	}
}

// HandleRaceConnection admits a racer over a websocket
func (h *WebSocketHandler) HandleRaceConnection(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "anonymous"
	}

	if err := h.connectionManager.UpgradeConnection(w, r, name); err != nil {
		// the upgrader already wrote an HTTP error
		log.Error().Err(err).Str("name", name).Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.connectionManager.GetConnectionStats())
}

// HandleInfo advertises the race service so racers can check what they are joining
func (h *WebSocketHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	snap, err := h.connectionManager.coord.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "race unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, Advertisement{
		Service:   registry.ServiceUUID,
		Name:      h.hostName,
		Clients:   snap.Clients,
		Connected: snap.Connected,
		Accepting: snap.Connected < snap.Clients,
		Phase:     snap.PhaseName,
	})
}

// HandleState returns the coordinator snapshot
func (h *WebSocketHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.connectionManager.coord.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "race unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap)
}

// RegisterRoutes registers the racer routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/race", h.HandleRaceConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
	mux.HandleFunc("/info", h.HandleInfo)
	mux.HandleFunc("/state", h.HandleState)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}
