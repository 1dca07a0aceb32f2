package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles websocket upgrade requests for room connections.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleRoomConnection serves /ws/room?room=ABCD&player=<id>.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("room")
	playerID := r.URL.Query().Get("player")

	code, err := h.connectionManager.Admit(r.Context(), code, playerID)
	if err != nil {
		http.Error(w, err.Error(), httpStatus(err))
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, code, playerID); err != nil {
		// the upgrader has already replied to the client
		log.Error().
			Err(err).
			Str("room_code", code).
			Str("player_id", playerID).
			Msg("failed to upgrade websocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
