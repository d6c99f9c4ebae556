package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/studyboard/backend/internal/db"
	"github.com/studyboard/backend/internal/presence"
	"github.com/studyboard/backend/internal/ws"
)

type API struct {
	hub      *ws.Hub
	registry *presence.Registry
	database *db.Database
}

func New(hub *ws.Hub, registry *presence.Registry, database *db.Database) *API {
	return &API{
		hub:      hub,
		registry: registry,
		database: database,
	}
}

// Router mounts the REST surface. Authentication is handled by the
// surrounding platform's middleware, not here.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.StatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/canvas", a.GetCanvasHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/canvas", a.SaveCanvasHandler).Methods(http.MethodPost, http.MethodPut)
	return r
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	// Hub counts are connections, registry counts are membership records;
	// they diverge only if presence cleanup has leaked.
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"presence_rooms": a.registry.RoomCount(),
		"participants":   a.registry.ParticipantCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			for k, v := range dbStats {
				stats[k] = v
			}
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Canvas handlers

type CanvasStateResponse struct {
	CanvasData json.RawMessage `json:"canvasData"`
	Version    int64           `json:"version"`
}

type SaveCanvasRequest struct {
	CanvasData json.RawMessage `json:"canvasData"`
	ModifiedBy string          `json:"modifiedBy"`
}

type SaveCanvasResponse struct {
	Version int64 `json:"version"`
}

// GetCanvasHandler returns the stored snapshot for a session. A session
// that has never been saved is not an error: it yields a null scene at
// version 0 so clients can start from a blank surface.
func (a *API) GetCanvasHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		errorResponse(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	snap, err := a.database.LoadCanvas(sessionID)
	if err != nil {
		log.Printf("Failed to load canvas for session %s: %v", sessionID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to load canvas state")
		return
	}

	if snap == nil {
		jsonResponse(w, http.StatusOK, CanvasStateResponse{CanvasData: nil, Version: 0})
		return
	}

	jsonResponse(w, http.StatusOK, CanvasStateResponse{
		CanvasData: snap.SceneData,
		Version:    snap.Version,
	})
}

// SaveCanvasHandler upserts the session's snapshot. Concurrent saves are not
// merged; the one that commits last wins.
func (a *API) SaveCanvasHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		errorResponse(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	var req SaveCanvasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.CanvasData) == 0 {
		errorResponse(w, http.StatusBadRequest, "canvasData is required")
		return
	}

	version, err := a.database.SaveCanvas(sessionID, req.CanvasData, req.ModifiedBy)
	if err != nil {
		log.Printf("Failed to save canvas for session %s: %v", sessionID, err)
		errorResponse(w, http.StatusInternalServerError, "Failed to save canvas state")
		return
	}

	jsonResponse(w, http.StatusOK, SaveCanvasResponse{Version: version})
}
