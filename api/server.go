package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wricardo/turnbased-match-server/game/engine"
	"github.com/wricardo/turnbased-match-server/game/service"
	"github.com/wricardo/turnbased-match-server/transport/websocket"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// Server represents the REST API server
type Server struct {
	service service.GameService
	hub     *websocket.Hub
	router  *mux.Router
}

// NewServer creates a new API server. hub may be nil, which disables /ws.
func NewServer(gameService service.GameService, hub *websocket.Hub) *Server {
	s := &Server{
		service: gameService,
		hub:     hub,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Matchmaking
	api.HandleFunc("/matches/find", s.handleFindMatch).Methods("POST")
	api.HandleFunc("/matches/join", s.handleJoinMatch).Methods("POST")
	api.HandleFunc("/matches/leave", s.handleLeaveMatch).Methods("POST")
	api.HandleFunc("/matches/cancel", s.handleCancelSearch).Methods("POST")
	api.HandleFunc("/matches", s.handleGetMatch).Methods("GET")
	api.HandleFunc("/matches/{id}/start", s.handleStartMatch).Methods("POST")

	// Turns
	api.HandleFunc("/matches/{id}/actions", s.handleSendAction).Methods("POST")
	api.HandleFunc("/matches/{id}/state", s.handleGetMatchState).Methods("GET")

	// Configuration
	api.HandleFunc("/games", s.handleListGames).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"error": true, "message": message})
}

// respondServiceError maps a service error to its status and message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := service.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	respondError(w, status, service.Message(err))
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("%w: request body is required", engine.ErrInvalidRequest)
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", engine.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", engine.ErrInvalidRequest, err)
	}
	return nil
}

func parseFingerprint(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	fp, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: fingerprint must be an unsigned integer", engine.ErrInvalidRequest)
	}
	return fp, nil
}

// Matchmaking Handlers

func (s *Server) handleFindMatch(w http.ResponseWriter, r *http.Request) {
	var req service.FindMatchRequest
	if err := decodeBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	match, err := s.service.FindMatch(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, match)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	match, err := s.service.GetMatch(r.Context(), service.MatchQuery{
		GameID:    query.Get("game_id"),
		PlayerID:  query.Get("player_id"),
		SessionID: query.Get("session_id"),
		Alias:     query.Get("alias"),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, match)
}

func (s *Server) handleJoinMatch(w http.ResponseWriter, r *http.Request) {
	var req service.JoinMatchRequest
	if err := decodeBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	match, err := s.service.JoinMatch(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, match)
}

func (s *Server) handleStartMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	match, err := s.service.StartMatch(r.Context(), mux.Vars(r)["id"], req.PlayerID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, match)
}

func (s *Server) handleLeaveMatch(w http.ResponseWriter, r *http.Request) {
	var req service.LeaveMatchRequest
	if err := decodeBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	if err := s.service.LeaveMatch(r.Context(), req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleCancelSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameID   string `json:"game_id"`
		PlayerID string `json:"player_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	match, err := s.service.CancelSearch(r.Context(), req.GameID, req.PlayerID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, match)
}

// Turn Handlers

func (s *Server) handleSendAction(w http.ResponseWriter, r *http.Request) {
	var req service.SendActionRequest
	if err := decodeBody(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	req.SessionID = mux.Vars(r)["id"]

	result, err := s.service.SendAction(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleGetMatchState(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fp, err := parseFingerprint(query.Get("fingerprint"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	state, err := s.service.GetMatchState(r.Context(), service.StateQuery{
		SessionID:       mux.Vars(r)["id"],
		PlayerID:        query.Get("player_id"),
		LastFingerprint: fp,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// Configuration Handlers

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.service.ListGames(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(games),
		"games": games,
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusNotFound, "websocket notifications are disabled")
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "session parameter required")
		return
	}

	if _, err := s.service.GetMatch(r.Context(), service.MatchQuery{SessionID: sessionID}); err != nil {
		respondServiceError(w, r, err)
		return
	}

	s.hub.ServeWS(w, r, sessionID)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
