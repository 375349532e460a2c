package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"attache/internal/dispatch"
	"attache/internal/memory"
	"attache/internal/multimodal"
)

// maxUploadBytes bounds multipart uploads; analyzers work on in-memory byte
// slices so the cap keeps a single request from exhausting the process.
const maxUploadBytes = 32 << 20

// Server exposes the dispatch facade over HTTP JSON.
type Server struct {
	facade  *dispatch.Facade
	started time.Time
}

// NewServer creates the API server around a wired facade.
func NewServer(facade *dispatch.Facade) *Server {
	return &Server{facade: facade, started: time.Now()}
}

// Handler builds the route table with logging and CORS middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /conversation/history", s.handleHistory)
	mux.HandleFunc("GET /conversation/search", s.handleSearch)
	mux.HandleFunc("POST /conversation/new-session", s.handleNewSession)
	mux.HandleFunc("POST /multimodal/upload", s.handleUpload)
	mux.HandleFunc("POST /multimodal/screenshot", s.handleScreenshot)
	mux.HandleFunc("POST /multimodal/generate-diagram", s.handleDiagram)
	mux.HandleFunc("GET /multimodal/supported-formats", s.handleSupportedFormats)
	mux.HandleFunc("GET /health", s.handleHealth)

	return logRequests(withCORS(mux))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req dispatch.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Message == "" {
		badRequest(w, "message is required")
		return
	}

	resp, err := s.facade.Chat(r.Context(), req)
	if err != nil {
		s.writeMemoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		current, ok := s.facade.Memory().CurrentSession(s.facade.UserID())
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{
				"success":        true,
				"history":        []memory.Message{},
				"session_info":   nil,
				"total_messages": 0,
			})
			return
		}
		sessionID = current
	}

	history, err := s.facade.Memory().History(r.Context(), sessionID, limit)
	if err != nil {
		s.writeMemoryError(w, err)
		return
	}
	if history == nil {
		history = []memory.Message{}
	}

	info, err := s.facade.Memory().SessionInfo(r.Context(), sessionID)
	if err != nil {
		s.writeMemoryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"history":        history,
		"session_info":   info,
		"total_messages": info.TotalMessages,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		badRequest(w, "q is required")
		return
	}
	limit := queryInt(r, "limit", 10)
	sessionID := r.URL.Query().Get("session_id")

	results, err := s.facade.Memory().Search(r.Context(), query, sessionID, limit)
	if err != nil {
		internalError(w, err)
		return
	}
	if results == nil {
		results = []memory.SearchResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"results": results,
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.facade.Memory().CreateSession(r.Context(), s.facade.UserID(), "")
	if err != nil {
		internalError(w, err)
		return
	}

	info, err := s.facade.Memory().SessionInfo(r.Context(), sessionID)
	if err != nil {
		internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"session_id":   sessionID,
		"session_info": info,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		badRequest(w, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file field is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "failed to read upload")
		return
	}

	resp, err := s.facade.Upload(r.Context(), header.Filename, content)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	resp, err := s.facade.Screenshot(r.Context())
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	resp, err := s.facade.Diagram(r.Context(), req.Type, req.Content)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSupportedFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"supported_formats": multimodal.Formats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := "ok"
	status := "healthy"
	if err := s.facade.LLMHealth(r.Context()); err != nil {
		health = err.Error()
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"uptime":     time.Since(s.started).Seconds(),
		"model_name": s.facade.Model(),
		"health":     health,
	})
}

// writeMemoryError maps the memory sentinels to structured bodies; anything
// else is a storage failure and becomes a 500.
func (s *Server) writeMemoryError(w http.ResponseWriter, err error) {
	if errors.Is(err, memory.ErrNoSession) || errors.Is(err, memory.ErrSessionNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	internalError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   msg,
	})
}

func internalError(w http.ResponseWriter, err error) {
	log.Printf("internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   "internal server error",
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
