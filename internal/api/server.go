// Package api exposes the service over HTTP. Answers stream as
// server-sent events; everything else is plain JSON.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"factnews/internal/common/logger"
	"factnews/internal/service"
)

// Server routes HTTP traffic to the service facade.
type Server struct {
	svc    *service.Service
	source service.ArticleSource
	log    logger.Logger
}

func NewServer(svc *service.Service, source service.ArticleSource, log logger.Logger) *Server {
	return &Server{
		svc:    svc,
		source: source,
		log:    log.With(map[string]interface{}{"component": "api"}),
	}
}

// Routes registers all handlers on the mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /ask/stream", s.handleAskStream)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("GET /health", s.handleHealth)
}

type askRequest struct {
	Question string `json:"question"`
	Mode     string `json:"mode"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	mode := service.Mode(req.Mode)
	if req.Mode == "" {
		mode = service.ModeConsensus
	}
	if !mode.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	answer, err := s.svc.Ask(r.Context(), req.Question, mode)
	if err != nil {
		s.log.WithError(err).Error("ask failed", map[string]interface{}{"mode": string(mode)})
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, answer)
}

// handleAskStream emits one SSE event per pipeline phase. The stream
// always ends with a complete or error event.
func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("q")
	if question == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	mode := service.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = service.ModeConsensus
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for ev := range s.svc.AskStream(r.Context(), question, mode) {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Phase, payload)
		flusher.Flush()
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "k must be a non-negative integer")
			return
		}
		k = parsed
	}

	evidence, err := s.svc.SearchPreview(r.Context(), query, k)
	if err != nil {
		s.log.WithError(err).Error("search failed", nil)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, evidence)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Stats(r.Context()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.RefreshCorpus(r.Context(), s.source)
	if err != nil {
		s.log.WithError(err).Error("corpus refresh failed", nil)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("response encode failed", nil)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
