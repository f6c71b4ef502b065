package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/ronbun/internal/pipeline"
	"go.uber.org/zap"
)

type sessionRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query,omitempty"`
	Selection string `json:"selection,omitempty"`
	ArxivID   string `json:"arxiv_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	s.logger.Debug("session created", zap.String("session_id", sess.ID))
	s.respondJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "session_id and query are required")
		return
	}
	result, err := s.orch.Search(r.Context(), req.SessionID, req.Query)
	if err != nil {
		s.respondPipelineError(w, "search", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Selection == "" {
		s.respondError(w, http.StatusBadRequest, "session_id and selection are required")
		return
	}
	result, err := s.orch.Select(r.Context(), req.SessionID, req.Selection)
	if err != nil {
		s.respondPipelineError(w, "select", err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.ArxivID == "" {
		s.respondError(w, http.StatusBadRequest, "session_id and arxiv_id are required")
		return
	}
	result, err := s.orch.Initialize(r.Context(), req.SessionID, req.ArxivID)
	if err != nil {
		s.respondPipelineError(w, "initialize", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "paper": result})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "session_id and message are required")
		return
	}
	answer, err := s.orch.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.respondPipelineError(w, "chat", err)
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		s.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	fresh, err := s.orch.Reset(req.SessionID)
	if err != nil {
		s.respondPipelineError(w, "reset", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"session_id": fresh.ID})
}

func (s *Server) handleConceptMap(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	cm, err := s.orch.ConceptMap(sessionID)
	if err != nil {
		s.respondPipelineError(w, "concept_map", err)
		return
	}
	if cm == nil {
		s.respondError(w, http.StatusNotFound, "no concept map for this session")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(cm)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		s.logger.Error("cache stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.cache.Delete(r.Context(), id)
	if err != nil {
		s.logger.Error("cache delete failed", zap.String("arxiv_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, "paper not cached")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.ClearAll(r.Context()); err != nil {
		s.logger.Error("cache clear failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Count(),
	})
}

// respondPipelineError maps orchestrator errors onto the API contract:
// client mistakes are 4xx, initialization stage failures are reported in the
// body with success=false, anything else is a 500.
func (s *Server) respondPipelineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, pipeline.ErrUnknownSession):
		s.respondError(w, http.StatusNotFound, "unknown session")
	case errors.Is(err, pipeline.ErrNotInSelection),
		errors.Is(err, pipeline.ErrNotInitialized),
		errors.Is(err, pipeline.ErrInitInFlight):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			s.logger.Warn("pipeline stage failed",
				zap.String("op", op), zap.String("stage", stageErr.Stage), zap.Error(err))
			s.respondJSON(w, http.StatusOK, map[string]interface{}{
				"success": false,
				"error":   stageErr.Stage + "_failed",
				"message": stageErr.Err.Error(),
			})
			return
		}
		s.logger.Error("pipeline operation failed", zap.String("op", op), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
