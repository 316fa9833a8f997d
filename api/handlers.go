package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/isdmx/playground/examples"
	"github.com/isdmx/playground/playground"
	"github.com/isdmx/playground/sandbox"
)

// ExecuteRequest is the body of POST /api/execute
type ExecuteRequest struct {
	Code      string `json:"code"`
	Language  string `json:"language"`
	TimeoutMs int    `json:"timeout_ms"`
}

// ComponentRequest is the body of POST /api/components
type ComponentRequest struct {
	Code      string `json:"code"`
	TimeoutMs int    `json:"timeout_ms"`
}

// CodeRequest is the body of the static check endpoints
type CodeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (s *Server) overrides(timeoutMs int) (*sandbox.Options, error) {
	opts, err := sandbox.TimeoutOverride(timeoutMs, s.config.GetMaxTimeout())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return opts, nil
}

// executionStatus is 409 for a busy executor and 200 for every other
// outcome, failed runs included
func executionStatus(result sandbox.ExecutionResult) int {
	if result.ErrorKind == sandbox.KindBusy {
		return http.StatusConflict
	}
	return http.StatusOK
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logger.Warn("invalid execution request body", zap.Error(err))
		writeError(w, err)
		return
	}
	opts, err := s.overrides(req.TimeoutMs)
	if err != nil {
		writeError(w, err)
		return
	}

	result := s.session.Execute(r.Context(), req.Code, req.Language, opts)
	writeJSON(w, executionStatus(result), result)
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	var req ComponentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logger.Warn("invalid component request body", zap.Error(err))
		writeError(w, err)
		return
	}
	opts, err := s.overrides(req.TimeoutMs)
	if err != nil {
		writeError(w, err)
		return
	}

	result := s.components.ExecuteComponent(r.Context(), req.Code, opts)
	writeJSON(w, executionStatus(result.ExecutionResult), result)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Validate(req.Code, req.Language))
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": playground.Format(req.Code)})
}

func (s *Server) handleListExamples(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.catalog.Query(q.Get("category"), q.Get("language"), q.Get("q")))
}

func (s *Server) handleGetExample(w http.ResponseWriter, r *http.Request) {
	example, err := s.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, example)
}

func (s *Server) handleAddExample(w http.ResponseWriter, r *http.Request) {
	var example examples.Example
	if err := decodeJSON(w, r, &example); err != nil {
		writeError(w, err)
		return
	}
	if err := s.catalog.Add(example); err != nil {
		writeError(w, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return
	}
	writeJSON(w, http.StatusCreated, example)
}

func (s *Server) handleRemoveExample(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleResetSession(w http.ResponseWriter, _ *http.Request) {
	s.session.Reset()
	w.WriteHeader(http.StatusNoContent)
}
