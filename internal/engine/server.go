package engine

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/taskmesh/delegation/internal/assignment"
	"github.com/taskmesh/delegation/internal/worker"
	"github.com/taskmesh/delegation/pkg/cerr"
)

// Server exposes the delegation operations over HTTP. Effort fields
// accept extended duration strings ("90m", "1d2h").
type Server struct {
	engine *Engine
}

func NewServer(engine *Engine) *Server {
	return &Server{engine: engine}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/assignments", s.handleDelegate)
	r.Get("/assignments", s.handleList)
	r.Get("/assignments/{assignmentID}", s.handleGet)
	r.Post("/assignments/{assignmentID}/accept", s.handleAccept)
	r.Post("/assignments/{assignmentID}/complete", s.handleComplete)
	r.Post("/assignments/{assignmentID}/cancel", s.handleCancel)
	r.Get("/workers/suggest", s.handleSuggest)
}

type delegateRequest struct {
	TaskID          string `json:"task_id"`
	WorkerID        string `json:"worker_id"`
	EstimatedEffort string `json:"estimated_effort"`
}

type completeRequest struct {
	ActualEffort string `json:"actual_effort"`
}

type listResponse struct {
	Assignments []*assignment.Assignment `json:"assignments"`
}

type suggestResponse struct {
	Suggestions []*Suggestion `json:"suggestions"`
}

func parseEffort(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, cerr.NewError(cerr.InvalidArgument, field+" is required", nil)
	}
	d, err := str2duration.ParseDuration(value)
	if err != nil {
		return 0, cerr.NewError(cerr.InvalidArgument, "invalid "+field, err)
	}
	return d, nil
}

func (s *Server) handleDelegate(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req delegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	effort, err := parseEffort("estimated_effort", req.EstimatedEffort)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	a, err := s.engine.DelegateTask(ctx, req.TaskID, req.WorkerID, effort)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseStatus(ctx, http.StatusCreated, a)
}

func (s *Server) handleList(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assignments, err := s.engine.ListAssignments(ctx, assignment.QueryFilter{
		WorkerID: r.URL.Query().Get("worker_id"),
		TaskID:   r.URL.Query().Get("task_id"),
		Status:   assignment.Status(r.URL.Query().Get("status")),
	})
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, listResponse{Assignments: assignments})
}

func (s *Server) handleGet(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.engine.GetAssignment(ctx, chi.URLParam(r, "assignmentID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, a)
}

func (s *Server) handleAccept(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.engine.AcceptAssignment(ctx, chi.URLParam(r, "assignmentID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, a)
}

func (s *Server) handleComplete(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	effort, err := parseEffort("actual_effort", req.ActualEffort)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	a, err := s.engine.CompleteAssignment(ctx, chi.URLParam(r, "assignmentID"), effort)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, a)
}

func (s *Server) handleCancel(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.engine.CancelAssignment(ctx, chi.URLParam(r, "assignmentID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, a)
}

func (s *Server) handleSuggest(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var skills []string
	if raw := r.URL.Query().Get("skill"); raw != "" {
		skills = strings.Split(raw, ",")
	}
	suggestions, err := s.engine.SuggestWorkers(ctx, worker.Type(r.URL.Query().Get("type")), skills)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, suggestResponse{Suggestions: suggestions})
}
