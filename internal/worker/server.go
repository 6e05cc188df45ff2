package worker

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskmesh/delegation/pkg/cerr"
)

// Server exposes worker registration and queries over HTTP. Responses
// and errors are staged on the request context and rendered by the
// JSON middleware.
type Server struct {
	registry *Registry
}

func NewServer(registry *Registry) *Server {
	return &Server{registry: registry}
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/workers", s.handleRegister)
	r.Get("/workers", s.handleQuery)
	r.Get("/workers/{workerID}", s.handleGet)
	r.Post("/workers/{workerID}/disable", s.handleDisable)
	r.Post("/workers/{workerID}/enable", s.handleEnable)
}

type queryResponse struct {
	Workers []*Capability `json:"workers"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	c, err := s.registry.Register(ctx, &req)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseStatus(ctx, http.StatusCreated, c)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := QueryFilter{
		WorkerType:    Type(r.URL.Query().Get("type")),
		RequiredSkill: r.URL.Query().Get("skill"),
	}
	if v := r.URL.Query().Get("available"); v != "" {
		avail, err := strconv.ParseBool(v)
		if err != nil {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid available parameter", err)
			return
		}
		filter.AvailableOnly = avail
	}
	workers, err := s.registry.Query(ctx, filter)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, queryResponse{Workers: workers})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := s.registry.Get(ctx, chi.URLParam(r, "workerID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, c)
}

func (s *Server) handleDisable(_ http.ResponseWriter, r *http.Request) {
	s.setDisabled(r, true)
}

func (s *Server) handleEnable(_ http.ResponseWriter, r *http.Request) {
	s.setDisabled(r, false)
}

func (s *Server) setDisabled(r *http.Request, disabled bool) {
	ctx := r.Context()
	c, err := s.registry.SetDisabled(ctx, chi.URLParam(r, "workerID"), disabled)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, c)
}
