// Package api provides the REST surface over the proposal repository,
// reviewer registry, and scheduler.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sidellis/mend/internal/events"
	"github.com/sidellis/mend/internal/learning"
	"github.com/sidellis/mend/internal/models"
	"github.com/sidellis/mend/internal/reviewer"
	"github.com/sidellis/mend/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	registry *reviewer.Registry
	bus      *events.Bus
	sink     learning.Sink
	trigger  func(name string) error
}

// NewServer creates a new API server. The trigger func runs a named
// scheduler job immediately; it may be nil when no scheduler is wired
// (manual runs then return 503).
func NewServer(s store.Store, reg *reviewer.Registry, bus *events.Bus, sink learning.Sink, trigger func(name string) error) *Server {
	if sink == nil {
		sink = learning.NopSink{}
	}
	return &Server{
		store:    s,
		registry: reg,
		bus:      bus,
		sink:     sink,
		trigger:  trigger,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/proposals", s.listProposals)
	mux.HandleFunc("POST /api/v1/proposals", s.createProposal)
	mux.HandleFunc("GET /api/v1/proposals/summary", s.proposalSummary)
	mux.HandleFunc("GET /api/v1/proposals/{id}", s.getProposal)
	mux.HandleFunc("GET /api/v1/proposals/{id}/transitions", s.listTransitions)
	mux.HandleFunc("POST /api/v1/proposals/{id}/approve", s.approveProposal)
	mux.HandleFunc("POST /api/v1/proposals/{id}/reject", s.rejectProposal)

	mux.HandleFunc("GET /api/v1/reviewers", s.listReviewers)
	mux.HandleFunc("POST /api/v1/reviewers/{name}/run", s.runReviewer)

	mux.HandleFunc("POST /api/v1/reconcile", s.runReconcile)

	mux.HandleFunc("GET /api/v1/events", s.streamEvents)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Proposals ---

func (s *Server) listProposals(w http.ResponseWriter, r *http.Request) {
	filter := store.ProposalFilter{
		Status:   models.ProposalStatus(r.URL.Query().Get("status")),
		Reviewer: r.URL.Query().Get("reviewer"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	proposals, err := s.store.ListProposals(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if proposals == nil {
		proposals = []*models.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) createProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reviewer    string `json:"reviewer"`
		FilePath    string `json:"file_path"`
		CodeBefore  string `json:"code_before"`
		CodeAfter   string `json:"code_after"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "reviewer is required")
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}
	if req.CodeAfter == "" {
		writeError(w, http.StatusBadRequest, "code_after is required")
		return
	}

	p := &models.Proposal{
		Reviewer:    req.Reviewer,
		FilePath:    req.FilePath,
		CodeBefore:  req.CodeBefore,
		CodeAfter:   req.CodeAfter,
		Description: req.Description,
		Status:      models.StatusPending,
	}
	if err := s.store.CreateProposal(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.bus.Publish(events.TypeProposalCreated, map[string]any{
		"id":       p.ID,
		"reviewer": p.Reviewer,
		"file":     p.FilePath,
	})
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.store.GetProposal(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetProposal(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries, err := s.store.ListTransitions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*models.TransitionEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) proposalSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.StatusSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// decide handles approve and reject, which differ only in the target
// status, the event type, and the learning signal.
func (s *Server) decide(w http.ResponseWriter, r *http.Request, to models.ProposalStatus, eventType string, signal learning.Signal) {
	id := r.PathValue("id")

	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("%s via API", to)
	}

	p, err := s.store.Transition(r.Context(), id, to, store.TransitionMeta{Reason: reason})
	if err != nil {
		var ite *store.InvalidTransitionError
		switch {
		case errors.As(err, &ite):
			writeError(w, http.StatusConflict, err.Error())
		case strings.Contains(err.Error(), "not found"):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.bus.Publish(eventType, map[string]any{"id": p.ID, "reason": reason})
	s.sink.ReportOutcome(r.Context(), p.Reviewer, signal, reason)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) approveProposal(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, models.StatusApproved, events.TypeProposalApproved, learning.SignalApproved)
}

func (s *Server) rejectProposal(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, models.StatusRejected, events.TypeProposalRejected, learning.SignalRejected)
}

// --- Reviewers ---

type reviewerEntry struct {
	Name     string                `json:"name"`
	Cadence  string                `json:"cadence"`
	MaxFiles int                   `json:"max_files"`
	Include  []string              `json:"include"`
	Focus    string                `json:"focus"`
	Score    *models.ReviewerScore `json:"score,omitempty"`
}

func (s *Server) listReviewers(w http.ResponseWriter, r *http.Request) {
	scores, err := s.store.ListReviewerScores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	byName := make(map[string]*models.ReviewerScore, len(scores))
	for _, sc := range scores {
		byName[sc.Reviewer] = sc
	}

	entries := make([]reviewerEntry, 0)
	for _, def := range s.registry.All() {
		entries = append(entries, reviewerEntry{
			Name:     def.Name,
			Cadence:  def.Cadence.String(),
			MaxFiles: def.MaxFiles,
			Include:  def.Include,
			Focus:    def.Focus,
			Score:    byName[def.Name],
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) runReviewer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := s.registry.Get(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.triggerJob(w, "reviewer:"+name)
}

// --- Reconcile ---

func (s *Server) runReconcile(w http.ResponseWriter, r *http.Request) {
	s.triggerJob(w, "reconcile")
}

// triggerJob fires a scheduler job by name. An already-running job is a
// conflict, not an error: the caller's intent is already being served.
func (s *Server) triggerJob(w http.ResponseWriter, name string) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	if err := s.trigger(name); err != nil {
		if strings.Contains(err.Error(), "already running") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if strings.Contains(err.Error(), "unknown job") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "status": "started"})
}

// --- Events ---

// streamEvents serves the bus over SSE. Delivery is best effort: a
// client that falls behind misses events and should re-poll the
// proposal endpoints.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel := s.bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
