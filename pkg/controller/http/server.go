package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ymparistovahti/vahti/pkg/domain/interfaces"
	"github.com/ymparistovahti/vahti/pkg/scheduler"
	"github.com/ymparistovahti/vahti/pkg/utils/logging"
)

// Server is the small ops surface of the daemon: source health and
// budget state as JSON. The read-only user UI lives elsewhere and is not
// part of this process.
type Server struct {
	router    *chi.Mux
	repo      interfaces.Repository
	budgetEUR float64
}

// New creates the ops HTTP handler
func New(repo interfaces.Repository, budgetEUR float64) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		repo:      repo,
		budgetEUR: budgetEUR,
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := scheduler.BuildHealth(ctx, s.repo, s.budgetEUR, time.Now().UTC())
	if err != nil {
		logging.From(ctx).Error("failed to build health report", "error", err.Error())
		http.Error(w, "health report unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		logging.From(ctx).Error("failed to encode health report", "error", err.Error())
	}
}
