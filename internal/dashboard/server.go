// Package dashboard serves reconciliation results over HTTP as JSON.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
	"github.com/eddiefleurent/mifflin_matcher/internal/storage"
)

// Server exposes stored reconciliation results.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	logger    *logrus.Logger
	port      int
	authToken string
}

// Config carries the dashboard settings.
type Config struct {
	Port      int
	AuthToken string
}

// MatchSummary is the list view of a match; the full record is available
// via the per-match endpoint.
type MatchSummary struct {
	ID           string               `json:"id"`
	AccountID    string               `json:"account_id"`
	Underlying   string               `json:"underlying"`
	Strategy     models.StrategyType  `json:"strategy"`
	Confidence   models.Confidence    `json:"confidence"`
	QualityFlags []models.QualityFlag `json:"quality_flags"`
	Roll         bool                 `json:"roll"`
	LegCount     int                  `json:"leg_count"`
	MemberCount  int                  `json:"member_count"`
	EarliestAt   time.Time            `json:"earliest_at"`
}

// NewServer builds the dashboard router. A registry may be nil, in which
// case no /metrics endpoint is mounted.
func NewServer(cfg Config, store storage.Interface, registry *prometheus.Registry, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes(registry)
	return s
}

func (s *Server) setupRoutes(registry *prometheus.Registry) {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/accounts", s.handleAccounts)
	s.router.Get("/api/accounts/{accountID}/matches", s.handleAccountMatches)
	s.router.Get("/api/match/{id}", s.handleMatch)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/history", s.handleHistory)

	if registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until Shutdown or failure.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.storage.Accounts())
}

func (s *Server) handleAccountMatches(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	result, err := s.storage.LatestRun(accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNoRun) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Failed to load account run")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	summaries := make([]MatchSummary, 0, len(result.Matches))
	for i := range result.Matches {
		summaries = append(summaries, summarize(&result.Matches[i]))
	}
	s.writeJSON(w, map[string]interface{}{
		"account_id":        result.AccountID,
		"reconciled_at":     result.ReconciledAt,
		"transaction_count": result.TransactionCount,
		"matches":           summaries,
	})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	match, found := s.storage.MatchByID(id)
	if !found {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, match)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.storage.GetStatistics())
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.storage.RunHistory())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func summarize(m *models.Match) MatchSummary {
	return MatchSummary{
		ID:           m.ID,
		AccountID:    m.AccountID,
		Underlying:   m.Underlying,
		Strategy:     m.Strategy,
		Confidence:   m.Confidence,
		QualityFlags: m.QualityFlags,
		Roll:         m.Roll,
		LegCount:     len(m.Legs),
		MemberCount:  len(m.TransactionIDs),
		EarliestAt:   m.EarliestAt,
	}
}
