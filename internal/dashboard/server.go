// Package dashboard implements the optional read-only HTTP status surface:
// run status, per-symbol progress, and a ledger export, served as a small
// JSON API routed with gorilla/mux.
package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/backreplay/internal/simbroker"
)

// SymbolProgress reports one symbol's tick-stream progress as a
// produced/estimated pair.
type SymbolProgress struct {
	Symbol    string `json:"symbol"`
	Produced  int64  `json:"produced"`
	Estimated int64  `json:"estimated"`
}

// RunStatus is the run-wide snapshot the status endpoint serves.
type RunStatus struct {
	RunID       string           `json:"run_id"`
	CurrentTime time.Time        `json:"current_time"`
	Equity      float64          `json:"equity"`
	Generation  uint64           `json:"generation"`
	Progress    []SymbolProgress `json:"progress"`
	Running     bool             `json:"running"`
}

// StatusProvider is the narrow read-only collaborator the dashboard polls;
// internal/replay's Controller satisfies it.
type StatusProvider interface {
	Status() RunStatus
	Ledger() []simbroker.TradeRecord
}

// Config holds the dashboard's own tunables.
type Config struct {
	Addr      string
	AuthToken string // empty disables auth
}

// Server is the optional read-only dashboard.
type Server struct {
	router *mux.Router
	http   *http.Server
	status StatusProvider
	logger *logrus.Logger
	cfg    Config
}

// NewServer wires a Server around status.
func NewServer(cfg Config, status StatusProvider, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{router: mux.NewRouter(), status: status, logger: logger, cfg: cfg}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestLoggerMiddleware)

	protected := s.router.NewRoute().Subrouter()
	if s.cfg.AuthToken != "" {
		protected.Use(s.authMiddleware)
	}
	protected.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	protected.HandleFunc("/api/progress", s.handleProgress).Methods(http.MethodGet)
	protected.HandleFunc("/api/ledger", s.handleLedger).Methods(http.MethodGet)

	// Health check is always public.
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Info("dashboard request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token != s.cfg.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.status.Status())
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.status.Status().Progress)
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.status.Ledger())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Start begins serving in the background. Call Shutdown to stop it.
func (s *Server) Start() error {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("dashboard server exited")
		}
	}()
	return nil
}

// Shutdown stops the server immediately: it closes the listener and every
// open connection without waiting for in-flight requests to finish.
func (s *Server) Shutdown() error {
	return s.http.Close()
}
