package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/uvstream/vrgdisplay/internal/config"
	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const version = "0.1.0"

// Previewer is implemented by displays that can be watched over HTTP.
type Previewer interface {
	StreamHandler() http.HandlerFunc
	StatsHandler() http.HandlerFunc
	ViewerHandler() http.HandlerFunc
}

// Options wire the server to the running components. Every field but
// Registry may be nil.
type Options struct {
	Registry *display.Registry
	Config   *config.Manager
	Display  display.Display
	// Sections add named entries to the status document, e.g. receiver
	// and pipeline counters.
	Sections map[string]func() any
	// StatsInterval paces the websocket stats feed.
	StatsInterval time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = time.Second
	}
	s := &Server{
		router: mux.NewRouter(),
		opts:   opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/kinds", s.handleKinds).Methods("GET")

	// Display
	api.HandleFunc("/display/status", s.handleDisplayStatus).Methods("GET")
	api.HandleFunc("/display/capabilities", s.handleCapabilities).Methods("GET")
	api.HandleFunc("/stats/ws", s.handleStatsStream)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handleUpdateConfig).Methods("PUT")

	if p, ok := s.opts.Display.(Previewer); ok {
		s.router.HandleFunc("/stream", p.StreamHandler())
		s.router.HandleFunc("/stats", p.StatsHandler())
		s.router.HandleFunc("/", p.ViewerHandler())
	} else {
		s.router.HandleFunc("/", s.handleIndex)
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithComponent("api").Info().Msgf("Starting server on http://localhost:%d", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("api").Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
