package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/antiprophet/studio/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents a metrics HTTP server
type Server struct {
	server *http.Server
	port   int
	log    *logging.Logger
}

// NewServer creates a new metrics server
func NewServer(port int, logger *logging.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		port: port,
		log:  logger.WithComponent("metrics"),
	}
}

// Start starts the metrics server and blocks until it stops
func (s *Server) Start() error {
	s.log.Infof("Starting metrics server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down metrics server")
	return s.server.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
