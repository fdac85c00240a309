// Package api serves indexed run reports over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/runfeatures/pkg/config"
	"github.com/ethpandaops/runfeatures/pkg/indexstore"
	"github.com/ethpandaops/runfeatures/pkg/telemetry"
)

const defaultShutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error

	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	store      indexstore.Store
	robots     []telemetry.RobotID
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server over a started index store.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	store indexstore.Store,
	robots []telemetry.RobotID,
) Server {
	return &server{
		log:    log.WithField("component", "api"),
		cfg:    cfg,
		store:  store,
		robots: robots,
		done:   make(chan struct{}),
	}
}

// Start binds the listener and serves in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.listener = ln

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Listen
}

// Stop gracefully shuts down the HTTP server. Repeated calls are no-ops.
func (s *server) Stop() error {
	s.stopOnce.Do(s.shutdown)

	return nil
}

func (s *server) shutdown() {
	close(s.done)

	if s.httpServer != nil {
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")
}
