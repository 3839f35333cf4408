package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/detbench/reviewoor/pkg/config"
	"github.com/detbench/reviewoor/pkg/ingest"
	"github.com/detbench/reviewoor/pkg/query"
	"github.com/detbench/reviewoor/pkg/review"
	"github.com/detbench/reviewoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	ingest     *ingest.Processor
	query      *query.Processor
	review     *review.Aggregator
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start initializes the store, seeds catalog data, and starts the HTTP
// server.
func (s *server) Start(ctx context.Context) error {
	// Create and start the database store.
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	// Seed read-mostly catalogs from config.
	if err := s.store.SeedViolationTypes(
		ctx, s.cfg.Catalog.ViolationTypes,
	); err != nil {
		return fmt.Errorf("seeding violation types: %w", err)
	}

	if err := s.store.SeedReviewers(
		ctx, s.cfg.Catalog.Reviewers,
	); err != nil {
		return fmt.Errorf("seeding reviewers: %w", err)
	}

	s.ingest = ingest.NewProcessor(s.log, s.store)
	s.query = query.NewProcessor(s.log, s.store)
	s.review = review.NewAggregator(s.log, s.store)

	// Build router and start HTTP server.
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
