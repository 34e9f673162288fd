package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ghost-pay/ghost_pay/internal/apierror"
	"github.com/ghost-pay/ghost_pay/internal/config"
	"github.com/ghost-pay/ghost_pay/internal/routes"
	"github.com/ghost-pay/ghost_pay/internal/webhook"
)

// Server wraps the Fiber application, the delivery worker and shared
// dependencies.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	worker *webhook.Worker
	logger *slog.Logger

	stopWorker context.CancelFunc
	workerDone sync.WaitGroup
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: apierror.Handler,
	})

	worker, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, worker: worker, logger: logger}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// StartWorker launches the delivery worker with an immediate first pass, so
// deliveries left pending by a previous process go out right away.
func (s *Server) StartWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopWorker = cancel
	s.workerDone.Add(1)
	go func() {
		defer s.workerDone.Done()
		s.worker.Run(ctx)
	}()
	s.worker.Kick()
}

// Listen starts the HTTP server. It blocks until the listener stops.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then stops the worker. An in-flight
// delivery is resolved before the worker returns.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	if s.stopWorker != nil {
		s.stopWorker()
		done := make(chan struct{})
		go func() {
			s.workerDone.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("webhook worker did not stop before shutdown deadline")
		}
	}
	return err
}
