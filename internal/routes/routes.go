package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ghost-pay/ghost_pay/internal/account"
	"github.com/ghost-pay/ghost_pay/internal/config"
	"github.com/ghost-pay/ghost_pay/internal/idempotency"
	"github.com/ghost-pay/ghost_pay/internal/ledger"
	"github.com/ghost-pay/ghost_pay/internal/logging"
	"github.com/ghost-pay/ghost_pay/internal/metrics"
	"github.com/ghost-pay/ghost_pay/internal/middleware"
	"github.com/ghost-pay/ghost_pay/internal/store"
	"github.com/ghost-pay/ghost_pay/internal/transactions"
	"github.com/ghost-pay/ghost_pay/internal/webhook"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// backend is the storage chosen for this process: Postgres when a pool is
// available, in-memory otherwise.
type backend struct {
	uow        store.UnitOfWork
	reader     ledger.Reader
	accounts   account.Repository
	deliveries webhook.DeliveryStore
	subs       webhook.SubscriptionStore
	runner     webhook.OutboxRunner
}

func newBackend(d Deps) backend {
	if d.DB != nil {
		hooks := webhook.NewPostgresStore(d.DB)
		return backend{
			uow:        store.NewPostgres(d.DB, d.Cfg.LedgerLockTimeout),
			reader:     ledger.NewPostgresStore(d.DB),
			accounts:   account.NewPostgresRepository(d.DB),
			deliveries: hooks,
			subs:       hooks,
			runner:     hooks,
		}
	}
	led := ledger.NewMemoryStore()
	hooks := webhook.NewMemoryStore()
	return backend{
		uow:        store.NewMemory(led, hooks, d.Cfg.LedgerLockTimeout),
		reader:     led,
		accounts:   account.NewMemoryRepository(led),
		deliveries: hooks,
		subs:       hooks,
		runner:     hooks,
	}
}

func idempotencyStore(d Deps) (idempotency.Store, error) {
	switch d.Cfg.IdempotencyBackend {
	case "postgres":
		if d.DB == nil {
			return nil, fmt.Errorf("postgres idempotency backend needs a database")
		}
		return idempotency.NewPostgresStore(d.DB, d.Cfg.IdempotencyLockTimeout, d.Cfg.IdempotencyTTL), nil
	case "redis":
		if d.Cache == nil {
			return nil, fmt.Errorf("redis idempotency backend needs a redis client")
		}
		return idempotency.NewRedisStore(d.Cache, d.Cfg.IdempotencyLockTimeout, d.Cfg.IdempotencyTTL), nil
	default:
		return idempotency.NewMemoryStore(d.Cfg.IdempotencyLockTimeout, d.Cfg.IdempotencyTTL), nil
	}
}

// Setup configures middlewares and all application routes. It returns the
// delivery worker; the caller owns its lifecycle.
func Setup(app *fiber.App, d Deps) (*webhook.Worker, error) {
	if !d.Cfg.IsDevelopment() && d.DB == nil {
		return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	idem, err := idempotencyStore(d)
	if err != nil {
		return nil, err
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(logging.With(d.Logger, "http")))
	app.Use(metrics.HTTP())

	RegisterHealthRoutes(app, d)

	b := newBackend(d)
	worker := webhook.NewWorker(b.deliveries, webhook.WorkerConfig{
		MaxAttempts:   d.Cfg.Webhook.MaxAttempts,
		BatchSize:     d.Cfg.Webhook.BatchSize,
		SweepInterval: d.Cfg.Webhook.SweepInterval,
		Timeout:       d.Cfg.Webhook.Timeout,
		Debounce:      d.Cfg.Webhook.Debounce,
	}, logging.With(d.Logger, "webhook-worker"))
	outbox := webhook.NewOutbox()

	accountSvc := account.NewService(b.accounts)
	txSvc := transactions.NewService(b.uow, ledger.NewEngine(), outbox, b.reader, b.accounts, worker, logging.With(d.Logger, "transactions"))
	hookSvc := webhook.NewService(b.subs, b.runner, outbox, worker)

	guardLog := logging.With(d.Logger, "idempotency")
	limit := middleware.RateLimit(d.Cache, d.Cfg.RateLimitPerMinute, logging.With(d.Logger, "rate-limit"))

	api := app.Group("/api/v1", middleware.BearerAuth([]byte(d.Cfg.JWTSecret)))
	txHandler := transactions.NewHandler(txSvc)
	RegisterAccountRoutes(api, account.NewHandler(accountSvc), txHandler,
		limit, idempotency.Guard(idem, "accounts.create", guardLog))
	RegisterTransactionRoutes(api, txHandler,
		limit, idempotency.Guard(idem, "transactions.create", guardLog))
	RegisterWebhookRoutes(api, webhook.NewHandler(hookSvc),
		limit, idempotency.Guard(idem, "webhooks.create", guardLog))

	return worker, nil
}
