package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/storefront/internal/storage/redis"
)

// runtimeDependencies содержит хранилища экземпляра сервиса и то, что нужно закрыть при остановке.
type runtimeDependencies struct {
	users           domain.UserRepository
	products        domain.ProductRepository
	orders          domain.OrderStore
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	checkers map[string]healthcheck.Checker
	closers  []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// initRuntimeDependencies открывает хранилища согласно cfg.
// При ошибке уже открытые подключения закрываются.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *runtimeDependencies, err error) {
	deps = &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	defer func() {
		if err != nil {
			deps.close(logger)
			deps = nil
		}
	}()

	var pg *postgres.Store
	openPostgres := func() (*postgres.Store, error) {
		if pg != nil {
			return pg, nil
		}
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, namedCloser{name: "postgres", close: store.Close})
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		pg = store
		return pg, nil
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		deps.users = store.Users
		deps.products = store.Products
		deps.orders = store.Orders
		deps.outboxRepo = store.Outbox
		deps.timelineRepo = store.Timeline
		deps.idempotencyRepo = store.Idempotency
	case StorageDriverPostgres:
		store, err := openPostgres()
		if err != nil {
			return nil, err
		}
		deps.users = postgres.NewUserRepository(store)
		deps.products = postgres.NewProductRepository(store)
		deps.orders = postgres.NewOrderRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	switch cfg.effectiveIdempotencyDriver() {
	case cfg.StorageDriver:
	case IdempotencyDriverMemory:
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
	case IdempotencyDriverPostgres:
		store, err := openPostgres()
		if err != nil {
			return nil, err
		}
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
	case IdempotencyDriverRedis:
		client, err := redisstore.Open(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, namedCloser{name: "redis", close: client.Close})
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		deps.idempotencyRepo = redisstore.NewIdempotencyRepository(client)
	default:
		return nil, fmt.Errorf("unsupported idempotency driver %q", cfg.IdempotencyDriver)
	}

	logger.WithFields(log.Fields{
		"storage_driver":     cfg.StorageDriver,
		"idempotency_driver": cfg.effectiveIdempotencyDriver(),
	}).Info("storage initialized")
	return deps, nil
}

// close закрывает подключения в обратном порядке.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil {
		return
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil {
			logger.WithError(err).WithField("dependency", c.name).Warn("failed to close dependency")
		}
	}
	d.closers = nil
}
