package app

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/service/catalog"
	"github.com/vladislavdragonenkov/ims/internal/service/forecast"
	"github.com/vladislavdragonenkov/ims/internal/service/ledger"
	"github.com/vladislavdragonenkov/ims/internal/service/orders"
	"github.com/vladislavdragonenkov/ims/internal/service/reorder"
	rediscache "github.com/vladislavdragonenkov/ims/internal/storage/redis"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Storage *storageSet
	Cache   domain.SnapshotCache

	Ledger       *ledger.Ledger
	Catalog      *catalog.Catalog
	Advisor      *reorder.Advisor
	Forecaster   *forecast.Forecaster
	Factory      *orders.Factory
	StateMachine *orders.StateMachine

	Logger *log.Entry

	redisClient *goredis.Client
}

// NewDependencies создаёт и связывает все зависимости приложения.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	storage, err := initStorage(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Storage: storage,
		Logger:  logger,
	}

	// Redis опционален: без него advisory-чтения идут напрямую в хранилище.
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, snapshot cache disabled")
			_ = client.Close()
		} else {
			deps.redisClient = client
			deps.Cache = rediscache.NewSnapshotCache(client, cfg.CacheTTL, logger)
			logger.WithField("addr", cfg.RedisAddr).Info("redis snapshot cache initialized")
		}
	}

	deps.Ledger = ledger.New(storage.Products, storage.Outbox, logger.WithField("component", "stock-ledger"))
	deps.Catalog = catalog.New(storage.Products, storage.Orders, logger.WithField("component", "catalog"))
	deps.Advisor = reorder.NewAdvisor(storage.Products, deps.Cache, logger.WithField("component", "reorder-advisor"))
	deps.Forecaster = forecast.NewForecaster(storage.Products, storage.Orders, deps.Cache, logger.WithField("component", "forecaster"))
	deps.Factory = orders.NewFactory(storage.Products, storage.Orders, deps.Ledger, storage.Outbox, logger.WithField("component", "order-factory"))
	deps.StateMachine = orders.NewStateMachine(storage.Orders, deps.Ledger, storage.Outbox, logger.WithField("component", "order-state-machine"))

	return deps, nil
}

// Close освобождает ресурсы зависимостей.
func (d *Dependencies) Close() {
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if d.Storage != nil {
		if err := d.Storage.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close storage")
		}
	}
}
