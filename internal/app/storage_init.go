package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/storage/memory"
	"github.com/vladislavdragonenkov/ims/internal/storage/postgres"
)

// storageSet объединяет репозитории одного бэкенда.
type storageSet struct {
	Products domain.ProductRepository
	Orders   domain.OrderRepository
	Outbox   domain.OutboxRepository

	store *postgres.Store
}

// initStorage выбирает бэкенд по DSN: PostgreSQL при заданном DSN,
// иначе in-memory для локальной разработки.
func initStorage(ctx context.Context, dsn string, logger *log.Entry) (*storageSet, error) {
	if dsn == "" {
		logger.Info("postgres DSN is empty, using in-memory storage")
		return &storageSet{
			Products: memory.NewProductRepository(),
			Orders:   memory.NewOrderRepository(),
			Outbox:   memory.NewOutboxRepository(),
		}, nil
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("postgres storage initialized")

	return &storageSet{
		Products: postgres.NewProductRepository(store),
		Orders:   postgres.NewOrderRepository(store),
		Outbox:   postgres.NewOutboxRepository(store),
		store:    store,
	}, nil
}

// Ping проверяет доступность бэкенда; in-memory всегда доступен.
func (s *storageSet) Ping(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Ping(ctx)
}

func (s *storageSet) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
