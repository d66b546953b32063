package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

const (
	keyPrefix  = "ims:products:"
	defaultTTL = 30 * time.Second
	opTimeout  = 2 * time.Second
)

// SnapshotCache кеширует снапшоты каталога в Redis для advisory-чтений.
// Любая ошибка Redis деградирует до cache miss: вызывающий код читает
// из основного хранилища, сервис продолжает работать без кеша.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Entry
}

// NewSnapshotCache создаёт кеш поверх существующего клиента Redis.
// ttl <= 0 заменяется дефолтом.
func NewSnapshotCache(client *redis.Client, ttl time.Duration, logger *log.Entry) *SnapshotCache {
	if logger == nil {
		logger = log.New().WithField("component", "snapshot-cache")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SnapshotCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// GetProducts возвращает снапшот по ключу и признак попадания.
func (c *SnapshotCache) GetProducts(key string) ([]domain.Product, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("key", key).Warn("snapshot read failed")
		}
		return nil, false
	}

	var products []domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("snapshot decode failed, dropping")
		c.drop(key)
		return nil, false
	}
	return products, true
}

// SetProducts сохраняет снапшот с TTL кеша.
func (c *SnapshotCache) SetProducts(key string, products []domain.Product) {
	raw, err := json.Marshal(products)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("snapshot encode failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("snapshot write failed")
	}
}

func (c *SnapshotCache) drop(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_ = c.client.Del(ctx, keyPrefix+key).Err()
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
