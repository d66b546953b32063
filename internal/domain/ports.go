package domain

import "time"

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// SnapshotCache — кеш снапшотов каталога для advisory-чтений (reorder-анализ,
// прогноз стока). Данные могут отставать на секунды: для этих вычислений
// это допустимо. Ошибки кеша деградируют до прямого чтения из хранилища.
type SnapshotCache interface {
	// GetProducts возвращает снапшот по ключу и признак попадания.
	GetProducts(key string) ([]Product, bool)
	// SetProducts сохраняет снапшот с TTL реализации.
	SetProducts(key string, products []Product)
}
