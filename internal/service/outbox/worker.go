package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 50
	defaultMaxAttempts  = 3
	defaultBackoffBase  = 100 * time.Millisecond
)

var (
	publishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ims_outbox_publish_total",
		Help: "Outbox publish outcomes grouped by result.",
	}, []string{"result"})
	pendingBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ims_outbox_pending_records",
		Help: "Number of records waiting in the transactional outbox.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ims_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record in seconds.",
	})
)

// Options задаёт параметры воркера. Нулевые поля заменяются дефолтами.
type Options struct {
	Logger       *log.Entry
	DLQ          domain.OutboxPublisher
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BackoffBase  time.Duration
}

// Worker вычитывает pending-записи из outbox и публикует их в брокер.
// Семантика доставки at-least-once: падение между Publish и MarkSent
// приведёт к повторной публикации того же события.
type Worker struct {
	repo    domain.OutboxRepository
	pub     domain.OutboxPublisher
	dlq     domain.OutboxPublisher
	logger  *log.Entry
	poll    time.Duration
	batch   int
	retries int
	backoff time.Duration
}

// NewWorker создаёт воркера поверх репозитория и publisher.
func NewWorker(repo domain.OutboxRepository, pub domain.OutboxPublisher, opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BackoffBase < 0 {
		opts.BackoffBase = defaultBackoffBase
	}

	return &Worker{
		repo:    repo,
		pub:     pub,
		dlq:     opts.DLQ,
		logger:  logger,
		poll:    opts.PollInterval,
		batch:   opts.BatchSize,
		retries: opts.MaxAttempts,
		backoff: opts.BackoffBase,
	}
}

// Run крутит polling-цикл до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.pub == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	w.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain выполняет один проход: вычитывает батч и публикует каждую запись.
func (w *Worker) Drain(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.observeBacklog()

	messages, err := w.repo.PullPending(w.batch)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages failed")
		return
	}
	if len(messages) == 0 {
		return
	}

	var sent, failed int
	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		if w.deliver(ctx, msg) {
			sent++
		} else {
			failed++
		}
	}

	w.logger.WithFields(log.Fields{
		"sent":   sent,
		"failed": failed,
	}).Debug("outbox batch drained")

	w.observeBacklog()
}

// deliver публикует одно сообщение с retry и отправкой в DLQ на исходе
// попыток. Возвращает true, если сообщение помечено sent.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	err := w.publishWithRetry(ctx, msg)
	if err == nil {
		if markErr := w.repo.MarkSent(msg.ID); markErr != nil {
			w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("mark outbox sent failed")
		}
		return true
	}

	publishResults.WithLabelValues("failed").Inc()
	w.logger.WithError(err).WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
	}).Error("outbox publish exhausted retries")

	if dlqErr := w.sendToDLQ(msg, err); dlqErr != nil {
		publishResults.WithLabelValues("dlq_failed").Inc()
		w.logger.WithError(dlqErr).WithField("outbox_id", msg.ID).Warn("publish to dlq failed")
	}
	if markErr := w.repo.MarkFailed(msg.ID); markErr != nil {
		w.logger.WithError(markErr).WithField("outbox_id", msg.ID).Warn("mark outbox failed failed")
	}
	return false
}

func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.retries; attempt++ {
		if err := w.pub.Publish(msg); err == nil {
			publishResults.WithLabelValues("sent").Inc()
			return nil
		} else {
			lastErr = err
			publishResults.WithLabelValues("retry_error").Inc()
		}

		if attempt == w.retries {
			break
		}

		delay := w.backoff << (attempt - 1)
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("publish after %d attempts: %w", w.retries, lastErr)
}

func (w *Worker) sendToDLQ(msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"outbox_id":      msg.ID,
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
		"event_type":     msg.EventType,
		"payload":        json.RawMessage(msg.Payload),
		"error":          cause.Error(),
		"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq payload: %w", err)
	}

	dead := msg
	dead.Payload = payload
	if err := w.dlq.Publish(dead); err != nil {
		return fmt.Errorf("publish dlq: %w", err)
	}
	return nil
}

func (w *Worker) observeBacklog() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("collect outbox stats failed")
		return
	}

	pendingBacklog.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(0)
		return
	}
	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	oldestPendingAge.Set(age)
}
