package ledger

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
)

// AdjustMode задаёт режим относительной корректировки остатка.
type AdjustMode string

const (
	// ModeAdd — прибавить к текущему остатку.
	ModeAdd AdjustMode = "add"
	// ModeSubtract — вычесть из текущего остатка; результат ограничивается нулём.
	ModeSubtract AdjustMode = "subtract"
)

// Ledger — единственная точка мутации остатков товаров. Атомарность
// конкурентных мутаций по одному товару гарантирует ProductRepository
// (guarded-операции); Ledger добавляет валидацию, события и метрики.
type Ledger struct {
	products domain.ProductRepository
	outbox   domain.OutboxRepository
	logger   *log.Entry
	metrics  *metrics.InventoryMetrics
}

// New создаёт рабочий экземпляр склада.
func New(products domain.ProductRepository, outbox domain.OutboxRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "ledger")
	}
	return &Ledger{
		products: products,
		outbox:   outbox,
		logger:   logger,
		metrics:  metrics.NewInventoryMetrics(),
	}
}

// NewWithoutMetrics создаёт склад без метрик (для тестов).
func NewWithoutMetrics(products domain.ProductRepository, outbox domain.OutboxRepository, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "ledger")
	}
	return &Ledger{
		products: products,
		outbox:   outbox,
		logger:   logger,
	}
}

// Reserve атомарно резервирует qty единиц товара под заказ.
// Возвращает новый остаток; при нехватке — InsufficientStockError,
// остаток не меняется.
func (l *Ledger) Reserve(code string, qty int) (int, error) {
	start := time.Now()
	defer l.observe(start)

	if qty <= 0 {
		return 0, domain.ErrQuantityInvalid
	}

	newQty, err := l.products.DecrementStock(code, qty)
	if err != nil {
		if domain.IsInsufficientStock(err) {
			l.logger.WithFields(log.Fields{
				"product_code": code,
				"qty":          qty,
			}).Warn("reservation rejected: insufficient stock")
			if l.metrics != nil {
				l.metrics.RecordReservation("insufficient")
			}
			return 0, err
		}
		l.logger.WithError(err).WithField("product_code", code).Warn("reservation failed")
		if l.metrics != nil {
			l.metrics.RecordReservation("error")
		}
		return 0, err
	}

	if l.metrics != nil {
		l.metrics.RecordReservation("reserved")
	}
	l.emitStockEvent(kafka.StockEvent{
		EventType:   kafka.EventTypeStockReserved,
		ProductCode: code,
		Quantity:    qty,
		Remaining:   newQty,
	})
	return newQty, nil
}

// Release возвращает qty зарезервированных единиц на склад (компенсация отмены).
func (l *Ledger) Release(code string, qty int) (int, error) {
	start := time.Now()
	defer l.observe(start)

	if qty <= 0 {
		return 0, domain.ErrQuantityInvalid
	}

	newQty, err := l.products.IncrementStock(code, qty)
	if err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"product_code": code,
			"qty":          qty,
		}).Warn("release failed")
		return 0, err
	}

	if l.metrics != nil {
		l.metrics.RecordRelease()
	}
	l.emitStockEvent(kafka.StockEvent{
		EventType:   kafka.EventTypeStockReleased,
		ProductCode: code,
		Quantity:    qty,
		Remaining:   newQty,
	})
	return newQty, nil
}

// SetAbsolute выставляет абсолютное значение остатка (инвентаризация).
func (l *Ledger) SetAbsolute(code string, qty int, reason string) (int, error) {
	start := time.Now()
	defer l.observe(start)

	if qty < 0 {
		return 0, domain.ErrStockNegative
	}

	newQty, err := l.products.SetStock(code, qty)
	if err != nil {
		l.logger.WithError(err).WithField("product_code", code).Warn("set stock failed")
		return 0, err
	}

	if l.metrics != nil {
		l.metrics.RecordAdjustment("set")
	}
	l.emitStockEvent(kafka.StockEvent{
		EventType:   kafka.EventTypeStockAdjusted,
		ProductCode: code,
		Quantity:    qty,
		Remaining:   newQty,
		Mode:        "set",
		Reason:      reason,
	})
	l.logger.WithFields(log.Fields{
		"product_code": code,
		"new_quantity": newQty,
		"reason":       reason,
	}).Info("stock set")
	return newQty, nil
}

// AdjustRelative корректирует остаток на qty в указанном режиме.
// В режиме subtract результат ограничивается нулём, остаток не уходит в минус.
func (l *Ledger) AdjustRelative(code string, qty int, mode AdjustMode, reason string) (int, error) {
	start := time.Now()
	defer l.observe(start)

	if qty <= 0 {
		return 0, domain.ErrQuantityInvalid
	}

	var (
		newQty int
		err    error
	)
	switch mode {
	case ModeAdd:
		newQty, err = l.products.IncrementStock(code, qty)
	case ModeSubtract:
		newQty, err = l.products.DecrementStockClamped(code, qty)
	default:
		return 0, domain.ErrUnknownAdjustMode
	}
	if err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"product_code": code,
			"mode":         mode,
		}).Warn("stock adjustment failed")
		return 0, err
	}

	if l.metrics != nil {
		l.metrics.RecordAdjustment(string(mode))
	}
	l.emitStockEvent(kafka.StockEvent{
		EventType:   kafka.EventTypeStockAdjusted,
		ProductCode: code,
		Quantity:    qty,
		Remaining:   newQty,
		Mode:        string(mode),
		Reason:      reason,
	})
	l.logger.WithFields(log.Fields{
		"product_code": code,
		"mode":         mode,
		"qty":          qty,
		"new_quantity": newQty,
		"reason":       reason,
	}).Info("stock adjusted")
	return newQty, nil
}

func (l *Ledger) observe(start time.Time) {
	if l.metrics != nil {
		l.metrics.RecordOpDuration(time.Since(start))
	}
}

func (l *Ledger) emitStockEvent(event kafka.StockEvent) {
	if l.outbox == nil {
		return
	}
	event.Timestamp = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		l.logger.WithError(err).WithField("event", event.EventType).Error("marshal stock event failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: "product",
		AggregateID:   event.ProductCode,
		EventType:     string(event.EventType),
		Payload:       data,
	}
	if _, err := l.outbox.Enqueue(msg); err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"product_code": event.ProductCode,
			"event":        event.EventType,
		}).Error("enqueue stock event failed")
	}
}
