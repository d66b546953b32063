package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
	"github.com/vladislavdragonenkov/ims/internal/service/ledger"
)

// LineRequest — одна запрошенная позиция заказа.
type LineRequest struct {
	ProductCode string
	Quantity    int
}

// CreateResult — созданный заказ плюс предупреждения по отброшенным позициям.
type CreateResult struct {
	Order domain.Order
	// Warnings перечисляет позиции, исключённые из заказа: нерезолвящийся
	// код товара, неактивный товар, нехватка остатка.
	Warnings []domain.LineFailure
}

// Factory создаёт заказы: валидирует запрос, резервирует сток через Ledger,
// фиксирует цены на момент резервирования и сохраняет заказ в статусе pending.
//
// Политика частичного успеха — best-effort: неудавшиеся позиции становятся
// предупреждениями при созданном заказе; только если не прошла НИ ОДНА
// позиция, запрос отклоняется целиком (OrderRejectedError), заказ не
// создаётся и сток не трогается.
type Factory struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	ledger   *ledger.Ledger
	outbox   domain.OutboxRepository
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
	now      func() time.Time
}

// NewFactory создаёт фабрику заказов.
func NewFactory(
	products domain.ProductRepository,
	orders domain.OrderRepository,
	stockLedger *ledger.Ledger,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Factory {
	if logger == nil {
		logger = log.New().WithField("component", "order-factory")
	}
	return &Factory{
		products: products,
		orders:   orders,
		ledger:   stockLedger,
		outbox:   outbox,
		logger:   logger,
		metrics:  metrics.NewOrderMetrics(),
		now:      time.Now,
	}
}

// NewFactoryWithoutMetrics создаёт фабрику без метрик (для тестов).
func NewFactoryWithoutMetrics(
	products domain.ProductRepository,
	orders domain.OrderRepository,
	stockLedger *ledger.Ledger,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Factory {
	f := NewFactory(products, orders, stockLedger, outbox, logger)
	f.metrics = nil
	return f
}

// CreateOrder создаёт заказ для клиента customerID из запрошенных позиций.
func (f *Factory) CreateOrder(customerID string, lines []LineRequest, notes string) (CreateResult, error) {
	start := f.now()

	if customerID == "" {
		return CreateResult{}, domain.ErrCustomerRequired
	}
	if len(lines) == 0 {
		return CreateResult{}, domain.ErrLinesRequired
	}

	now := start.UTC()
	accepted := make([]domain.OrderLine, 0, len(lines))
	var warnings []domain.LineFailure

	for _, req := range lines {
		line, err := f.reserveLine(req, now)
		if err != nil {
			if domain.IsTransient(err) {
				// Инфраструктурный сбой посреди запроса: откатываем уже
				// сделанные резервы и отдаём ошибку наверх для retry.
				f.releaseLines(accepted)
				return CreateResult{}, err
			}
			warnings = append(warnings, domain.LineFailure{
				ProductCode: req.ProductCode,
				Quantity:    req.Quantity,
				Err:         err,
			})
			if f.metrics != nil {
				f.metrics.RecordLineWarning()
			}
			continue
		}
		accepted = append(accepted, line)
	}

	if len(accepted) == 0 {
		f.logger.WithFields(log.Fields{
			"customer_id": customerID,
			"lines":       len(lines),
		}).Warn("order rejected: all lines failed")
		if f.metrics != nil {
			f.metrics.RecordOrderRejected()
		}
		return CreateResult{}, &domain.OrderRejectedError{Failures: warnings}
	}

	number, err := f.nextNumber(now)
	if err != nil {
		f.releaseLines(accepted)
		return CreateResult{}, err
	}

	total := decimal.Zero
	for _, line := range accepted {
		total = total.Add(line.Subtotal())
	}

	order := domain.Order{
		Number:      number,
		CustomerID:  customerID,
		Status:      domain.OrderStatusPending,
		Lines:       accepted,
		TotalAmount: total.Round(2),
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := f.orders.Create(order); err != nil {
		// Заказ не сохранился — резерв без заказа недопустим.
		f.releaseLines(accepted)
		return CreateResult{}, fmt.Errorf("persist order: %w", err)
	}

	f.emitCreated(&order, warnings)
	if f.metrics != nil {
		f.metrics.RecordOrderCreated(f.now().Sub(start))
	}
	f.logger.WithFields(log.Fields{
		"order_number": order.Number,
		"customer_id":  customerID,
		"lines":        len(accepted),
		"warnings":     len(warnings),
		"total":        order.TotalAmount.String(),
	}).Info("order created")

	return CreateResult{Order: order, Warnings: warnings}, nil
}

// reserveLine резолвит товар и резервирует сток под одну позицию.
func (f *Factory) reserveLine(req LineRequest, now time.Time) (domain.OrderLine, error) {
	if req.Quantity <= 0 {
		return domain.OrderLine{}, domain.ErrQuantityInvalid
	}

	product, err := f.products.Get(req.ProductCode)
	if err != nil {
		return domain.OrderLine{}, err
	}
	if !product.Active {
		return domain.OrderLine{}, domain.ErrProductInactive
	}

	if _, err := f.ledger.Reserve(req.ProductCode, req.Quantity); err != nil {
		return domain.OrderLine{}, err
	}

	return domain.OrderLine{
		ID:          uuid.NewString(),
		ProductCode: product.Code,
		ProductName: product.Name,
		Quantity:    req.Quantity,
		// Снимок цены на момент резервирования.
		UnitPrice: product.Price,
	}, nil
}

// releaseLines компенсирует уже выполненные резервы.
func (f *Factory) releaseLines(lines []domain.OrderLine) {
	for _, line := range lines {
		if _, err := f.ledger.Release(line.ProductCode, line.Quantity); err != nil {
			f.logger.WithError(err).WithFields(log.Fields{
				"product_code": line.ProductCode,
				"qty":          line.Quantity,
			}).Error("compensating release failed")
		}
	}
}

// nextNumber выдаёт номер вида ORD-<год>-<NNNN>, монотонный в пределах года.
func (f *Factory) nextNumber(now time.Time) (string, error) {
	seq, err := f.orders.NextNumber(now.Year())
	if err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return fmt.Sprintf("ORD-%d-%04d", now.Year(), seq), nil
}

func (f *Factory) emitCreated(order *domain.Order, warnings []domain.LineFailure) {
	if f.outbox == nil {
		return
	}

	warningTexts := make([]string, 0, len(warnings))
	for _, w := range warnings {
		warningTexts = append(warningTexts, w.String())
	}
	payload, err := json.Marshal(kafka.OrderEvent{
		EventType:   kafka.EventTypeOrderCreated,
		OrderNumber: order.Number,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		Timestamp:   order.CreatedAt,
		Metadata: map[string]interface{}{
			"total_amount": order.TotalAmount.String(),
			"lines":        len(order.Lines),
			"warnings":     warningTexts,
		},
	})
	if err != nil {
		f.logger.WithError(err).WithField("order_number", order.Number).Error("marshal created event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.Number,
		EventType:     string(kafka.EventTypeOrderCreated),
		Payload:       payload,
	}
	if _, err := f.outbox.Enqueue(msg); err != nil {
		f.logger.WithError(err).WithField("order_number", order.Number).Error("enqueue created event failed")
	}
}
