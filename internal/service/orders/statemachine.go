package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ims/internal/metrics"
	"github.com/vladislavdragonenkov/ims/internal/service/ledger"
)

const (
	saveMaxRetries = 3
	saveBaseDelay  = 10 * time.Millisecond
)

// StateMachine выполняет переходы статусов заказа по таблице из domain.
//
// Сохранение статуса идёт через optimistic locking: при конфликте версии
// заказ перечитывается и легальность перехода проверяется заново от свежего
// статуса. Поэтому повторная отмена гарантированно проигрывает до того, как
// тронут сток: победивший переход один, release выполняется ровно один раз.
type StateMachine struct {
	orders  domain.OrderRepository
	ledger  *ledger.Ledger
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.OrderMetrics
	now     func() time.Time
}

// NewStateMachine создаёт state machine заказов.
func NewStateMachine(
	orders domain.OrderRepository,
	stockLedger *ledger.Ledger,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *StateMachine {
	if logger == nil {
		logger = log.New().WithField("component", "order-state-machine")
	}
	return &StateMachine{
		orders:  orders,
		ledger:  stockLedger,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics.NewOrderMetrics(),
		now:     time.Now,
	}
}

// NewStateMachineWithoutMetrics создаёт state machine без метрик (для тестов).
func NewStateMachineWithoutMetrics(
	orders domain.OrderRepository,
	stockLedger *ledger.Ledger,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *StateMachine {
	m := NewStateMachine(orders, stockLedger, outbox, logger)
	m.metrics = nil
	return m
}

// Transition переводит заказ в статус target.
//
// Нелегальный переход возвращает InvalidTransitionError со списком легальных
// целей, заказ при этом не меняется. Отсутствующий заказ — ErrOrderNotFound.
// Побочные эффекты зафиксированного перехода: cancelled возвращает резерв по
// каждой позиции, delivered проставляет время доставки; каждый переход
// добавляет запись в историю и обновляет updated_at.
func (m *StateMachine) Transition(number string, target domain.OrderStatus, note string) (domain.Order, error) {
	if !target.IsValid() {
		return domain.Order{}, domain.ErrStatusUnknown
	}

	for attempt := 0; attempt < saveMaxRetries; attempt++ {
		order, err := m.orders.Get(number)
		if err != nil {
			return domain.Order{}, err
		}

		if !order.Status.CanTransitionTo(target) {
			return order, &domain.InvalidTransitionError{
				From:    order.Status,
				To:      target,
				Allowed: domain.AllowedTransitions(order.Status),
			}
		}

		from := order.Status
		now := m.now().UTC()
		prevVersion := order.Version

		order.Status = target
		order.UpdatedAt = now
		if target == domain.OrderStatusDelivered {
			order.DeliveredAt = &now
		}
		order.History = append(order.History, domain.StatusChange{
			From:      from,
			To:        target,
			ChangedAt: now,
			Note:      note,
		})

		if err := m.orders.Save(order); err != nil {
			if domain.IsVersionConflict(err) && attempt < saveMaxRetries-1 {
				m.logger.WithFields(log.Fields{
					"order_number": number,
					"attempt":      attempt + 1,
				}).Warn("version conflict on transition, retrying")
				time.Sleep(saveBaseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			return domain.Order{}, fmt.Errorf("persist transition: %w", err)
		}
		order.Version = prevVersion + 1

		if m.metrics != nil {
			m.metrics.RecordTransition(string(target))
		}
		m.logger.WithFields(log.Fields{
			"order_number": number,
			"from":         from,
			"to":           target,
		}).Info("order transitioned")

		if target == domain.OrderStatusCancelled {
			if err := m.restoreStock(&order); err != nil {
				// Статус уже зафиксирован; возвращаем заказ вместе с ошибкой,
				// чтобы вызывающая сторона могла повторить release.
				return order, err
			}
		}

		m.emitTransition(&order, from, note)
		return order, nil
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

// restoreStock возвращает резерв по каждой позиции отменённого заказа.
// Вызывается ровно один раз на отмену: повторный переход из терминального
// статуса отсекается таблицей переходов до мутации стока.
func (m *StateMachine) restoreStock(order *domain.Order) error {
	var errs []error
	for _, line := range order.Lines {
		if _, err := m.ledger.Release(line.ProductCode, line.Quantity); err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"order_number": order.Number,
				"product_code": line.ProductCode,
				"qty":          line.Quantity,
			}).Error("stock release on cancellation failed")
			errs = append(errs, fmt.Errorf("release %s: %w", line.ProductCode, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("order %s cancelled with incomplete stock release: %w",
			order.Number, errors.Join(errs...))
	}
	return nil
}

func (m *StateMachine) emitTransition(order *domain.Order, from domain.OrderStatus, note string) {
	if m.outbox == nil {
		return
	}

	eventType := kafka.EventTypeOrderStatusChanged
	switch order.Status {
	case domain.OrderStatusCancelled:
		eventType = kafka.EventTypeOrderCancelled
	case domain.OrderStatusDelivered:
		eventType = kafka.EventTypeOrderDelivered
	}

	payload, err := json.Marshal(kafka.OrderEvent{
		EventType:   eventType,
		OrderNumber: order.Number,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		Timestamp:   order.UpdatedAt,
		Metadata: map[string]interface{}{
			"from": string(from),
			"note": note,
		},
	})
	if err != nil {
		m.logger.WithError(err).WithField("order_number", order.Number).Error("marshal transition event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.Number,
		EventType:     string(eventType),
		Payload:       payload,
	}
	if _, err := m.outbox.Enqueue(msg); err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"order_number": order.Number,
			"event":        eventType,
		}).Error("enqueue transition event failed")
	}
}
