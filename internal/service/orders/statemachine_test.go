package orders_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ims/internal/service/orders"
)

func createPendingOrder(t *testing.T, f *ordersFixture, lines ...orders.LineRequest) domain.Order {
	t.Helper()
	result, err := f.factory.CreateOrder("customer-1", lines, "")
	require.NoError(t, err)
	require.Empty(t, result.Warnings)
	return result.Order
}

func TestTransitionHappyPath(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))
	order := createPendingOrder(t, f, orders.LineRequest{ProductCode: "INT-1", Quantity: 2})

	order, err := f.machine.Transition(order.Number, domain.OrderStatusProcessing, "picked up")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, order.Status)
	require.Len(t, order.History, 1)
	require.Equal(t, domain.OrderStatusPending, order.History[0].From)
	require.Equal(t, "picked up", order.History[0].Note)

	order, err = f.machine.Transition(order.Number, domain.OrderStatusShipped, "")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusShipped, order.Status)

	order, err = f.machine.Transition(order.Number, domain.OrderStatusDelivered, "")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, order.Status)
	require.NotNil(t, order.DeliveredAt)
	require.Len(t, order.History, 3)

	// Переходы зафиксированы в хранилище и инварианты соблюдены.
	stored, err := f.orders.Get(order.Number)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, stored.Status)
	require.Empty(t, stored.ValidateInvariants())
	require.Equal(t, int64(3), stored.Version)
}

func TestTransitionCancellationRestoresStock(t *testing.T) {
	f := newOrdersFixture(t,
		activeProduct("INT-1", 10, 10.00),
		activeProduct("EXT-1", 5, 20.00),
	)
	order := createPendingOrder(t, f,
		orders.LineRequest{ProductCode: "INT-1", Quantity: 3},
		orders.LineRequest{ProductCode: "EXT-1", Quantity: 2},
	)
	require.Equal(t, 7, f.stock(t, "INT-1"))
	require.Equal(t, 3, f.stock(t, "EXT-1"))

	order, err := f.machine.Transition(order.Number, domain.OrderStatusCancelled, "customer changed mind")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, order.Status)

	// Резерв вернулся по каждой позиции.
	require.Equal(t, 10, f.stock(t, "INT-1"))
	require.Equal(t, 5, f.stock(t, "EXT-1"))

	// Запись заказа остаётся для аудита.
	stored, err := f.orders.Get(order.Number)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, stored.Status)
}

func TestTransitionEmitsEvents(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))
	order := createPendingOrder(t, f, orders.LineRequest{ProductCode: "INT-1", Quantity: 1})

	_, err := f.machine.Transition(order.Number, domain.OrderStatusProcessing, "")
	require.NoError(t, err)
	_, err = f.machine.Transition(order.Number, domain.OrderStatusShipped, "")
	require.NoError(t, err)
	_, err = f.machine.Transition(order.Number, domain.OrderStatusDelivered, "signed by courier")
	require.NoError(t, err)

	events := f.orderEvents(t)
	require.Len(t, events, 4)

	types := make([]string, 0, len(events))
	for _, msg := range events {
		types = append(types, msg.EventType)
	}
	require.ElementsMatch(t, []string{
		string(kafka.EventTypeOrderCreated),
		string(kafka.EventTypeOrderStatusChanged),
		string(kafka.EventTypeOrderStatusChanged),
		string(kafka.EventTypeOrderDelivered),
	}, types)

	var delivered kafka.OrderEvent
	for _, msg := range events {
		if msg.EventType == string(kafka.EventTypeOrderDelivered) {
			require.NoError(t, json.Unmarshal(msg.Payload, &delivered))
		}
	}
	require.Equal(t, order.Number, delivered.OrderNumber)
	require.Equal(t, string(domain.OrderStatusDelivered), delivered.Status)
	require.Equal(t, string(domain.OrderStatusShipped), delivered.Metadata["from"])
	require.Equal(t, "signed by courier", delivered.Metadata["note"])
}

func TestTransitionCancelEmitsCancelledEvent(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))
	order := createPendingOrder(t, f, orders.LineRequest{ProductCode: "INT-1", Quantity: 1})

	_, err := f.machine.Transition(order.Number, domain.OrderStatusCancelled, "customer changed mind")
	require.NoError(t, err)

	var event kafka.OrderEvent
	found := false
	for _, msg := range f.orderEvents(t) {
		if msg.EventType == string(kafka.EventTypeOrderCancelled) {
			require.NoError(t, json.Unmarshal(msg.Payload, &event))
			found = true
		}
	}
	require.True(t, found, "cancelled event must reach the outbox")
	require.Equal(t, kafka.EventTypeOrderCancelled, event.EventType)
	require.Equal(t, order.Number, event.OrderNumber)
	require.Equal(t, string(domain.OrderStatusPending), event.Metadata["from"])
}

func TestTransitionIllegal(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))
	order := createPendingOrder(t, f, orders.LineRequest{ProductCode: "INT-1", Quantity: 1})

	_, err := f.machine.Transition(order.Number, domain.OrderStatusDelivered, "")
	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, domain.OrderStatusPending, invalid.From)
	require.Equal(t, domain.OrderStatusDelivered, invalid.To)
	require.Equal(t,
		[]domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusProcessing},
		invalid.Allowed)

	// Заказ не изменился.
	stored, getErr := f.orders.Get(order.Number)
	require.NoError(t, getErr)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
	require.Empty(t, stored.History)
}

func TestTransitionFromTerminalStatus(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))
	order := createPendingOrder(t, f, orders.LineRequest{ProductCode: "INT-1", Quantity: 2})

	_, err := f.machine.Transition(order.Number, domain.OrderStatusCancelled, "")
	require.NoError(t, err)
	require.Equal(t, 10, f.stock(t, "INT-1"))

	before, err := f.orders.Get(order.Number)
	require.NoError(t, err)

	// Повторная отмена отсекается до мутации стока: release не задваивается.
	_, err = f.machine.Transition(order.Number, domain.OrderStatusCancelled, "")
	require.True(t, domain.IsInvalidTransition(err))
	require.Equal(t, 10, f.stock(t, "INT-1"))

	// Запись заказа не изменилась целиком, а не только статус.
	after, err := f.orders.Get(order.Number)
	require.NoError(t, err)
	require.Equal(t, before.Status, after.Status)
	require.Equal(t, before.Version, after.Version)
	require.Len(t, after.History, len(before.History))
	require.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestTransitionFromDelivered(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))
	order := createPendingOrder(t, f, orders.LineRequest{ProductCode: "INT-1", Quantity: 2})

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered,
	} {
		_, err := f.machine.Transition(order.Number, status, "")
		require.NoError(t, err)
	}

	before, err := f.orders.Get(order.Number)
	require.NoError(t, err)

	// Доставленный заказ терминален: ни отмена, ни откат не проходят.
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusCancelled, domain.OrderStatusProcessing,
	} {
		_, err := f.machine.Transition(order.Number, status, "")
		require.True(t, domain.IsInvalidTransition(err))
	}

	after, err := f.orders.Get(order.Number)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, 8, f.stock(t, "INT-1"))
}

func TestTransitionUnknownStatus(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))
	order := createPendingOrder(t, f, orders.LineRequest{ProductCode: "INT-1", Quantity: 1})

	_, err := f.machine.Transition(order.Number, domain.OrderStatus("refunded"), "")
	require.ErrorIs(t, err, domain.ErrStatusUnknown)
}

func TestTransitionOrderNotFound(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))

	_, err := f.machine.Transition("ORD-2026-9999", domain.OrderStatusProcessing, "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestTransitionRetriesOnVersionConflict(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))
	order := createPendingOrder(t, f, orders.LineRequest{ProductCode: "INT-1", Quantity: 1})

	// Конкурентное сохранение устаревает перед Save state machine один раз:
	// перечитывание должно привести переход к успеху от свежей версии.
	conflicting := &conflictOnFirstSave{OrderRepository: f.orders}
	machine := orders.NewStateMachineWithoutMetrics(conflicting, f.ledger, nil, nil)

	got, err := machine.Transition(order.Number, domain.OrderStatusProcessing, "")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, got.Status)
	require.Equal(t, 2, conflicting.calls)
}

// conflictOnFirstSave подсовывает конфликт версии на первом Save.
type conflictOnFirstSave struct {
	domain.OrderRepository
	calls int
}

func (r *conflictOnFirstSave) Save(order domain.Order) error {
	r.calls++
	if r.calls == 1 {
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(order)
}
