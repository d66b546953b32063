package orders_test

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ims/internal/domain"
	"github.com/vladislavdragonenkov/ims/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ims/internal/service/ledger"
	"github.com/vladislavdragonenkov/ims/internal/service/orders"
	"github.com/vladislavdragonenkov/ims/internal/storage/memory"
)

type ordersFixture struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	outbox   domain.OutboxRepository
	ledger   *ledger.Ledger
	factory  *orders.Factory
	machine  *orders.StateMachine
}

func newOrdersFixture(t *testing.T, catalog ...domain.Product) *ordersFixture {
	t.Helper()

	products := memory.NewProductRepository()
	for _, p := range catalog {
		if p.Name == "" {
			p.Name = "Product " + p.Code
		}
		require.NoError(t, products.Create(p))
	}

	orderRepo := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	stockLedger := ledger.NewWithoutMetrics(products, outbox, nil)

	return &ordersFixture{
		products: products,
		orders:   orderRepo,
		outbox:   outbox,
		ledger:   stockLedger,
		factory:  orders.NewFactoryWithoutMetrics(products, orderRepo, stockLedger, outbox, nil),
		machine:  orders.NewStateMachineWithoutMetrics(orderRepo, stockLedger, outbox, nil),
	}
}

func (f *ordersFixture) stock(t *testing.T, code string) int {
	t.Helper()
	p, err := f.products.Get(code)
	require.NoError(t, err)
	return p.StockQuantity
}

// orderEvents возвращает ожидающие outbox-сообщения агрегата order.
func (f *ordersFixture) orderEvents(t *testing.T) []domain.OutboxMessage {
	t.Helper()
	pending, err := f.outbox.PullPending(100)
	require.NoError(t, err)
	events := pending[:0:0]
	for _, msg := range pending {
		if msg.AggregateType == "order" {
			events = append(events, msg)
		}
	}
	return events
}

func activeProduct(code string, stock int, price float64) domain.Product {
	return domain.Product{
		Code:          code,
		Name:          "Product " + code,
		Category:      domain.CategoryInterior,
		Price:         decimal.NewFromFloat(price),
		StockQuantity: stock,
		Active:        true,
	}
}

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{4}-\d{4}$`)

func TestCreateOrder(t *testing.T) {
	f := newOrdersFixture(t,
		activeProduct("INT-1", 10, 12.50),
		activeProduct("EXT-1", 5, 30.00),
	)

	result, err := f.factory.CreateOrder("customer-1", []orders.LineRequest{
		{ProductCode: "INT-1", Quantity: 2},
		{ProductCode: "EXT-1", Quantity: 1},
	}, "first order")
	require.NoError(t, err)
	require.Empty(t, result.Warnings)

	order := result.Order
	require.Regexp(t, orderNumberPattern, order.Number)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Len(t, order.Lines, 2)
	require.True(t, order.TotalAmount.Equal(decimal.NewFromFloat(55.00)), "total = %s", order.TotalAmount)
	require.Equal(t, "first order", order.Notes)

	// Сток зарезервирован.
	require.Equal(t, 8, f.stock(t, "INT-1"))
	require.Equal(t, 4, f.stock(t, "EXT-1"))

	// Заказ сохранён и проходит проверку инвариантов.
	stored, err := f.orders.Get(order.Number)
	require.NoError(t, err)
	require.Empty(t, stored.ValidateInvariants())
}

func TestCreateOrderPartialSuccess(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))

	result, err := f.factory.CreateOrder("customer-1", []orders.LineRequest{
		{ProductCode: "INT-1", Quantity: 3},
		{ProductCode: "MISSING", Quantity: 1},
	}, "")
	require.NoError(t, err)

	require.Len(t, result.Order.Lines, 1)
	require.Len(t, result.Warnings, 1)
	require.Equal(t, "MISSING", result.Warnings[0].ProductCode)
	require.ErrorIs(t, result.Warnings[0].Err, domain.ErrProductNotFound)
	require.True(t, result.Order.TotalAmount.Equal(decimal.NewFromFloat(30.00)))
	require.Equal(t, 7, f.stock(t, "INT-1"))
}

func TestCreateOrderInsufficientStockBecomesWarning(t *testing.T) {
	f := newOrdersFixture(t,
		activeProduct("INT-1", 10, 10.00),
		activeProduct("EXT-1", 2, 5.00),
	)

	result, err := f.factory.CreateOrder("customer-1", []orders.LineRequest{
		{ProductCode: "INT-1", Quantity: 1},
		{ProductCode: "EXT-1", Quantity: 50},
	}, "")
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.True(t, domain.IsInsufficientStock(result.Warnings[0].Err))

	// Остаток неудавшейся позиции не тронут.
	require.Equal(t, 2, f.stock(t, "EXT-1"))
}

func TestCreateOrderAllLinesFailed(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 2, 10.00))

	_, err := f.factory.CreateOrder("customer-1", []orders.LineRequest{
		{ProductCode: "INT-1", Quantity: 100},
		{ProductCode: "MISSING", Quantity: 1},
	}, "")

	var rejected *domain.OrderRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Len(t, rejected.Failures, 2)

	// Заказ не создан, сток не тронут.
	list, listErr := f.orders.List(domain.OrderFilter{})
	require.NoError(t, listErr)
	require.Empty(t, list)
	require.Equal(t, 2, f.stock(t, "INT-1"))
}

func TestCreateOrderValidation(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))

	_, err := f.factory.CreateOrder("", []orders.LineRequest{{ProductCode: "INT-1", Quantity: 1}}, "")
	require.ErrorIs(t, err, domain.ErrCustomerRequired)

	_, err = f.factory.CreateOrder("customer-1", nil, "")
	require.ErrorIs(t, err, domain.ErrLinesRequired)
}

func TestCreateOrderInactiveProduct(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))
	require.NoError(t, f.products.SoftDelete("INT-1"))

	_, err := f.factory.CreateOrder("customer-1", []orders.LineRequest{
		{ProductCode: "INT-1", Quantity: 1},
	}, "")

	var rejected *domain.OrderRejectedError
	require.ErrorAs(t, err, &rejected)
	require.ErrorIs(t, rejected.Failures[0].Err, domain.ErrProductInactive)
	require.Equal(t, 10, f.stock(t, "INT-1"))
}

func TestCreateOrderPriceSnapshot(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 10.00))

	result, err := f.factory.CreateOrder("customer-1", []orders.LineRequest{
		{ProductCode: "INT-1", Quantity: 1},
	}, "")
	require.NoError(t, err)

	// Цена меняется после создания заказа.
	p, err := f.products.Get("INT-1")
	require.NoError(t, err)
	p.Price = decimal.NewFromFloat(99.00)
	require.NoError(t, f.products.Update(p))

	stored, err := f.orders.Get(result.Order.Number)
	require.NoError(t, err)
	require.True(t, stored.Lines[0].UnitPrice.Equal(decimal.NewFromFloat(10.00)),
		"line must keep the price snapshot, got %s", stored.Lines[0].UnitPrice)
	require.True(t, stored.TotalAmount.Equal(decimal.NewFromFloat(10.00)))
}

func TestCreateOrderEmitsEvent(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 10, 12.50))

	result, err := f.factory.CreateOrder("customer-1", []orders.LineRequest{
		{ProductCode: "INT-1", Quantity: 2},
		{ProductCode: "MISSING", Quantity: 1},
	}, "")
	require.NoError(t, err)

	events := f.orderEvents(t)
	require.Len(t, events, 1)
	require.Equal(t, string(kafka.EventTypeOrderCreated), events[0].EventType)
	require.Equal(t, result.Order.Number, events[0].AggregateID)

	var event kafka.OrderEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &event))
	require.Equal(t, kafka.EventTypeOrderCreated, event.EventType)
	require.Equal(t, result.Order.Number, event.OrderNumber)
	require.Equal(t, "customer-1", event.CustomerID)
	require.Equal(t, string(domain.OrderStatusPending), event.Status)
	require.Equal(t, result.Order.TotalAmount.String(), event.Metadata["total_amount"])
	// Отброшенная позиция попадает в метаданные события.
	require.Len(t, event.Metadata["warnings"], 1)
}

func TestCreateOrderNumbersAreMonotonic(t *testing.T) {
	f := newOrdersFixture(t, activeProduct("INT-1", 100, 10.00))

	first, err := f.factory.CreateOrder("customer-1", []orders.LineRequest{{ProductCode: "INT-1", Quantity: 1}}, "")
	require.NoError(t, err)
	second, err := f.factory.CreateOrder("customer-2", []orders.LineRequest{{ProductCode: "INT-1", Quantity: 1}}, "")
	require.NoError(t, err)

	require.NotEqual(t, first.Order.Number, second.Order.Number)
	require.Less(t, first.Order.Number, second.Order.Number)
}
