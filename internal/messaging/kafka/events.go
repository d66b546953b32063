package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Stock события
	EventTypeStockReserved EventType = "stock.reserved"
	EventTypeStockReleased EventType = "stock.released"
	EventTypeStockAdjusted EventType = "stock.adjusted"

	// Order события
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderCancelled     EventType = "order.cancelled"
	EventTypeOrderDelivered     EventType = "order.delivered"
)

// Topics для Kafka
const (
	TopicStockEvents     = "ims.stock.events"
	TopicOrderEvents     = "ims.order.events"
	TopicDeadLetterQueue = "ims.dlq"
)

// StockEvent представляет движение остатка по товару
type StockEvent struct {
	EventType   EventType `json:"event_type"`
	ProductCode string    `json:"product_code"`
	Quantity    int       `json:"quantity"`
	Remaining   int       `json:"remaining"`
	Mode        string    `json:"mode,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType   EventType              `json:"event_type"`
	OrderNumber string                 `json:"order_number"`
	CustomerID  string                 `json:"customer_id"`
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
