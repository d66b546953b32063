package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, сток зарезервирован, обработка не началась.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — заказ взят в работу.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен; терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён, резерв возвращён на склад; терминальный статус.
	// Запись заказа при этом сохраняется для аудита.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// orderTransitions — таблица легальных переходов статусов.
// Терминальные статусы (delivered, cancelled) исходящих переходов не имеют.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// IsValid сообщает, известен ли статус таблице переходов.
func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// IsTerminal сообщает, является ли статус терминальным.
func (s OrderStatus) IsTerminal() bool {
	targets, ok := orderTransitions[s]
	return ok && len(targets) == 0
}

// CanTransitionTo проверяет легальность перехода s -> target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// AllowedTransitions возвращает отсортированный список легальных целей из статуса s.
func AllowedTransitions(s OrderStatus) []OrderStatus {
	targets := orderTransitions[s]
	result := make([]OrderStatus, len(targets))
	copy(result, targets)
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// OrderLine представляет одну позицию заказа.
type OrderLine struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID          string
	ProductCode string
	ProductName string
	// Quantity — количество зарезервированных единиц, всегда > 0.
	Quantity int
	// UnitPrice — цена за единицу, зафиксированная в момент резервирования.
	// Снимок не меняется при последующих изменениях цены товара.
	UnitPrice decimal.Decimal
}

// Subtotal возвращает стоимость позиции: quantity * unit_price.
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// StatusChange — одна запись в истории статусов заказа.
type StatusChange struct {
	From      OrderStatus
	To        OrderStatus
	ChangedAt time.Time
	Note      string
}

// Order агрегирует состояние заказа, его позиции и историю статусов.
// Заказ никогда не удаляется физически: отмена переводит его в терминальный
// статус cancelled, запись остаётся.
type Order struct {
	// Number — человекочитаемый идентификатор вида ORD-2026-0042,
	// монотонный в пределах года создания.
	Number     string
	CustomerID string
	Status     OrderStatus
	Lines      []OrderLine
	// TotalAmount — сумма subtotals всех позиций, округлённая до 2 знаков.
	TotalAmount decimal.Decimal
	Notes       string
	// History — append-only история переходов статусов.
	History []StatusChange
	// DeliveredAt заполняется при переходе в delivered.
	DeliveredAt *time.Time
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if !o.Status.IsValid() {
		errs = append(errs, ErrStatusUnknown)
	}

	// Сверяем сумму заказа с суммой позиций.
	total := decimal.Zero
	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrQuantityInvalid)
		}
		if line.UnitPrice.IsNegative() {
			errs = append(errs, ErrPriceNegative)
		}
		total = total.Add(line.Subtotal())
	}
	if !total.Round(2).Equal(o.TotalAmount) {
		errs = append(errs, ErrTotalMismatch)
	}

	// История: время монотонно, каждый переход легален,
	// последняя запись соответствует текущему статусу.
	for i, change := range o.History {
		if !change.From.CanTransitionTo(change.To) {
			errs = append(errs, ErrHistoryIllegalTransition)
		}
		if i > 0 && change.ChangedAt.Before(o.History[i-1].ChangedAt) {
			errs = append(errs, ErrHistoryOutOfOrder)
		}
	}
	if len(o.History) > 0 && o.History[len(o.History)-1].To != o.Status {
		errs = append(errs, ErrHistoryStatusMismatch)
	}

	return errs
}
