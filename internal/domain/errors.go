package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound возвращается, если товар не найден в репозитории.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductExists — товар с таким кодом уже существует.
	ErrProductExists = errors.New("product code already exists")
	// ErrProductInactive — товар скрыт soft delete и не принимает заказы.
	ErrProductInactive = errors.New("product is inactive")
	// ErrProductHasOpenOrders — удаление товара запрещено, пока на него
	// ссылаются открытые (pending/processing) заказы.
	ErrProductHasOpenOrders = errors.New("product has open orders")
	// Ошибка отсутствующего кода товара.
	ErrProductCodeRequired = errors.New("product code is required")
	// Ошибка отсутствующего названия товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка отрицательной цены.
	ErrPriceNegative = errors.New("price must be non-negative")
	// Ошибка отрицательного остатка.
	ErrStockNegative = errors.New("stock quantity must be non-negative")
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLinesRequired = errors.New("order must contain at least one line")
	// Ошибка при некорректном количестве (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка неизвестного статуса заказа.
	ErrStatusUnknown = errors.New("unknown order status")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match lines sum")
	// Ошибки целостности истории статусов.
	ErrHistoryIllegalTransition = errors.New("status history contains illegal transition")
	ErrHistoryOutOfOrder        = errors.New("status history is not ordered by time")
	ErrHistoryStatusMismatch    = errors.New("status history tail does not match current status")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStoreTimeout — хранилище не уложилось в таймаут; вызывающая сторона
	// может безопасно повторить операцию.
	ErrStoreTimeout = errors.New("store operation timed out")
	// ErrUnknownAdjustMode — неизвестный режим корректировки остатка.
	ErrUnknownAdjustMode = errors.New("unknown stock adjustment mode")
)

// InsufficientStockError — бизнес-ошибка резервирования: запрошено больше,
// чем есть на складе. Остаток при этом не меняется.
type InsufficientStockError struct {
	Code      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.Code, e.Requested, e.Available)
}

// InvalidTransitionError — попытка нелегального перехода статуса.
// Allowed содержит легальные цели из текущего статуса.
type InvalidTransitionError struct {
	From    OrderStatus
	To      OrderStatus
	Allowed []OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q (allowed: %v)",
		e.From, e.To, e.Allowed)
}

// LineFailure описывает одну неудавшуюся позицию при создании заказа.
type LineFailure struct {
	ProductCode string
	Quantity    int
	Err         error
}

func (f LineFailure) String() string {
	return fmt.Sprintf("%s (qty %d): %v", f.ProductCode, f.Quantity, f.Err)
}

// OrderRejectedError возвращается, когда ни одна позиция заказа не прошла:
// заказ не создаётся, резерв не выполняется, все per-line ошибки собраны вместе.
type OrderRejectedError struct {
	Failures []LineFailure
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected: all %d lines failed", len(e.Failures))
}

// IsNotFound проверяет, является ли ошибка отсутствием товара или заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrOrderNotFound)
}

// IsInsufficientStock проверяет, является ли ошибка нехваткой остатка.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// IsInvalidTransition проверяет, является ли ошибка нелегальным переходом статуса.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsTransient проверяет, безопасно ли повторить операцию после этой ошибки.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreTimeout) || errors.Is(err, context.DeadlineExceeded)
}
