package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductRepository описывает требования к хранилищу товаров.
//
// Guarded-операции со стоком (DecrementStock и родственные) обязаны быть
// атомарными относительно чтения текущего остатка: две конкурентные
// резервации не могут обе пройти, если их суммарное количество превышает
// остаток. Реализация — либо single-writer сериализация по товару (in-memory
// мьютекс), либо условный UPDATE на уровне хранилища. Наивный read-then-write
// здесь — ошибка корректности.
type ProductRepository interface {
	// Create сохраняет новый товар. Возвращает ErrProductExists при дубликате кода.
	Create(p Product) error
	// Get возвращает товар по коду или ErrProductNotFound.
	Get(code string) (Product, error)
	// List возвращает товары, проходящие фильтр, отсортированные по коду.
	List(filter ProductFilter) ([]Product, error)
	// Update перезаписывает атрибуты товара. Остаток меняется только
	// guarded-операциями ниже.
	Update(p Product) error
	// SoftDelete помечает товар неактивным, сохраняя запись.
	SoftDelete(code string) error
	// HardDelete удаляет товар безвозвратно.
	HardDelete(code string) error

	// DecrementStock атомарно уменьшает остаток на qty, но только если
	// remaining >= 0; иначе возвращает InsufficientStockError, остаток не меняется.
	// Возвращает новый остаток и обновляет updated_at товара.
	DecrementStock(code string, qty int) (int, error)
	// DecrementStockClamped уменьшает остаток на qty, ограничивая результат нулём.
	DecrementStockClamped(code string, qty int) (int, error)
	// IncrementStock увеличивает остаток на qty.
	IncrementStock(code string, qty int) (int, error)
	// SetStock выставляет абсолютное значение остатка.
	SetStock(code string, qty int) (int, error)
}

// OrderFilter ограничивает выборку заказов.
type OrderFilter struct {
	Status     OrderStatus
	CustomerID string
	// Limit > 0 ограничивает число записей.
	Limit int
}

// ProductSales — агрегат продаж по товару за период.
type ProductSales struct {
	ProductCode string
	Quantity    int
	Revenue     decimal.Decimal
	Orders      int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если номер уже занят.
	Create(order Order) error
	// Get возвращает заказ по номеру или ErrOrderNotFound.
	Get(number string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(filter OrderFilter) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// при несовпадении версии возвращает ErrOrderVersionConflict.
	Save(order Order) error
	// NextNumber выдаёт следующее значение монотонной последовательности
	// номеров заказов для указанного года.
	NextNumber(year int) (int64, error)
	// SalesSince агрегирует продажи по товарам из заказов, созданных после
	// since (нулевое время — без ограничения) в одном из указанных статусов
	// (пустой список — любой статус).
	SalesSince(since time.Time, statuses []OrderStatus) ([]ProductSales, error)
	// CountOpenByProduct считает открытые (pending/processing) заказы,
	// ссылающиеся на товар.
	CountOpenByProduct(code string) (int, error)
}
