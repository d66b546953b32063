package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu        sync.RWMutex
	items     map[string]domain.Order
	sequences map[int]int64
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:     make(map[string]domain.Order),
		sequences: make(map[int]int64),
	}
}

// Create сохраняет новый заказ, если номер ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.Number]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.items[order.Number] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(number string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[number]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// List возвращает заказы по фильтру, новые первыми.
func (r *orderRepositoryInMemory) List(filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Number > result[j].Number
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Save перезаписывает заказ с проверкой версии (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.Number]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	r.items[order.Number] = cloneOrder(order)
	return nil
}

// NextNumber выдаёт следующий номер в последовательности года.
func (r *orderRepositoryInMemory) NextNumber(year int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequences[year]++
	return r.sequences[year], nil
}

// SalesSince агрегирует продажи по товарам из заказов, подходящих под период и статусы.
func (r *orderRepositoryInMemory) SalesSince(since time.Time, statuses []domain.OrderStatus) ([]domain.ProductSales, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	allowed := make(map[domain.OrderStatus]struct{}, len(statuses))
	for _, s := range statuses {
		allowed[s] = struct{}{}
	}

	type bucket struct {
		qty     int
		revenue decimal.Decimal
		orders  map[string]struct{}
	}
	buckets := make(map[string]*bucket)

	for _, order := range r.items {
		if !since.IsZero() && order.CreatedAt.Before(since) {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[order.Status]; !ok {
				continue
			}
		}
		for _, line := range order.Lines {
			b, ok := buckets[line.ProductCode]
			if !ok {
				b = &bucket{orders: make(map[string]struct{})}
				buckets[line.ProductCode] = b
			}
			b.qty += line.Quantity
			b.revenue = b.revenue.Add(line.Subtotal())
			b.orders[order.Number] = struct{}{}
		}
	}

	result := make([]domain.ProductSales, 0, len(buckets))
	for code, b := range buckets {
		result = append(result, domain.ProductSales{
			ProductCode: code,
			Quantity:    b.qty,
			Revenue:     b.revenue,
			Orders:      len(b.orders),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ProductCode < result[j].ProductCode
	})
	return result, nil
}

// CountOpenByProduct считает незакрытые заказы, ссылающиеся на товар.
func (r *orderRepositoryInMemory) CountOpenByProduct(code string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, order := range r.items {
		if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusProcessing {
			continue
		}
		for _, line := range order.Lines {
			if line.ProductCode == code {
				count++
				break
			}
		}
	}
	return count, nil
}

// cloneOrder копирует заказ вместе со слайсами, чтобы мутации снаружи
// не задевали хранимую версию.
func cloneOrder(order domain.Order) domain.Order {
	clone := order
	clone.Lines = append([]domain.OrderLine(nil), order.Lines...)
	clone.History = append([]domain.StatusChange(nil), order.History...)
	if order.DeliveredAt != nil {
		at := *order.DeliveredAt
		clone.DeliveredAt = &at
	}
	return clone
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
