package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// productRepositoryInMemory — in-memory реализация ProductRepository.
// Все guarded-операции со стоком выполняются под общим мьютексом, так что
// проверка остатка и запись нового значения неразделимы.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
	}
}

// Create сохраняет новый товар, если код ещё не занят.
func (r *productRepositoryInMemory) Create(p domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[p.Code]; exists {
		return domain.ErrProductExists
	}
	r.items[p.Code] = p
	return nil
}

// Get возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(code string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[code]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// List возвращает товары по фильтру, отсортированные по коду.
func (r *productRepositoryInMemory) List(filter domain.ProductFilter) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, p := range r.items {
		if !filter.Matches(p) {
			continue
		}
		result = append(result, p)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Code < result[j].Code
	})
	return result, nil
}

// Update перезаписывает атрибуты товара, сохраняя текущий остаток:
// сток меняется только guarded-операциями.
func (r *productRepositoryInMemory) Update(p domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[p.Code]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.StockQuantity = current.StockQuantity
	p.CreatedAt = current.CreatedAt
	r.items[p.Code] = p
	return nil
}

// SoftDelete снимает флаг Active, запись остаётся.
func (r *productRepositoryInMemory) SoftDelete(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[code]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.Active = false
	p.UpdatedAt = time.Now().UTC()
	r.items[code] = p
	return nil
}

// HardDelete удаляет запись безвозвратно.
func (r *productRepositoryInMemory) HardDelete(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[code]; !ok {
		return domain.ErrProductNotFound
	}
	delete(r.items, code)
	return nil
}

// DecrementStock атомарно уменьшает остаток, если его хватает.
func (r *productRepositoryInMemory) DecrementStock(code string, qty int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[code]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	if p.StockQuantity < qty {
		return p.StockQuantity, &domain.InsufficientStockError{
			Code:      code,
			Requested: qty,
			Available: p.StockQuantity,
		}
	}
	p.StockQuantity -= qty
	p.UpdatedAt = time.Now().UTC()
	r.items[code] = p
	return p.StockQuantity, nil
}

// DecrementStockClamped уменьшает остаток, ограничивая результат нулём.
func (r *productRepositoryInMemory) DecrementStockClamped(code string, qty int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[code]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	p.StockQuantity -= qty
	if p.StockQuantity < 0 {
		p.StockQuantity = 0
	}
	p.UpdatedAt = time.Now().UTC()
	r.items[code] = p
	return p.StockQuantity, nil
}

// IncrementStock увеличивает остаток.
func (r *productRepositoryInMemory) IncrementStock(code string, qty int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[code]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	p.StockQuantity += qty
	p.UpdatedAt = time.Now().UTC()
	r.items[code] = p
	return p.StockQuantity, nil
}

// SetStock выставляет абсолютное значение остатка.
func (r *productRepositoryInMemory) SetStock(code string, qty int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[code]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	p.StockQuantity = qty
	p.UpdatedAt = time.Now().UTC()
	r.items[code] = p
	return p.StockQuantity, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
