package memory

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

func seedProduct(t *testing.T, repo domain.ProductRepository, code string, stock int) {
	t.Helper()
	err := repo.Create(domain.Product{
		Code:          code,
		Name:          "Product " + code,
		Category:      domain.CategoryInterior,
		Price:         decimal.NewFromFloat(10.00),
		StockQuantity: stock,
		Active:        true,
	})
	if err != nil {
		t.Fatalf("seed product %s: %v", code, err)
	}
}

func TestProductRepositoryCreateAndGet(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, "INT-1", 10)

	got, err := repo.Get("INT-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StockQuantity != 10 || !got.Active {
		t.Fatalf("unexpected product state: %+v", got)
	}

	if err := repo.Create(domain.Product{Code: "INT-1", Name: "dup"}); !errors.Is(err, domain.ErrProductExists) {
		t.Fatalf("duplicate create: got %v, want %v", err, domain.ErrProductExists)
	}

	if _, err := repo.Get("MISSING"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("get missing: got %v, want %v", err, domain.ErrProductNotFound)
	}
}

func TestProductRepositoryListSortedAndFiltered(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, "B-2", 0)
	seedProduct(t, repo, "A-1", 5)
	seedProduct(t, repo, "C-3", 7)
	if err := repo.SoftDelete("C-3"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	all, err := repo.List(domain.ProductFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].Code != "A-1" || all[1].Code != "B-2" || all[2].Code != "C-3" {
		t.Fatalf("expected sorted list of 3, got %+v", all)
	}

	active, err := repo.List(domain.ProductFilter{OnlyActive: true, InStockOnly: true})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(active) != 1 || active[0].Code != "A-1" {
		t.Fatalf("expected only A-1, got %+v", active)
	}
}

func TestProductRepositoryUpdatePreservesStock(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, "INT-1", 10)

	updated := domain.Product{
		Code:          "INT-1",
		Name:          "Renamed",
		Category:      domain.CategoryExterior,
		Price:         decimal.NewFromFloat(20.00),
		StockQuantity: 999, // должно игнорироваться
		Active:        true,
	}
	if err := repo.Update(updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.Get("INT-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Renamed" {
		t.Fatalf("name not updated: %+v", got)
	}
	if got.StockQuantity != 10 {
		t.Fatalf("stock must not change via Update: got %d, want 10", got.StockQuantity)
	}
}

func TestProductRepositoryDecrementStock(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, "INT-1", 10)

	left, err := repo.DecrementStock("INT-1", 7)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if left != 3 {
		t.Fatalf("remaining = %d, want 3", left)
	}

	left, err = repo.DecrementStock("INT-1", 5)
	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.Requested != 5 || insufficient.Available != 3 {
		t.Fatalf("unexpected error details: %+v", insufficient)
	}
	if left != 3 {
		t.Fatalf("stock must stay untouched after failed decrement, got %d", left)
	}

	if _, err := repo.DecrementStock("MISSING", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("decrement missing: got %v, want %v", err, domain.ErrProductNotFound)
	}
}

func TestProductRepositoryDecrementStockConcurrent(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, "INT-1", 10)

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DecrementStock("INT-1", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("exactly 10 reservations must win, got %d", succeeded)
	}
	got, err := repo.Get("INT-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StockQuantity != 0 {
		t.Fatalf("stock must end at 0, got %d", got.StockQuantity)
	}
}

func TestProductRepositoryDecrementStockClamped(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, "INT-1", 3)

	left, err := repo.DecrementStockClamped("INT-1", 10)
	if err != nil {
		t.Fatalf("clamped decrement: %v", err)
	}
	if left != 0 {
		t.Fatalf("clamped decrement must floor at 0, got %d", left)
	}
}

func TestProductRepositoryIncrementAndSetStock(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, "INT-1", 3)

	if got, err := repo.IncrementStock("INT-1", 4); err != nil || got != 7 {
		t.Fatalf("increment: got (%d, %v), want (7, nil)", got, err)
	}
	if got, err := repo.SetStock("INT-1", 50); err != nil || got != 50 {
		t.Fatalf("set stock: got (%d, %v), want (50, nil)", got, err)
	}
}

func TestProductRepositoryDeletes(t *testing.T) {
	repo := NewProductRepository()
	seedProduct(t, repo, "INT-1", 3)

	if err := repo.SoftDelete("INT-1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	got, err := repo.Get("INT-1")
	if err != nil {
		t.Fatalf("get after soft delete: %v", err)
	}
	if got.Active {
		t.Fatal("soft delete must deactivate the product")
	}

	if err := repo.HardDelete("INT-1"); err != nil {
		t.Fatalf("hard delete: %v", err)
	}
	if _, err := repo.Get("INT-1"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("get after hard delete: got %v, want %v", err, domain.ErrProductNotFound)
	}
}
