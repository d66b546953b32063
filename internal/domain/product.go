package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductCategory — категория товара в каталоге.
type ProductCategory string

const (
	CategoryInterior   ProductCategory = "interno"
	CategoryExterior   ProductCategory = "esterno"
	CategoryIndustrial ProductCategory = "industriale"
)

// Product описывает товар каталога и его текущий остаток на складе.
// StockQuantity меняется только через операции склада (guarded-операции
// ProductRepository), никогда напрямую.
type Product struct {
	// Code — внешний идентификатор товара (например, "INT-LAV-001").
	Code     string
	Name     string
	Category ProductCategory
	// Price — цена за единицу; неотрицательное десятичное число.
	Price decimal.Decimal
	// StockQuantity — остаток на складе, всегда >= 0.
	StockQuantity int
	// Active == false означает soft delete: товар скрыт из каталога,
	// но исторические заказы продолжают на него ссылаться.
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты товара и возвращает список замечаний.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if p.Code == "" {
		errs = append(errs, ErrProductCodeRequired)
	}
	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrPriceNegative)
	}
	if p.StockQuantity < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}

// ProductFilter ограничивает выборку товаров из репозитория.
type ProductFilter struct {
	// Category фильтрует по категории; пустое значение — все категории.
	Category ProductCategory
	// OnlyActive исключает товары после soft delete.
	OnlyActive bool
	// InStockOnly исключает товары с нулевым остатком.
	InStockOnly bool
}

// Matches сообщает, проходит ли товар фильтр.
func (f ProductFilter) Matches(p Product) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.OnlyActive && !p.Active {
		return false
	}
	if f.InStockOnly && p.StockQuantity <= 0 {
		return false
	}
	return true
}
