package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// defaultSalesLimit — число товаров в отчёте по умолчанию.
const defaultSalesLimit = 10

// SalesInput задаёт параметры отчёта о продажах.
type SalesInput struct {
	// ProductCode ограничивает отчёт одним товаром; пустое значение — все.
	ProductCode string
	// Limit ограничивает число товаров; <= 0 заменяется на defaultSalesLimit.
	Limit int
}

// SalesStat — статистика продаж одного товара.
type SalesStat struct {
	ProductCode         string
	ProductName         string
	QuantitySold        int
	Revenue             decimal.Decimal
	Orders              int
	AvgQuantityPerOrder float64
}

// ProductSales возвращает статистику продаж по товарам, отсортированную по
// выручке по убыванию. Учитываются все заказы независимо от статуса —
// это отчёт по обороту, а не по реализованному спросу.
func (f *Forecaster) ProductSales(input SalesInput) ([]SalesStat, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSalesLimit
	}

	if input.ProductCode != "" {
		// Товар должен существовать, иначе отчёт по нему бессмыслен.
		if _, err := f.products.Get(input.ProductCode); err != nil {
			return nil, err
		}
	}

	sales, err := f.orders.SalesSince(time.Time{}, nil)
	if err != nil {
		return nil, err
	}

	stats := make([]SalesStat, 0, len(sales))
	for _, s := range sales {
		if input.ProductCode != "" && s.ProductCode != input.ProductCode {
			continue
		}

		name := ""
		if p, err := f.products.Get(s.ProductCode); err == nil {
			name = p.Name
		}

		avg := 0.0
		if s.Orders > 0 {
			avg = math.Round(float64(s.Quantity)/float64(s.Orders)*100) / 100
		}
		stats = append(stats, SalesStat{
			ProductCode:         s.ProductCode,
			ProductName:         name,
			QuantitySold:        s.Quantity,
			Revenue:             s.Revenue.Round(2),
			Orders:              s.Orders,
			AvgQuantityPerOrder: avg,
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		if !stats[i].Revenue.Equal(stats[j].Revenue) {
			return stats[i].Revenue.GreaterThan(stats[j].Revenue)
		}
		return stats[i].ProductCode < stats[j].ProductCode
	})

	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}
