package reorder

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Health — состояние группы товаров по остаткам.
type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthWarning  Health = "WARNING"
	HealthCritical Health = "CRITICAL"
)

// lowStockWarningCount — сколько low-stock товаров в группе считается поводом
// для WARNING.
const lowStockWarningCount = 2

// GroupSummary — сводка остатков по одной категории.
type GroupSummary struct {
	Name       string
	Products   int
	Units      int
	Value      decimal.Decimal
	AvgStock   float64
	MinStock   int
	MaxStock   int
	OutOfStock int
	LowStock   int
	Health     Health
}

// SummaryTotals — агрегат по всем группам.
type SummaryTotals struct {
	Products   int
	Units      int
	Value      decimal.Decimal
	OutOfStock int
	LowStock   int
}

// SummaryReport — сводка остатков, сгруппированная по категориям,
// отсортированная по стоимости остатка по убыванию.
type SummaryReport struct {
	Groups []GroupSummary
	Totals SummaryTotals
}

// StockSummary строит сводку остатков по категориям: количество товаров,
// единицы и стоимость на складе, min/max/avg, число out-of-stock и low-stock
// позиций и итоговое состояние группы.
func (a *Advisor) StockSummary() (SummaryReport, error) {
	products, err := a.loadProducts("")
	if err != nil {
		return SummaryReport{}, err
	}

	type acc struct {
		products   int
		units      int
		value      decimal.Decimal
		minStock   int
		maxStock   int
		outOfStock int
		lowStock   int
	}
	groups := make(map[string]*acc)

	for _, p := range products {
		name := string(p.Category)
		if name == "" {
			name = "unknown"
		}
		g, ok := groups[name]
		if !ok {
			g = &acc{value: decimal.Zero, minStock: p.StockQuantity, maxStock: p.StockQuantity}
			groups[name] = g
		}

		g.products++
		g.units += p.StockQuantity
		g.value = g.value.Add(p.Price.Mul(decimal.NewFromInt(int64(p.StockQuantity))))
		if p.StockQuantity < g.minStock {
			g.minStock = p.StockQuantity
		}
		if p.StockQuantity > g.maxStock {
			g.maxStock = p.StockQuantity
		}
		switch {
		case p.StockQuantity == 0:
			g.outOfStock++
		case p.StockQuantity <= DefaultThreshold:
			g.lowStock++
		}
	}

	report := SummaryReport{Totals: SummaryTotals{Value: decimal.Zero}}
	for name, g := range groups {
		health := HealthHealthy
		switch {
		case g.outOfStock > 0:
			health = HealthCritical
		case g.lowStock > lowStockWarningCount:
			health = HealthWarning
		}

		report.Groups = append(report.Groups, GroupSummary{
			Name:       name,
			Products:   g.products,
			Units:      g.units,
			Value:      g.value.Round(2),
			AvgStock:   float64(g.units) / float64(g.products),
			MinStock:   g.minStock,
			MaxStock:   g.maxStock,
			OutOfStock: g.outOfStock,
			LowStock:   g.lowStock,
			Health:     health,
		})

		report.Totals.Products += g.products
		report.Totals.Units += g.units
		report.Totals.Value = report.Totals.Value.Add(g.value)
		report.Totals.OutOfStock += g.outOfStock
		report.Totals.LowStock += g.lowStock
	}
	report.Totals.Value = report.Totals.Value.Round(2)

	sort.Slice(report.Groups, func(i, j int) bool {
		if !report.Groups[i].Value.Equal(report.Groups[j].Value) {
			return report.Groups[i].Value.GreaterThan(report.Groups[j].Value)
		}
		return report.Groups[i].Name < report.Groups[j].Name
	})

	return report, nil
}
