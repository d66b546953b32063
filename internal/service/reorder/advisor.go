package reorder

import (
	"sort"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// Urgency — дискретный уровень срочности дозаказа.
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyMedium   Urgency = "MEDIUM"
)

const (
	// DefaultThreshold — порог «низкого остатка» по умолчанию.
	DefaultThreshold = 20
	// highStockBound — верхняя граница уровня HIGH.
	highStockBound = 5
)

// ClassifyInput задаёт параметры классификации.
type ClassifyInput struct {
	// Threshold — порог низкого остатка; <= 0 заменяется на DefaultThreshold.
	Threshold int
	// Category фильтрует по категории; пустое значение — все категории.
	Category domain.ProductCategory
	// SkipOutOfStock исключает товары с нулевым остатком
	// (по умолчанию они включаются как CRITICAL).
	SkipOutOfStock bool
}

// Recommendation — один товар с уровнем срочности и рекомендуемым дозаказом.
type Recommendation struct {
	Product Product
	Urgency Urgency
	// UnitsToOrder — рекомендованное количество по политике дозаполнения.
	UnitsToOrder int
}

// Product — срез полей товара, достаточный для отчёта.
type Product struct {
	Code          string
	Name          string
	Category      domain.ProductCategory
	StockQuantity int
	UnitPrice     decimal.Decimal
}

// Report — результат классификации.
type Report struct {
	Threshold       int
	Category        domain.ProductCategory
	Recommendations []Recommendation
	Summary         map[Urgency]int
	// EstimatedReorderValue — эвристическая оценка стоимости дозаказа по
	// политике дозаполнения; ориентир для закупки, не точная сумма.
	EstimatedReorderValue decimal.Decimal
}

// Advisor классифицирует товары по срочности дозаказа. Состояние не мутирует;
// читает каталог напрямую или через snapshot-кеш (допустимо отставание
// на секунды).
type Advisor struct {
	products domain.ProductRepository
	cache    domain.SnapshotCache
	logger   *log.Entry

	// RefillTarget — политика дозаполнения: сколько единиц дозаказать при
	// данном пороге и остатке. По умолчанию «дозаполнить до двух порогов»:
	// 2*threshold - stock. Это настройка закупки, а не закон — заменяемая.
	RefillTarget func(threshold, stock int) int
}

// NewAdvisor создаёт Advisor с политикой дозаполнения по умолчанию.
func NewAdvisor(products domain.ProductRepository, cache domain.SnapshotCache, logger *log.Entry) *Advisor {
	if logger == nil {
		logger = log.New().WithField("component", "reorder-advisor")
	}
	return &Advisor{
		products: products,
		cache:    cache,
		logger:   logger,
		RefillTarget: func(threshold, stock int) int {
			return threshold*2 - stock
		},
	}
}

// Classify возвращает товары с остатком не выше порога, классифицированные
// по срочности и отсортированные по возрастанию остатка (при равенстве —
// по коду товара, для детерминизма).
func (a *Advisor) Classify(input ClassifyInput) (Report, error) {
	threshold := input.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	products, err := a.loadProducts(input.Category)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Threshold:             threshold,
		Category:              input.Category,
		Summary:               map[Urgency]int{UrgencyCritical: 0, UrgencyHigh: 0, UrgencyMedium: 0},
		EstimatedReorderValue: decimal.Zero,
	}

	for _, p := range products {
		if p.StockQuantity > threshold {
			continue
		}
		if input.SkipOutOfStock && p.StockQuantity == 0 {
			continue
		}

		urgency := classify(p.StockQuantity, threshold)
		units := a.RefillTarget(threshold, p.StockQuantity)
		if units < 0 {
			units = 0
		}

		report.Recommendations = append(report.Recommendations, Recommendation{
			Product: Product{
				Code:          p.Code,
				Name:          p.Name,
				Category:      p.Category,
				StockQuantity: p.StockQuantity,
				UnitPrice:     p.Price,
			},
			Urgency:      urgency,
			UnitsToOrder: units,
		})
		report.Summary[urgency]++
		report.EstimatedReorderValue = report.EstimatedReorderValue.Add(
			p.Price.Mul(decimal.NewFromInt(int64(units))))
	}

	sort.Slice(report.Recommendations, func(i, j int) bool {
		left, right := report.Recommendations[i], report.Recommendations[j]
		if left.Product.StockQuantity != right.Product.StockQuantity {
			return left.Product.StockQuantity < right.Product.StockQuantity
		}
		return left.Product.Code < right.Product.Code
	})
	report.EstimatedReorderValue = report.EstimatedReorderValue.Round(2)

	a.logger.WithFields(log.Fields{
		"threshold": threshold,
		"matched":   len(report.Recommendations),
	}).Debug("reorder classification done")

	return report, nil
}

// classify возвращает уровень срочности для остатка stock при пороге threshold.
// Порядок проверок фиксирован: нулевой остаток важнее любого порога.
func classify(stock, threshold int) Urgency {
	switch {
	case stock == 0:
		return UrgencyCritical
	case stock <= highStockBound:
		return UrgencyHigh
	default:
		return UrgencyMedium
	}
}

func (a *Advisor) loadProducts(category domain.ProductCategory) ([]domain.Product, error) {
	cacheKey := "products:" + string(category)
	if a.cache != nil {
		if products, ok := a.cache.GetProducts(cacheKey); ok {
			return products, nil
		}
	}

	products, err := a.products.List(domain.ProductFilter{
		Category:   category,
		OnlyActive: true,
	})
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		a.cache.SetProducts(cacheKey, products)
	}
	return products, nil
}
