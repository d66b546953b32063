package forecast

import (
	"math"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// RiskLevel — уровень риска исчерпания остатка.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

const (
	// DefaultLookbackDays — окно расчёта скорости продаж по умолчанию.
	DefaultLookbackDays = 30
	// DefaultMaxForecastDays — горизонт прогноза по умолчанию.
	DefaultMaxForecastDays = 60
)

// realizedStatuses — статусы, в которых заказ считается реализованным спросом.
// Pending ещё не подтверждён, cancelled спросом не является.
var realizedStatuses = []domain.OrderStatus{
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
}

// ForecastInput задаёт параметры прогноза.
type ForecastInput struct {
	// LookbackDays — сколько прошедших дней учитывать при расчёте скорости;
	// <= 0 заменяется на DefaultLookbackDays.
	LookbackDays int
	// MaxForecastDays — показывать только товары, исчерпывающиеся в пределах
	// этого числа дней; <= 0 заменяется на DefaultMaxForecastDays.
	MaxForecastDays int
	// Category фильтрует по категории; пустое значение — все категории.
	Category domain.ProductCategory
}

// Prediction — прогноз исчерпания остатка одного товара.
type Prediction struct {
	ProductCode   string
	ProductName   string
	Category      domain.ProductCategory
	CurrentStock  int
	DailyVelocity float64
	// DaysUntilStockout = floor(stock / velocity).
	DaysUntilStockout int
	StockoutDate      time.Time
	Risk              RiskLevel
}

// Forecast — результат прогноза, отсортированный по возрастанию дней до
// исчерпания.
type Forecast struct {
	LookbackDays    int
	MaxForecastDays int
	Category        domain.ProductCategory
	RiskSummary     map[RiskLevel]int
	Predictions     []Prediction
}

// Forecaster проецирует дни до исчерпания остатка из исторической скорости
// продаж. Модель — линейное истощение: ни сезонности, ни трендов она
// сознательно не учитывает; это упрощение, а не дефект.
// Состояние не мутирует; stale-чтения на секунды допустимы.
type Forecaster struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	cache    domain.SnapshotCache
	logger   *log.Entry
	now      func() time.Time
}

// NewForecaster создаёт Forecaster.
func NewForecaster(products domain.ProductRepository, orders domain.OrderRepository, cache domain.SnapshotCache, logger *log.Entry) *Forecaster {
	if logger == nil {
		logger = log.New().WithField("component", "forecaster")
	}
	return &Forecaster{
		products: products,
		orders:   orders,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// PredictStockouts возвращает товары, которые при текущей скорости продаж
// исчерпаются в пределах MaxForecastDays. Товары без продаж в окне (нулевая
// скорость) и товары с нулевым остатком в прогноз не попадают.
func (f *Forecaster) PredictStockouts(input ForecastInput) (Forecast, error) {
	lookback := input.LookbackDays
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	maxDays := input.MaxForecastDays
	if maxDays <= 0 {
		maxDays = DefaultMaxForecastDays
	}

	now := f.now().UTC()
	since := now.AddDate(0, 0, -lookback)

	sales, err := f.orders.SalesSince(since, realizedStatuses)
	if err != nil {
		return Forecast{}, err
	}
	velocity := make(map[string]float64, len(sales))
	for _, s := range sales {
		velocity[s.ProductCode] = float64(s.Quantity) / float64(lookback)
	}

	products, err := f.loadProducts(input.Category)
	if err != nil {
		return Forecast{}, err
	}

	forecast := Forecast{
		LookbackDays:    lookback,
		MaxForecastDays: maxDays,
		Category:        input.Category,
		RiskSummary: map[RiskLevel]int{
			RiskCritical: 0, RiskHigh: 0, RiskMedium: 0, RiskLow: 0,
		},
	}

	for _, p := range products {
		if p.StockQuantity <= 0 {
			// Уже исчерпан — это зона Reorder Advisor, не прогноза.
			continue
		}
		v := velocity[p.Code]
		if v <= 0 {
			continue
		}

		days := int(math.Floor(float64(p.StockQuantity) / v))
		if days > maxDays {
			continue
		}

		risk := riskFor(days)
		forecast.Predictions = append(forecast.Predictions, Prediction{
			ProductCode:       p.Code,
			ProductName:       p.Name,
			Category:          p.Category,
			CurrentStock:      p.StockQuantity,
			DailyVelocity:     math.Round(v*100) / 100,
			DaysUntilStockout: days,
			StockoutDate:      now.AddDate(0, 0, days),
			Risk:              risk,
		})
		forecast.RiskSummary[risk]++
	}

	sort.Slice(forecast.Predictions, func(i, j int) bool {
		left, right := forecast.Predictions[i], forecast.Predictions[j]
		if left.DaysUntilStockout != right.DaysUntilStockout {
			return left.DaysUntilStockout < right.DaysUntilStockout
		}
		return left.ProductCode < right.ProductCode
	})

	f.logger.WithFields(log.Fields{
		"lookback_days": lookback,
		"predictions":   len(forecast.Predictions),
	}).Debug("stockout forecast built")

	return forecast, nil
}

// riskFor возвращает уровень риска для числа дней до исчерпания.
func riskFor(days int) RiskLevel {
	switch {
	case days <= 7:
		return RiskCritical
	case days <= 14:
		return RiskHigh
	case days <= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

func (f *Forecaster) loadProducts(category domain.ProductCategory) ([]domain.Product, error) {
	cacheKey := "products:" + string(category)
	if f.cache != nil {
		if products, ok := f.cache.GetProducts(cacheKey); ok {
			return products, nil
		}
	}

	products, err := f.products.List(domain.ProductFilter{
		Category:   category,
		OnlyActive: true,
	})
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		f.cache.SetProducts(cacheKey, products)
	}
	return products, nil
}
