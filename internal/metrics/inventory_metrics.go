package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// InventoryMetrics содержит метрики операций склада.
type InventoryMetrics struct {
	reservations *prometheus.CounterVec
	releases     prometheus.Counter
	adjustments  *prometheus.CounterVec
	opDuration   prometheus.Histogram
}

// NewInventoryMetrics создаёт и регистрирует метрики склада.
func NewInventoryMetrics() *InventoryMetrics {
	return newInventoryMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newInventoryMetricsWithRegisterer(registerer prometheus.Registerer) *InventoryMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &InventoryMetrics{
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_stock_reservations_total",
			Help: "Total number of stock reservation attempts grouped by result",
		}, []string{"result"}),
		releases: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_stock_releases_total",
			Help: "Total number of stock releases",
		}),
		adjustments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_stock_adjustments_total",
			Help: "Total number of manual stock adjustments grouped by mode",
		}, []string{"mode"}),
		opDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ims_stock_op_duration_seconds",
			Help:    "Duration of stock ledger operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}
}

// RecordReservation учитывает попытку резервирования с результатом
// reserved | insufficient | error.
func (m *InventoryMetrics) RecordReservation(result string) {
	m.reservations.WithLabelValues(result).Inc()
}

// RecordRelease учитывает возврат резерва на склад.
func (m *InventoryMetrics) RecordRelease() {
	m.releases.Inc()
}

// RecordAdjustment учитывает ручную корректировку остатка (set | add | subtract).
func (m *InventoryMetrics) RecordAdjustment(mode string) {
	m.adjustments.WithLabelValues(mode).Inc()
}

// RecordOpDuration учитывает длительность операции склада.
func (m *InventoryMetrics) RecordOpDuration(d time.Duration) {
	m.opDuration.Observe(d.Seconds())
}

// OrderMetrics содержит метрики жизненного цикла заказов.
type OrderMetrics struct {
	ordersCreated  prometheus.Counter
	ordersRejected prometheus.Counter
	lineWarnings   prometheus.Counter
	transitions    *prometheus.CounterVec
	createDuration prometheus.Histogram
}

// NewOrderMetrics создаёт и регистрирует метрики заказов.
func NewOrderMetrics() *OrderMetrics {
	return newOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_orders_rejected_total",
			Help: "Total number of order requests rejected because every line failed",
		}),
		lineWarnings: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ims_order_line_warnings_total",
			Help: "Total number of order lines dropped with a warning during creation",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ims_order_transitions_total",
			Help: "Total number of order status transitions grouped by target status",
		}, []string{"to"}),
		createDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ims_order_create_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordOrderCreated учитывает созданный заказ и длительность создания.
func (m *OrderMetrics) RecordOrderCreated(d time.Duration) {
	m.ordersCreated.Inc()
	m.createDuration.Observe(d.Seconds())
}

// RecordOrderRejected учитывает полностью отклонённый запрос на заказ.
func (m *OrderMetrics) RecordOrderRejected() {
	m.ordersRejected.Inc()
}

// RecordLineWarning учитывает позицию, исключённую из заказа с предупреждением.
func (m *OrderMetrics) RecordLineWarning() {
	m.lineWarnings.Inc()
}

// RecordTransition учитывает выполненный переход статуса.
func (m *OrderMetrics) RecordTransition(to string) {
	m.transitions.WithLabelValues(to).Inc()
}

// Помощники регистрации терпимы к повторной регистрации: при рестарте
// компонентов внутри одного процесса возвращается уже существующий collector.

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return alreadyRegistered.ExistingCollector.(prometheus.Counter)
		}
		panic(fmt.Sprintf("register counter %s: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(fmt.Sprintf("register counter vec %s: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return alreadyRegistered.ExistingCollector.(prometheus.Histogram)
		}
		panic(fmt.Sprintf("register histogram %s: %v", opts.Name, err))
	}
	return collector
}
