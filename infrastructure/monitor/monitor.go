package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 周期指标
	cyclesTotal   prometheus.Counter
	cyclesSkipped prometheus.Counter
	cycleDuration prometheus.Histogram

	// 行情刷新指标
	refreshErrors *prometheus.CounterVec

	// 订单指标
	ordersPlaced   prometheus.Counter
	ordersRejected prometheus.Counter
	ordersCanceled prometheus.Counter

	// 组合指标
	portfolioValue prometheus.Gauge
	assetWeight    *prometheus.GaugeVec
	indexAsk       prometheus.Gauge
	indexBid       prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "reb",
		Subsystem: "portfolio",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,

		cyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycles_total",
			Help:      "再平衡周期总数",
		}),
		cyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycles_skipped_total",
			Help:      "因数据不可用跳过的周期数",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "单个周期耗时分布（秒）",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		refreshErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "refresh_errors_total",
				Help:      "行情/余额刷新失败总数",
			},
			[]string{"source"},
		),

		ordersPlaced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_placed_total",
			Help:      "订单提交总数",
		}),
		ordersRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_rejected_total",
			Help:      "订单拒绝总数（含限制检查与提交失败）",
		}),
		ordersCanceled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "orders_canceled_total",
			Help:      "订单撤销总数",
		}),

		portfolioValue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "portfolio_value",
			Help:      "组合基准资产总值",
		}),
		assetWeight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "asset_weight",
				Help:      "资产当前权重",
			},
			[]string{"asset"},
		),
		indexAsk: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "index_ask",
			Help:      "成交量加权指数卖价",
		}),
		indexBid: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "index_bid",
			Help:      "成交量加权指数买价",
		}),
	}

	return m
}

// 周期相关方法
func (m *Monitor) RecordCycle(durationSeconds float64) {
	m.cyclesTotal.Inc()
	m.cycleDuration.Observe(durationSeconds)
}

func (m *Monitor) RecordCycleSkipped() {
	m.cyclesSkipped.Inc()
}

func (m *Monitor) RecordRefreshError(source string) {
	m.refreshErrors.WithLabelValues(source).Inc()
}

// 订单相关方法
func (m *Monitor) RecordOrderPlaced() {
	m.ordersPlaced.Inc()
}

func (m *Monitor) RecordOrderRejected() {
	m.ordersRejected.Inc()
}

func (m *Monitor) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

// 组合相关方法
func (m *Monitor) UpdatePortfolioValue(value float64) {
	m.portfolioValue.Set(value)
}

func (m *Monitor) UpdateAssetWeight(asset string, weight float64) {
	m.assetWeight.WithLabelValues(asset).Set(weight)
}

func (m *Monitor) UpdateIndex(ask, bid float64) {
	m.indexAsk.Set(ask)
	m.indexBid.Set(bid)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
