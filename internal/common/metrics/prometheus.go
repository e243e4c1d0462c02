// Package metrics 提供 Prometheus 指标收集
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标收集器
// 所有记录方法对 nil 接收者安全，未启用监控时可直接传 nil
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	batchRunsTotal     *prometheus.CounterVec
	batchDuration      *prometheus.HistogramVec
	settlementsTotal   *prometheus.CounterVec
	settledNetAmount   *prometheus.CounterVec
	realtimeTriggers   *prometheus.CounterVec
	taskRunsTotal      *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	dependencyUp       *prometheus.GaugeVec
	notificationsTotal *prometheus.CounterVec
}

var defaultMetrics *Metrics

// Init 初始化指标收集器并注册到默认 Registry
func Init(namespace string) *Metrics {
	defaultMetrics = New(namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	return defaultMetrics
}

// New 在指定 Registry 上创建指标收集器，测试中可传入独立的 prometheus.NewRegistry()
func New(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if namespace == "" {
		namespace = "loyalty_settlement"
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		batchRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_runs_total",
				Help:      "Total number of settlement batch runs",
			},
			[]string{"batch_type", "status"},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Settlement batch run duration in seconds",
				Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900, 1800},
			},
			[]string{"batch_type"},
		),
		settlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlements_created_total",
				Help:      "Total number of settlement records created",
			},
			[]string{"settlement_type", "status"},
		),
		settledNetAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settled_net_amount_total",
				Help:      "Sum of net amounts of created settlements in minor units",
			},
			[]string{"settlement_type"},
		),
		realtimeTriggers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_triggers_total",
				Help:      "Realtime settlement trigger outcomes",
			},
			[]string{"outcome"},
		),
		taskRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Total number of scheduled task runs",
			},
			[]string{"task", "status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Scheduled task run duration in seconds",
				Buckets:   []float64{.01, .1, .5, 1, 5, 30, 60, 300, 1800},
			},
			[]string{"task"},
		),
		dependencyUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dependency_up",
				Help:      "Whether a dependency answered the last health probe (1 up, 0 down)",
			},
			[]string{"dependency"},
		),
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of outbound notifications",
			},
			[]string{"channel", "status"},
		),
	}
}

// GetMetrics 获取默认指标收集器，未初始化时返回 nil
func GetMetrics() *Metrics {
	return defaultMetrics
}

// Middleware 返回 Gin 中间件
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.httpRequestsInFlight.Inc()

		c.Next()

		m.httpRequestsInFlight.Dec()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// Handler 返回 Prometheus HTTP 处理器
func (m *Metrics) Handler() gin.HandlerFunc {
	var h = promhttp.Handler()
	if m != nil && m.gatherer != nil {
		h = promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordBatchRun 记录一次批次执行
func (m *Metrics) RecordBatchRun(batchType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.batchRunsTotal.WithLabelValues(batchType, status).Inc()
	m.batchDuration.WithLabelValues(batchType).Observe(duration.Seconds())
}

// RecordSettlement 记录一条新建结算
func (m *Metrics) RecordSettlement(settlementType, status string, netAmount int64) {
	if m == nil {
		return
	}
	m.settlementsTotal.WithLabelValues(settlementType, status).Inc()
	m.settledNetAmount.WithLabelValues(settlementType).Add(float64(netAmount))
}

// RecordRealtimeTrigger 记录实时结算触发结果
func (m *Metrics) RecordRealtimeTrigger(outcome string) {
	if m == nil {
		return
	}
	m.realtimeTriggers.WithLabelValues(outcome).Inc()
}

// RecordTaskRun 记录一次定时任务执行
func (m *Metrics) RecordTaskRun(taskID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskRunsTotal.WithLabelValues(taskID, status).Inc()
	m.taskDuration.WithLabelValues(taskID).Observe(duration.Seconds())
}

// SetDependencyUp 设置依赖健康状态
func (m *Metrics) SetDependencyUp(name string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.dependencyUp.WithLabelValues(name).Set(v)
}

// RecordNotification 记录通知发送
func (m *Metrics) RecordNotification(channel, status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(channel, status).Inc()
}
