// Package metrics 提供 Prometheus 指标收集单元测试
package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New("test", reg, reg), reg
}

// metricValue 从 Registry 中读取指定标签的指标值
func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !labelsMatch(metric, labels) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

func TestNew(t *testing.T) {
	m, _ := newTestMetrics(t)
	require.NotNil(t, m)
	assert.NotNil(t, m.batchRunsTotal)
	assert.NotNil(t, m.settlementsTotal)
	assert.NotNil(t, m.taskRunsTotal)
	assert.NotNil(t, m.dependencyUp)
}

func TestInit_SetsDefault(t *testing.T) {
	m := Init("init_default")
	assert.Same(t, m, GetMetrics())
}

func TestMetrics_RecordBatchRun(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordBatchRun("daily", "success", 2*time.Second)
	m.RecordBatchRun("daily", "success", time.Second)
	m.RecordBatchRun("daily", "partial", time.Second)

	assert.Equal(t, 2.0, metricValue(t, reg, "test_batch_runs_total", map[string]string{"batch_type": "daily", "status": "success"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_batch_runs_total", map[string]string{"batch_type": "daily", "status": "partial"}))
}

func TestMetrics_RecordSettlement(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordSettlement("daily", "approved", 174500)
	m.RecordSettlement("daily", "pending", 500)

	assert.Equal(t, 1.0, metricValue(t, reg, "test_settlements_created_total", map[string]string{"settlement_type": "daily", "status": "approved"}))
	assert.Equal(t, 175000.0, metricValue(t, reg, "test_settled_net_amount_total", map[string]string{"settlement_type": "daily"}))
}

func TestMetrics_TaskAndDependency(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordTaskRun("health_probe", "success", 10*time.Millisecond)
	m.RecordRealtimeTrigger("below_threshold")
	m.RecordNotification("sms", "sent")
	m.SetDependencyUp("database", true)
	m.SetDependencyUp("redis", false)

	assert.Equal(t, 1.0, metricValue(t, reg, "test_task_runs_total", map[string]string{"task": "health_probe", "status": "success"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_realtime_triggers_total", map[string]string{"outcome": "below_threshold"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_notifications_total", map[string]string{"channel": "sms", "status": "sent"}))
	assert.Equal(t, 1.0, metricValue(t, reg, "test_dependency_up", map[string]string{"dependency": "database"}))
	assert.Equal(t, 0.0, metricValue(t, reg, "test_dependency_up", map[string]string{"dependency": "redis"}))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBatchRun("daily", "success", time.Second)
		m.RecordSettlement("daily", "approved", 1)
		m.RecordRealtimeTrigger("settled")
		m.RecordTaskRun("x", "failed", time.Second)
		m.SetDependencyUp("redis", true)
		m.RecordNotification("mqtt", "failed")
	})
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	m, reg := newTestMetrics(t)

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, metricValue(t, reg, "test_http_requests_total", map[string]string{"method": "GET", "path": "/ping", "status": "200"}))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "test_http_requests_total"))
}
