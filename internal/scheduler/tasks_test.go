package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dumeirei/loyalty-settlement/internal/common/config"
	"github.com/dumeirei/loyalty-settlement/internal/common/errors"
	"github.com/dumeirei/loyalty-settlement/internal/common/metrics"
	"github.com/dumeirei/loyalty-settlement/internal/models"
	"github.com/dumeirei/loyalty-settlement/internal/service/settlement"
)

var taskNow = time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC)

// MockBatchRunner 批次执行 mock
type MockBatchRunner struct {
	mock.Mock
}

func (m *MockBatchRunner) RunBatch(ctx context.Context, kind string, start, end time.Time) (*settlement.BatchOutcome, error) {
	args := m.Called(ctx, kind, start, end)
	outcome, _ := args.Get(0).(*settlement.BatchOutcome)
	return outcome, args.Error(1)
}

// MockPruner 批次日志清理 mock
type MockPruner struct {
	mock.Mock
}

func (m *MockPruner) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func newTestTaskHandler(batches BatchRunner, pruner BatchLogPruner, probes map[string]Probe, m *metrics.Metrics) *TaskHandler {
	h := NewTaskHandler(batches, pruner, probes, m, time.UTC, 365)
	h.now = func() time.Time { return taskNow }
	return h
}

func TestTaskHandler_Settlement(t *testing.T) {
	runner := new(MockBatchRunner)
	dailyStart := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	dailyEnd := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	runner.On("RunBatch", mock.Anything, models.SettlementTypeDaily, dailyStart, dailyEnd).
		Return(&settlement.BatchOutcome{Status: models.BatchStatusSuccess}, nil).Once()
	runner.On("RunBatch", mock.Anything, models.SettlementTypeMonthly, monthStart, monthEnd).
		Return(&settlement.BatchOutcome{Status: models.BatchStatusFailed}, errors.ErrDirectoryUnavailable).Once()

	h := newTestTaskHandler(runner, nil, nil, nil)

	require.NoError(t, h.Settlement(models.SettlementTypeDaily)(context.Background()))

	err := h.Settlement(models.SettlementTypeMonthly)(context.Background())
	assert.ErrorIs(t, err, errors.ErrDirectoryUnavailable)

	runner.AssertExpectations(t)
}

func TestTaskHandler_Settlement_InProgressIsNotFailure(t *testing.T) {
	runner := new(MockBatchRunner)
	runner.On("RunBatch", mock.Anything, models.SettlementTypeWeekly, mock.Anything, mock.Anything).
		Return(nil, errors.ErrBatchInProgress)

	h := newTestTaskHandler(runner, nil, nil, nil)
	assert.NoError(t, h.Settlement(models.SettlementTypeWeekly)(context.Background()))
}

func TestTaskHandler_HealthProbe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg, reg)

	h := newTestTaskHandler(nil, nil, map[string]Probe{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return fmt.Errorf("connection refused") },
	}, m)

	err := h.HealthProbe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: connection refused")
	assert.NotContains(t, err.Error(), "database")

	families, err := reg.Gather()
	require.NoError(t, err)
	up := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "test_dependency_up" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "dependency" {
					up[lp.GetValue()] = metric.GetGauge().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(1), up["database"])
	assert.Equal(t, float64(0), up["redis"])

	healthy := newTestTaskHandler(nil, nil, map[string]Probe{
		"database": func(context.Context) error { return nil },
	}, nil)
	assert.NoError(t, healthy.HealthProbe(context.Background()))
}

func TestTaskHandler_PruneBatchLogs(t *testing.T) {
	pruner := new(MockPruner)
	pruner.On("DeleteBefore", mock.Anything, taskNow.AddDate(0, 0, -365)).Return(int64(4), nil)

	h := newTestTaskHandler(nil, pruner, nil, nil)
	require.NoError(t, h.PruneBatchLogs(context.Background()))
	pruner.AssertExpectations(t)

	h.retentionDays = 0
	require.NoError(t, h.PruneBatchLogs(context.Background()))
	pruner.AssertNumberOfCalls(t, "DeleteBefore", 1)
}

func TestSetupTasks(t *testing.T) {
	s := NewScheduler(WithLogger(zap.NewNop()), WithLocation(time.UTC))
	h := newTestTaskHandler(new(MockBatchRunner), new(MockPruner), nil, nil)

	cfg := &config.SchedulerConfig{
		Tasks: map[string]config.TaskConfig{
			config.TaskDailySettlement: {Schedule: "0 1 * * *", Enabled: true},
			config.TaskHealthProbe:     {Schedule: "*/1 * * * *", Enabled: false},
		},
	}
	require.NoError(t, SetupTasks(s, h, cfg))

	list := s.List()
	require.Len(t, list, 5)

	daily, err := s.Get(config.TaskDailySettlement)
	require.NoError(t, err)
	assert.Equal(t, "0 1 * * *", daily.Schedule)
	assert.True(t, daily.Enabled)

	probe, err := s.Get(config.TaskHealthProbe)
	require.NoError(t, err)
	assert.False(t, probe.Enabled)

	// 未配置的任务使用内置表达式
	monthly, err := s.Get(config.TaskMonthlySettlement)
	require.NoError(t, err)
	assert.Equal(t, "0 4 1 * *", monthly.Schedule)
	assert.True(t, monthly.Enabled)

	// 重复注册失败
	assert.Error(t, SetupTasks(s, h, cfg))
}

func TestSetupTasks_InvalidSchedule(t *testing.T) {
	s := NewScheduler(WithLogger(zap.NewNop()))
	h := newTestTaskHandler(nil, nil, nil, nil)

	cfg := &config.SchedulerConfig{
		Tasks: map[string]config.TaskConfig{
			config.TaskWeeklySettlement: {Schedule: "whenever", Enabled: true},
		},
	}
	err := SetupTasks(s, h, cfg)
	assert.ErrorIs(t, err, errors.ErrInvalidSchedule)
}

// 内置结算任务经由调度器执行，失败时任务状态为 failed
func TestBuiltinSettlementThroughScheduler(t *testing.T) {
	runner := new(MockBatchRunner)
	runner.On("RunBatch", mock.Anything, models.SettlementTypeDaily, mock.Anything, mock.Anything).
		Return(&settlement.BatchOutcome{Status: models.BatchStatusFailed}, errors.ErrBatchTotalFailure).Once()

	alerter := new(MockAlerter)
	alerter.On("NotifyTaskFailed", mock.Anything, config.TaskDailySettlement, mock.Anything).Return(nil)

	s := NewScheduler(WithLogger(zap.NewNop()), WithLocation(time.UTC), WithAlerter(alerter))
	h := newTestTaskHandler(runner, new(MockPruner), nil, nil)
	require.NoError(t, SetupTasks(s, h, &config.SchedulerConfig{}))

	_, err := s.RunNow(context.Background(), config.TaskDailySettlement)
	assert.ErrorIs(t, err, errors.ErrBatchTotalFailure)

	snap, err := s.Get(config.TaskDailySettlement)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, snap.Status)
	assert.NotEmpty(t, snap.LastError)
	alerter.AssertExpectations(t)
}
