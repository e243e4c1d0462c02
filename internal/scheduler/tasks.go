package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/loyalty-settlement/internal/common/config"
	"github.com/dumeirei/loyalty-settlement/internal/common/errors"
	"github.com/dumeirei/loyalty-settlement/internal/common/logger"
	"github.com/dumeirei/loyalty-settlement/internal/common/metrics"
	"github.com/dumeirei/loyalty-settlement/internal/models"
	"github.com/dumeirei/loyalty-settlement/internal/service/settlement"
)

// BatchRunner 批次结算执行器
type BatchRunner interface {
	RunBatch(ctx context.Context, kind string, periodStart, periodEnd time.Time) (*settlement.BatchOutcome, error)
}

// BatchLogPruner 批次日志清理
type BatchLogPruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Probe 依赖健康检查
type Probe func(ctx context.Context) error

// TaskHandler 内置任务处理器
type TaskHandler struct {
	batches       BatchRunner
	pruner        BatchLogPruner
	probes        map[string]Probe
	metrics       *metrics.Metrics
	loc           *time.Location
	retentionDays int
	now           func() time.Time
}

// NewTaskHandler 创建内置任务处理器
func NewTaskHandler(
	batches BatchRunner,
	pruner BatchLogPruner,
	probes map[string]Probe,
	m *metrics.Metrics,
	loc *time.Location,
	retentionDays int,
) *TaskHandler {
	if loc == nil {
		loc = time.Local
	}
	return &TaskHandler{
		batches:       batches,
		pruner:        pruner,
		probes:        probes,
		metrics:       m,
		loc:           loc,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Settlement 返回指定批次类型的结算任务
// 另一实例正在执行同一窗口时视为本次成功
func (h *TaskHandler) Settlement(kind string) Handler {
	return func(ctx context.Context) error {
		start, end, err := settlement.WindowFor(kind, h.now(), h.loc)
		if err != nil {
			return err
		}
		_, err = h.batches.RunBatch(ctx, kind, start, end)
		if stderrors.Is(err, errors.ErrBatchInProgress) {
			logger.Warn("批次已由其他实例执行，跳过", logger.BatchType(kind), logger.Period(start, end))
			return nil
		}
		return err
	}
}

// HealthProbe 检查数据库与 Redis 连通性并更新监控
func (h *TaskHandler) HealthProbe(ctx context.Context) error {
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		err := h.probes[name](ctx)
		h.metrics.SetDependencyUp(name, err == nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return stderrors.Join(errs...)
}

// PruneBatchLogs 清理超过保留期的批次日志
func (h *TaskHandler) PruneBatchLogs(ctx context.Context) error {
	if h.retentionDays <= 0 {
		return nil
	}
	cutoff := h.now().In(h.loc).AddDate(0, 0, -h.retentionDays)
	deleted, err := h.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.Info("已清理过期批次日志", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return nil
}

// builtinTask 内置任务定义
type builtinTask struct {
	id       string
	name     string
	schedule string
	handler  Handler
}

// SetupTasks 注册全部内置任务，调度表达式与启用状态来自配置
func SetupTasks(s *Scheduler, h *TaskHandler, cfg *config.SchedulerConfig) error {
	builtins := []builtinTask{
		{config.TaskDailySettlement, "日结", "0 2 * * *", h.Settlement(models.SettlementTypeDaily)},
		{config.TaskWeeklySettlement, "周结", "0 3 * * 1", h.Settlement(models.SettlementTypeWeekly)},
		{config.TaskMonthlySettlement, "月结", "0 4 1 * *", h.Settlement(models.SettlementTypeMonthly)},
		{config.TaskHealthProbe, "健康检查", "*/5 * * * *", h.HealthProbe},
		{config.TaskLogRetention, "批次日志清理", "30 5 * * *", h.PruneBatchLogs},
	}

	for _, b := range builtins {
		task := Task{ID: b.id, Name: b.name, Schedule: b.schedule, Enabled: true}
		if tc, ok := cfg.Task(b.id); ok {
			if tc.Schedule != "" {
				task.Schedule = tc.Schedule
			}
			task.Enabled = tc.Enabled
		}
		if err := s.Register(task, b.handler); err != nil {
			return fmt.Errorf("register %s: %w", b.id, err)
		}
	}
	return nil
}
