package settlement

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dumeirei/loyalty-settlement/internal/common/cache"
	"github.com/dumeirei/loyalty-settlement/internal/common/errors"
	"github.com/dumeirei/loyalty-settlement/internal/common/logger"
	"github.com/dumeirei/loyalty-settlement/internal/common/tracing"
	"github.com/dumeirei/loyalty-settlement/internal/models"
	"github.com/dumeirei/loyalty-settlement/internal/repository"
)

const defaultBatchLockTTL = 30 * time.Minute

// BusinessError 单个商户的结算失败
type BusinessError struct {
	BusinessID int64
	Err        error
}

// String 格式化为错误日志行
func (e BusinessError) String() string {
	return fmt.Sprintf("business %d: %v", e.BusinessID, e.Err)
}

// MarshalJSON 错误以文本输出
func (e BusinessError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		BusinessID int64  `json:"business_id"`
		Error      string `json:"error"`
	}{e.BusinessID, msg})
}

// BatchOutcome 批次执行结果
type BatchOutcome struct {
	BatchLogID     int64           `json:"batch_log_id"`
	RunID          string          `json:"run_id"`
	BatchType      string          `json:"batch_type"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	Status         string          `json:"status"`
	ProcessedCount int             `json:"processed_count"`
	FailedCount    int             `json:"failed_count"`
	SkippedCount   int             `json:"skipped_count"`
	TotalAmount    int64           `json:"total_amount"`
	Errors         []BusinessError `json:"errors,omitempty"`
	SettlementIDs  []int64         `json:"settlement_ids,omitempty"`
	ExecutionTime  time.Duration   `json:"execution_time"`
}

// ErrorLog 错误列表拼接为 BatchLog.errorLog
func (o *BatchOutcome) ErrorLog() string {
	lines := make([]string, 0, len(o.Errors))
	for _, e := range o.Errors {
		lines = append(lines, e.String())
	}
	return strings.Join(lines, "\n")
}

// businessResult 单个商户的处理结果
type businessResult struct {
	businessID int64
	settlement *models.Settlement
	duplicate  bool
	err        error
}

// batchAccumulator 批次累计值，逐个商户折叠
type batchAccumulator struct {
	processed     int
	failed        int
	skipped       int
	totalAmount   int64
	errors        []BusinessError
	settlementIDs []int64
}

// add 折叠一个商户结果，返回新的累计值
func (a batchAccumulator) add(r businessResult) batchAccumulator {
	switch {
	case r.err != nil:
		a.failed++
		a.errors = append(a.errors, BusinessError{BusinessID: r.businessID, Err: r.err})
	case r.duplicate:
		a.processed++
		a.skipped++
	case r.settlement != nil:
		a.processed++
		a.totalAmount += r.settlement.NetAmount
		a.settlementIDs = append(a.settlementIDs, r.settlement.ID)
	default:
		// 净额为 0，不生成结算单
		a.processed++
	}
	return a
}

// status 根据累计值判定批次终态
func (a batchAccumulator) status() string {
	switch {
	case a.failed == 0:
		return models.BatchStatusSuccess
	case a.processed > 0:
		return models.BatchStatusPartial
	default:
		return models.BatchStatusFailed
	}
}

// RunBatch 执行一次批次结算
// 单个商户失败不会中断批次；全部失败或商户目录不可用时返回错误，同时返回已落库的批次结果
func (s *Service) RunBatch(ctx context.Context, kind string, periodStart, periodEnd time.Time) (outcome *BatchOutcome, err error) {
	if !models.IsBatchType(kind) {
		return nil, errors.ErrInvalidBatchType
	}
	if err := validatePeriod(periodStart, periodEnd); err != nil {
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "settlement.RunBatch",
		tracing.WithBatchType(kind),
		tracing.WithOperation("run_batch"),
	)
	defer func() { tracing.EndSpan(span, err) }()

	log := s.log.With(logger.BatchType(kind), logger.Period(periodStart, periodEnd))

	if s.locker != nil {
		release, ok, lockErr := s.locker.Lock(ctx, s.batchLockKey(kind, periodStart, periodEnd), s.batchLockTTL())
		switch {
		case lockErr != nil:
			// 锁服务不可用时退化为无锁执行，重复窗口由唯一索引与重复检查兜底
			log.Warn("批次锁获取失败，无锁执行", zap.Error(lockErr))
		case !ok:
			return nil, errors.ErrBatchInProgress
		default:
			defer release()
		}
	}

	// 批次开始后不再响应调用方取消，商户循环与批次日志都要完整落库
	ctx = context.WithoutCancel(ctx)

	startedAt := s.Now()
	batchLog := &models.BatchLog{
		RunID:       uuid.NewString(),
		BatchType:   kind,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      models.BatchStatusStarted,
		StartedAt:   startedAt,
	}
	if err := s.batchLogs.Create(ctx, batchLog); err != nil {
		return nil, errors.ErrBatchLogFailed.WithError(err)
	}
	span.SetAttributes(tracing.WithBatchRunID(batchLog.RunID))

	outcome = &BatchOutcome{
		BatchLogID:  batchLog.ID,
		RunID:       batchLog.RunID,
		BatchType:   kind,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}

	log.Info("批次结算开始", zap.String("run_id", batchLog.RunID))

	businessIDs, err := s.directory.ListActiveIDs(ctx)
	if err != nil {
		dirErr := errors.ErrDirectoryUnavailable.WithError(err)
		outcome.Status = models.BatchStatusFailed
		s.finishBatch(ctx, batchLog, outcome, fmt.Sprintf("directory: %v", err))
		log.Error("商户目录获取失败", zap.Error(err))
		return outcome, dirErr
	}

	var acc batchAccumulator
	for _, businessID := range businessIDs {
		acc = acc.add(s.settleBusiness(ctx, kind, businessID, periodStart, periodEnd))
	}

	outcome.Status = acc.status()
	outcome.ProcessedCount = acc.processed
	outcome.FailedCount = acc.failed
	outcome.SkippedCount = acc.skipped
	outcome.TotalAmount = acc.totalAmount
	outcome.Errors = acc.errors
	outcome.SettlementIDs = acc.settlementIDs
	s.finishBatch(ctx, batchLog, outcome, outcome.ErrorLog())

	log.Info("批次结算完成",
		zap.String("run_id", batchLog.RunID),
		zap.String("status", outcome.Status),
		zap.Int("processed", outcome.ProcessedCount),
		zap.Int("failed", outcome.FailedCount),
		zap.Int("skipped", outcome.SkippedCount),
		logger.Amount(outcome.TotalAmount),
		logger.Latency(outcome.ExecutionTime),
	)

	if outcome.Status == models.BatchStatusFailed {
		return outcome, errors.ErrBatchTotalFailure.WithError(stderrors.New(outcome.ErrorLog()))
	}
	return outcome, nil
}

// settleBusiness 结算单个商户，任何错误与 panic 都收敛到结果中
func (s *Service) settleBusiness(ctx context.Context, kind string, businessID int64, start, end time.Time) (result businessResult) {
	result.businessID = businessID

	ctx, span := tracing.StartSpan(ctx, "settlement.settleBusiness",
		tracing.WithBusinessID(businessID),
		tracing.WithBatchType(kind),
	)
	defer func() {
		if r := recover(); r != nil {
			result = businessResult{businessID: businessID, err: fmt.Errorf("panic: %v", r)}
		}
		tracing.EndSpan(span, result.err)
		if result.err != nil {
			s.log.Warn("商户结算失败",
				logger.BusinessID(businessID),
				logger.BatchType(kind),
				zap.Error(result.err),
			)
		}
	}()

	exists, err := s.settlements.ExistsForPeriod(ctx, businessID, kind, start, end)
	if err != nil {
		result.err = errors.ErrPersistence.WithError(err)
		return result
	}
	if exists {
		s.log.Info("该周期已结算，跳过", logger.BusinessID(businessID), logger.BatchType(kind))
		result.duplicate = true
		return result
	}

	calc, err := s.calculator.Compute(ctx, businessID, start, end)
	if err != nil {
		result.err = err
		return result
	}
	if calc.NetAmount == 0 {
		return result
	}

	settlement, err := s.newSettlement(calc, kind, true)
	if err != nil {
		result.err = errors.ErrComputation.WithError(err)
		return result
	}
	if err := s.settlements.Create(ctx, settlement); err != nil {
		result.err = errors.ErrPersistence.WithError(err)
		return result
	}

	s.metrics.RecordSettlement(settlement.SettlementType, settlement.Status, settlement.NetAmount)
	result.settlement = settlement
	s.notify(ctx, settlement)
	return result
}

// finishBatch 写入批次终态，写入失败只记录日志
func (s *Service) finishBatch(ctx context.Context, batchLog *models.BatchLog, outcome *BatchOutcome, errorLog string) {
	finishedAt := s.Now()
	outcome.ExecutionTime = finishedAt.Sub(batchLog.StartedAt)

	fields := map[string]interface{}{
		"status":          outcome.Status,
		"processed_count": outcome.ProcessedCount,
		"failed_count":    outcome.FailedCount,
		"skipped_count":   outcome.SkippedCount,
		"total_amount":    outcome.TotalAmount,
		"execution_time":  outcome.ExecutionTime.Seconds(),
		"finished_at":     finishedAt,
	}
	if errorLog != "" {
		fields["error_log"] = errorLog
	}

	// 批次已结束，不受调用方 context 取消影响
	if err := s.batchLogs.Update(context.WithoutCancel(ctx), batchLog.ID, fields); err != nil {
		s.log.Error("批次日志更新失败",
			zap.Int64("batch_log_id", batchLog.ID),
			zap.String("run_id", batchLog.RunID),
			zap.Error(err),
		)
	}
	s.metrics.RecordBatchRun(outcome.BatchType, outcome.Status, outcome.ExecutionTime)
}

// batchLockKey 批次锁键，按类型与窗口区分
func (s *Service) batchLockKey(kind string, start, end time.Time) string {
	return cache.BuildKey(cache.KeyPrefixSettlementBatch, kind,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

func (s *Service) batchLockTTL() time.Duration {
	if ttl := s.cfg.BatchLockDuration(); ttl > 0 {
		return ttl
	}
	return defaultBatchLockTTL
}

// ListBatchLogs 查询批次日志
func (s *Service) ListBatchLogs(ctx context.Context, filter *repository.BatchLogFilter, offset, limit int) ([]*models.BatchLog, int64, error) {
	logs, total, err := s.batchLogs.List(ctx, filter, offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return logs, total, nil
}
