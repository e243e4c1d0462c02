package settlement

import (
	"context"

	"go.uber.org/zap"

	"github.com/dumeirei/loyalty-settlement/internal/common/logger"
	"github.com/dumeirei/loyalty-settlement/internal/common/tracing"
	"github.com/dumeirei/loyalty-settlement/internal/models"
)

// 实时结算触发结果
const (
	RealtimeBelowThreshold    = "below_threshold"
	RealtimeNetBelowThreshold = "net_below_threshold"
	RealtimeSettled           = "settled"
	RealtimeError             = "error"
)

// MaybeSettleNow 单笔交易金额达到阈值时，为商户结算今日至今的交易
// 任何失败只记录日志并返回 nil，不影响调用方的交易流程
// 与当日的日结批次各自成单，两者可能覆盖同一批交易，由下游对账处理
func (s *Service) MaybeSettleNow(ctx context.Context, businessID, transactionAmount int64) (settlement *models.Settlement) {
	if transactionAmount < s.cfg.RealtimeTriggerThreshold {
		s.metrics.RecordRealtimeTrigger(RealtimeBelowThreshold)
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "settlement.MaybeSettleNow",
		tracing.WithBusinessID(businessID),
		tracing.WithOperation("realtime"),
	)
	var failure error
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("实时结算异常", logger.BusinessID(businessID), zap.Any("panic", r))
			s.metrics.RecordRealtimeTrigger(RealtimeError)
			settlement = nil
		}
		tracing.EndSpan(span, failure)
	}()

	log := s.log.With(logger.BusinessID(businessID), logger.Amount(transactionAmount))

	start, end := TodayWindow(s.Now(), s.loc)
	if !end.After(start) {
		// 恰好零点，今日尚无交易
		s.metrics.RecordRealtimeTrigger(RealtimeNetBelowThreshold)
		return nil
	}

	calc, err := s.calculator.Compute(ctx, businessID, start, end)
	if err != nil {
		failure = err
		log.Warn("实时结算计算失败", zap.Error(err))
		s.metrics.RecordRealtimeTrigger(RealtimeError)
		return nil
	}
	if calc.NetAmount < s.cfg.RealtimeTriggerThreshold {
		s.metrics.RecordRealtimeTrigger(RealtimeNetBelowThreshold)
		return nil
	}

	created, err := s.newSettlement(calc, models.SettlementTypeRealtime, true)
	if err == nil {
		err = s.settlements.Create(ctx, created)
	}
	if err != nil {
		failure = err
		log.Warn("实时结算落库失败", zap.Error(err))
		s.metrics.RecordRealtimeTrigger(RealtimeError)
		return nil
	}

	log.Info("实时结算完成",
		logger.SettlementID(created.ID),
		zap.Int64("net_amount", created.NetAmount),
		zap.String("status", created.Status),
	)
	s.metrics.RecordRealtimeTrigger(RealtimeSettled)
	s.metrics.RecordSettlement(created.SettlementType, created.Status, created.NetAmount)
	s.notify(ctx, created)
	return created
}
