package settlement

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/loyalty-settlement/internal/common/errors"
	"github.com/dumeirei/loyalty-settlement/internal/common/logger"
	"github.com/dumeirei/loyalty-settlement/internal/models"
	"github.com/dumeirei/loyalty-settlement/internal/repository"
)

// transitions 目标状态 -> 允许的当前状态
var transitions = map[string][]string{
	models.SettlementStatusApproved: {models.SettlementStatusPending},
	models.SettlementStatusPaid:     {models.SettlementStatusApproved},
	models.SettlementStatusRejected: {models.SettlementStatusPending, models.SettlementStatusApproved},
}

// CanTransition 判断结算单能否从 from 流转到 to
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[to] {
		if allowed == from {
			return true
		}
	}
	return false
}

// GetSettlement 获取结算单
func (s *Service) GetSettlement(ctx context.Context, id int64) (*models.Settlement, error) {
	settlement, err := s.settlements.GetByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrSettlementNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return settlement, nil
}

// GetSettlementByNo 按结算单号获取结算单
func (s *Service) GetSettlementByNo(ctx context.Context, settlementNo string) (*models.Settlement, error) {
	settlement, err := s.settlements.GetBySettlementNo(ctx, settlementNo)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrSettlementNotFound
		}
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return settlement, nil
}

// SummarizeSettlements 按状态汇总完全落在窗口内的结算单
func (s *Service) SummarizeSettlements(ctx context.Context, start, end time.Time) ([]repository.SettlementSummary, error) {
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}
	rows, err := s.settlements.SummaryByStatus(ctx, start, end)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	return rows, nil
}

// CurrentMonth 本月一日零点到下月一日零点，汇总查询的默认窗口
func (s *Service) CurrentMonth() (time.Time, time.Time) {
	now := s.Now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 1, 0)
}

// ListSettlements 查询结算单
func (s *Service) ListSettlements(ctx context.Context, filter *repository.SettlementFilter, offset, limit int) ([]*models.Settlement, int64, error) {
	list, total, err := s.settlements.List(ctx, filter, offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabaseError.WithError(err)
	}
	return list, total, nil
}

// Approve 审核通过：pending -> approved
func (s *Service) Approve(ctx context.Context, id, operatorID int64) (*models.Settlement, error) {
	now := s.Now()
	return s.transition(ctx, id, models.SettlementStatusApproved, map[string]interface{}{
		"approved_at": now,
		"operator_id": operatorID,
	})
}

// MarkPaid 确认打款：approved -> paid
func (s *Service) MarkPaid(ctx context.Context, id, operatorID int64) (*models.Settlement, error) {
	now := s.Now()
	return s.transition(ctx, id, models.SettlementStatusPaid, map[string]interface{}{
		"paid_at":     now,
		"operator_id": operatorID,
	})
}

// Reject 驳回：pending/approved -> rejected
func (s *Service) Reject(ctx context.Context, id, operatorID int64, reason string) (*models.Settlement, error) {
	return s.transition(ctx, id, models.SettlementStatusRejected, map[string]interface{}{
		"reject_reason": reason,
		"operator_id":   operatorID,
	})
}

// transition 校验当前状态后以条件更新写入，并发流转时只有一个成功
func (s *Service) transition(ctx context.Context, id int64, to string, fields map[string]interface{}) (*models.Settlement, error) {
	current, err := s.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, errors.ErrSettlementStatusInvalid
	}

	fields["status"] = to
	affected, err := s.settlements.UpdateStatus(ctx, id, transitions[to], fields)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if affected == 0 {
		return nil, errors.ErrSettlementStatusInvalid
	}

	s.log.Info("结算单状态变更",
		logger.SettlementID(id),
		zap.String("from", current.Status),
		zap.String("to", to),
	)
	return s.GetSettlement(ctx, id)
}

// CreateManualSettlement 人工补录结算单，始终进入待审核
// 同一商户同一窗口已有补录单时返回 ErrSettlementExists
func (s *Service) CreateManualSettlement(ctx context.Context, businessID int64, start, end time.Time, operatorID int64) (*models.Settlement, error) {
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}

	exists, err := s.settlements.ExistsForPeriod(ctx, businessID, models.SettlementTypeManual, start, end)
	if err != nil {
		return nil, errors.ErrDatabaseError.WithError(err)
	}
	if exists {
		return nil, errors.ErrSettlementExists
	}

	calc, err := s.calculator.Compute(ctx, businessID, start, end)
	if err != nil {
		return nil, err
	}

	settlement, err := s.newSettlement(calc, models.SettlementTypeManual, false)
	if err != nil {
		return nil, errors.ErrComputation.WithError(err)
	}
	settlement.OperatorID = &operatorID

	if err := s.settlements.Create(ctx, settlement); err != nil {
		return nil, errors.ErrPersistence.WithError(err)
	}

	s.log.Info("人工结算单已创建",
		logger.SettlementID(settlement.ID),
		logger.BusinessID(businessID),
		logger.AdminID(operatorID),
		zap.Int64("net_amount", settlement.NetAmount),
	)
	s.metrics.RecordSettlement(settlement.SettlementType, settlement.Status, settlement.NetAmount)
	return settlement, nil
}
