package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/loyalty-settlement/internal/common/config"
	"github.com/dumeirei/loyalty-settlement/internal/common/logger"
	"github.com/dumeirei/loyalty-settlement/internal/common/metrics"
	"github.com/dumeirei/loyalty-settlement/internal/common/utils"
	"github.com/dumeirei/loyalty-settlement/internal/models"
)

// Service 结算服务
type Service struct {
	calculator  *Calculator
	settlements SettlementStore
	batchLogs   BatchLogStore
	directory   BusinessDirectory
	cfg         config.SettlementConfig
	loc         *time.Location

	notifier Notifier
	locker   Locker
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// Option 结算服务可选项
type Option func(*Service)

// WithNotifier 设置结算完成通知
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithLocker 设置批次分布式锁，未设置时批次不加锁
func WithLocker(l Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithMetrics 设置监控指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 创建结算服务
func NewService(
	calculator *Calculator,
	settlements SettlementStore,
	batchLogs BatchLogStore,
	directory BusinessDirectory,
	cfg config.SettlementConfig,
	loc *time.Location,
	opts ...Option,
) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		calculator:  calculator,
		settlements: settlements,
		batchLogs:   batchLogs,
		directory:   directory,
		cfg:         cfg,
		loc:         loc,
		metrics:     metrics.GetMetrics(),
		log:         logger.Named("settlement"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location 返回结算时区
func (s *Service) Location() *time.Location {
	return s.loc
}

// Now 返回结算时区内的当前时间
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// newSettlement 根据计算结果构造结算单
// 净额不超过自动审核阈值的批次/实时结算单直接审核通过
func (s *Service) newSettlement(calc *Calculation, settlementType string, automatic bool) (*models.Settlement, error) {
	report, err := calc.ReportData()
	if err != nil {
		return nil, err
	}

	now := s.Now()
	settlement := &models.Settlement{
		SettlementNo:     newSettlementNo(calc.BusinessID),
		BusinessID:       calc.BusinessID,
		SettlementType:   settlementType,
		PeriodStart:      calc.PeriodStart,
		PeriodEnd:        calc.PeriodEnd,
		Amount:           calc.Amount,
		PlatformFee:      calc.PlatformFee,
		VAT:              calc.VAT,
		NetAmount:        calc.NetAmount,
		TransactionCount: calc.TransactionCount,
		MileageUsed:      calc.MileageUsed,
		CouponUsed:       calc.CouponUsed,
		Status:           models.SettlementStatusPending,
		IsAutomatic:      automatic,
		RequestedAt:      now,
		ReportData:       report,
	}

	if automatic && calc.NetAmount <= s.cfg.AutoApprovalThreshold {
		settlement.Status = models.SettlementStatusApproved
		settlement.ApprovedAt = utils.TimePtr(now)
	}
	return settlement, nil
}

// notify 发送结算完成通知，失败只记录日志
func (s *Service) notify(ctx context.Context, settlement *models.Settlement) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("结算通知异常",
				logger.SettlementID(settlement.ID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := s.notifier.NotifySettlementCompleted(ctx, settlement); err != nil {
		s.log.Warn("结算通知发送失败",
			logger.SettlementID(settlement.ID),
			logger.BusinessID(settlement.BusinessID),
			zap.Error(err),
		)
	}
}

// newSettlementNo 生成结算单号，带商户 ID 避免同一秒内批量生成时冲突
func newSettlementNo(businessID int64) string {
	return utils.GenerateOrderNo(fmt.Sprintf("ST%d", businessID))
}
