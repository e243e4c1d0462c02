// Package settlement 提供商户结算计算、批次编排、实时结算与审核流转
package settlement

import (
	"context"
	"time"

	"github.com/dumeirei/loyalty-settlement/internal/common/cache"
	"github.com/dumeirei/loyalty-settlement/internal/models"
	"github.com/dumeirei/loyalty-settlement/internal/repository"
)

// Ledger 交易流水只读视图
type Ledger interface {
	MileageDebits(ctx context.Context, businessID int64, start, end time.Time) ([]*models.MileageTransaction, error)
	CouponRedemptions(ctx context.Context, businessID int64, start, end time.Time) ([]*models.UserCoupon, error)
}

// BusinessDirectory 商户目录
type BusinessDirectory interface {
	ListActiveIDs(ctx context.Context) ([]int64, error)
}

// SettlementStore 结算单存储
type SettlementStore interface {
	Create(ctx context.Context, settlement *models.Settlement) error
	GetByID(ctx context.Context, id int64) (*models.Settlement, error)
	GetBySettlementNo(ctx context.Context, settlementNo string) (*models.Settlement, error)
	ExistsForPeriod(ctx context.Context, businessID int64, settlementType string, start, end time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id int64, fromStatuses []string, fields map[string]interface{}) (int64, error)
	List(ctx context.Context, filter *repository.SettlementFilter, offset, limit int) ([]*models.Settlement, int64, error)
	SummaryByStatus(ctx context.Context, start, end time.Time) ([]repository.SettlementSummary, error)
}

// BatchLogStore 批次日志存储
type BatchLogStore interface {
	Create(ctx context.Context, log *models.BatchLog) error
	Update(ctx context.Context, id int64, fields map[string]interface{}) error
	List(ctx context.Context, filter *repository.BatchLogFilter, offset, limit int) ([]*models.BatchLog, int64, error)
}

// Notifier 结算完成通知，失败不影响结算结果
type Notifier interface {
	NotifySettlementCompleted(ctx context.Context, settlement *models.Settlement) error
}

// Locker 分布式锁，release 可重复调用
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

var (
	_ Ledger            = (*repository.LedgerRepository)(nil)
	_ BusinessDirectory = (*repository.BusinessRepository)(nil)
	_ SettlementStore   = (*repository.SettlementRepository)(nil)
	_ BatchLogStore     = (*repository.BatchLogRepository)(nil)
	_ Locker            = (*cache.RedisLocker)(nil)
)
