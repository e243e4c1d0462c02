package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/loyalty-settlement/internal/models"
)

// LedgerRepository 交易流水仓储（积分消费与优惠券核销），只读
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建交易流水仓储
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// MileageDebits 获取商户在 [start, end) 内的积分消费流水，按 ID 升序
func (r *LedgerRepository) MileageDebits(ctx context.Context, businessID int64, start, end time.Time) ([]*models.MileageTransaction, error) {
	var txs []*models.MileageTransaction
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND type = ? AND created_at >= ? AND created_at < ?",
			businessID, models.MileageTypeUse, start, end).
		Order("id ASC").
		Find(&txs).Error
	return txs, err
}

// CouponRedemptions 获取商户在 [start, end) 内核销的优惠券，按 ID 升序
func (r *LedgerRepository) CouponRedemptions(ctx context.Context, businessID int64, start, end time.Time) ([]*models.UserCoupon, error) {
	var coupons []*models.UserCoupon
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND status = ? AND used_at >= ? AND used_at < ?",
			businessID, models.UserCouponStatusUsed, start, end).
		Order("id ASC").
		Find(&coupons).Error
	return coupons, err
}

// CreateMileage 写入积分流水
func (r *LedgerRepository) CreateMileage(ctx context.Context, tx *models.MileageTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

// CreateCoupon 写入用户优惠券
func (r *LedgerRepository) CreateCoupon(ctx context.Context, coupon *models.UserCoupon) error {
	return r.db.WithContext(ctx).Create(coupon).Error
}
