package models

import (
	"time"
)

// MileageTransaction 积分流水
// 积分消费记录的 Amount 为负数
type MileageTransaction struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64     `gorm:"index;not null" json:"user_id"`
	BusinessID  int64     `gorm:"index:idx_mileage_business_time;not null" json:"business_id"`
	Type        string    `gorm:"type:varchar(20);not null" json:"type"`
	Amount      int64     `gorm:"not null" json:"amount"`
	Description *string   `gorm:"type:varchar(255)" json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"index:idx_mileage_business_time;not null" json:"created_at"`
}

// TableName 表名
func (MileageTransaction) TableName() string {
	return "mileage_transactions"
}

// MileageTransactionType 积分流水类型
const (
	MileageTypeEarn   = "earn"   // 获得
	MileageTypeUse    = "use"    // 消费
	MileageTypeExpire = "expire" // 过期
	MileageTypeRefund = "refund" // 退还
)

// UserCoupon 用户领取的优惠券
type UserCoupon struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64      `gorm:"index;not null" json:"user_id"`
	CouponID       int64      `gorm:"index;not null" json:"coupon_id"`
	BusinessID     int64      `gorm:"index:idx_coupon_business_used;not null" json:"business_id"`
	DiscountAmount int64      `gorm:"not null;default:0" json:"discount_amount"`
	Status         string     `gorm:"type:varchar(20);not null;default:'issued'" json:"status"`
	UsedAt         *time.Time `gorm:"index:idx_coupon_business_used" json:"used_at,omitempty"`
	ExpiredAt      time.Time  `gorm:"not null" json:"expired_at"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 表名
func (UserCoupon) TableName() string {
	return "user_coupons"
}

// UserCouponStatus 用户优惠券状态
const (
	UserCouponStatusIssued  = "issued"  // 未使用
	UserCouponStatusUsed    = "used"    // 已使用
	UserCouponStatusExpired = "expired" // 已过期
)
