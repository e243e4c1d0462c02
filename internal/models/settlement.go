package models

import (
	"time"
)

// Settlement 商户结算单
// 同一商户、同一周期、同一结算类型最多一条
type Settlement struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	SettlementNo     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"settlement_no"`
	BusinessID       int64      `gorm:"uniqueIndex:uk_settlement_period;not null" json:"business_id"`
	SettlementType   string     `gorm:"type:varchar(20);uniqueIndex:uk_settlement_period;not null" json:"settlement_type"`
	PeriodStart      time.Time  `gorm:"uniqueIndex:uk_settlement_period;not null" json:"period_start"`
	PeriodEnd        time.Time  `gorm:"uniqueIndex:uk_settlement_period;not null" json:"period_end"`
	Amount           int64      `gorm:"not null;default:0" json:"amount"`
	PlatformFee      int64      `gorm:"not null;default:0" json:"platform_fee"`
	VAT              int64      `gorm:"column:vat;not null;default:0" json:"vat"`
	NetAmount        int64      `gorm:"not null;default:0" json:"net_amount"`
	TransactionCount int        `gorm:"not null;default:0" json:"transaction_count"`
	MileageUsed      int64      `gorm:"not null;default:0" json:"mileage_used"`
	CouponUsed       int64      `gorm:"not null;default:0" json:"coupon_used"`
	Status           string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	IsAutomatic      bool       `gorm:"not null;default:false" json:"is_automatic"`
	RequestedAt      time.Time  `gorm:"not null" json:"requested_at"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	RejectReason     *string    `gorm:"type:varchar(255)" json:"reject_reason,omitempty"`
	OperatorID       *int64     `json:"operator_id,omitempty"`
	ReportData       string     `gorm:"type:text" json:"report_data,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Settlement) TableName() string {
	return "settlements"
}

// SettlementType 结算类型
const (
	SettlementTypeDaily    = "daily"    // 日结
	SettlementTypeWeekly   = "weekly"   // 周结
	SettlementTypeMonthly  = "monthly"  // 月结
	SettlementTypeRealtime = "realtime" // 实时结算
	SettlementTypeManual   = "manual"   // 人工补录
)

// SettlementStatus 结算状态
const (
	SettlementStatusPending  = "pending"  // 待审核
	SettlementStatusApproved = "approved" // 已审核
	SettlementStatusPaid     = "paid"     // 已打款
	SettlementStatusRejected = "rejected" // 已驳回
)

// IsBatchType 是否为批次结算类型
func IsBatchType(kind string) bool {
	switch kind {
	case SettlementTypeDaily, SettlementTypeWeekly, SettlementTypeMonthly:
		return true
	}
	return false
}

// BatchLog 结算批次执行日志
// 创建时为 started，结束时更新一次为终态，之后不再修改
type BatchLog struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID          string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"run_id"`
	BatchType      string     `gorm:"type:varchar(20);not null;index" json:"batch_type"`
	PeriodStart    time.Time  `gorm:"not null" json:"period_start"`
	PeriodEnd      time.Time  `gorm:"not null" json:"period_end"`
	Status         string     `gorm:"type:varchar(20);not null;default:'started'" json:"status"`
	ProcessedCount int        `gorm:"not null;default:0" json:"processed_count"`
	FailedCount    int        `gorm:"not null;default:0" json:"failed_count"`
	SkippedCount   int        `gorm:"not null;default:0" json:"skipped_count"`
	TotalAmount    int64      `gorm:"not null;default:0" json:"total_amount"`
	ErrorLog       *string    `gorm:"type:text" json:"error_log,omitempty"`
	ExecutionTime  float64    `gorm:"not null;default:0" json:"execution_time"` // 秒
	StartedAt      time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 表名
func (BatchLog) TableName() string {
	return "settlement_batch_logs"
}

// BatchStatus 批次状态
const (
	BatchStatusStarted = "started" // 执行中
	BatchStatusSuccess = "success" // 全部成功
	BatchStatusPartial = "partial" // 部分失败
	BatchStatusFailed  = "failed"  // 失败
)

// AllModels 返回需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&Business{},
		&MileageTransaction{},
		&UserCoupon{},
		&Settlement{},
		&BatchLog{},
		&OperationLog{},
	}
}
