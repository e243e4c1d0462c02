// Package repository 提供数据访问层
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/loyalty-settlement/internal/models"
)

// SettlementRepository 结算仓储
type SettlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository 创建结算仓储
func NewSettlementRepository(db *gorm.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// Create 创建结算记录
func (r *SettlementRepository) Create(ctx context.Context, settlement *models.Settlement) error {
	return r.db.WithContext(ctx).Create(settlement).Error
}

// GetByID 根据 ID 获取结算记录
func (r *SettlementRepository) GetByID(ctx context.Context, id int64) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).First(&settlement, id).Error
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// GetBySettlementNo 根据结算单号获取结算记录
func (r *SettlementRepository) GetBySettlementNo(ctx context.Context, settlementNo string) (*models.Settlement, error) {
	var settlement models.Settlement
	err := r.db.WithContext(ctx).Where("settlement_no = ?", settlementNo).First(&settlement).Error
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

// ExistsForPeriod 判断商户在同一结算类型、同一周期下是否已有结算记录
func (r *SettlementRepository) ExistsForPeriod(ctx context.Context, businessID int64, settlementType string, periodStart, periodEnd time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("business_id = ? AND settlement_type = ? AND period_start = ? AND period_end = ?",
			businessID, settlementType, periodStart, periodEnd).
		Count(&count).Error
	return count > 0, err
}

// UpdateStatus 条件更新结算状态
// 仅当当前状态属于 fromStatuses 时才写入，返回受影响行数；0 表示状态已被他人修改或记录不存在
func (r *SettlementRepository) UpdateStatus(ctx context.Context, id int64, fromStatuses []string, fields map[string]interface{}) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Updates(fields)
	return result.RowsAffected, result.Error
}

// SettlementFilter 结算查询过滤条件
type SettlementFilter struct {
	BusinessID     *int64
	SettlementType string
	Status         string
	IsAutomatic    *bool
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

// List 获取结算列表
func (r *SettlementRepository) List(ctx context.Context, filter *SettlementFilter, offset, limit int) ([]*models.Settlement, int64, error) {
	var settlements []*models.Settlement
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Settlement{})

	if filter != nil {
		if filter.BusinessID != nil {
			query = query.Where("business_id = ?", *filter.BusinessID)
		}
		if filter.SettlementType != "" {
			query = query.Where("settlement_type = ?", filter.SettlementType)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.IsAutomatic != nil {
			query = query.Where("is_automatic = ?", *filter.IsAutomatic)
		}
		if filter.PeriodStart != nil {
			query = query.Where("period_start >= ?", *filter.PeriodStart)
		}
		if filter.PeriodEnd != nil {
			query = query.Where("period_end <= ?", *filter.PeriodEnd)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&settlements).Error
	if err != nil {
		return nil, 0, err
	}

	return settlements, total, nil
}

// SettlementSummary 结算汇总
type SettlementSummary struct {
	Status    string `json:"status"`
	Count     int64  `json:"count"`
	NetAmount int64  `json:"net_amount"`
}

// SummaryByStatus 按状态汇总指定周期内的结算
func (r *SettlementRepository) SummaryByStatus(ctx context.Context, periodStart, periodEnd time.Time) ([]SettlementSummary, error) {
	var rows []SettlementSummary
	err := r.db.WithContext(ctx).Model(&models.Settlement{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(net_amount), 0) AS net_amount").
		Where("period_start >= ? AND period_end <= ?", periodStart, periodEnd).
		Group("status").
		Order("status").
		Scan(&rows).Error
	return rows, err
}
