package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/dumeirei/loyalty-settlement/internal/common/errors"
	"github.com/dumeirei/loyalty-settlement/internal/models"
)

// BatchLogRepository 结算批次日志仓储
type BatchLogRepository struct {
	db *gorm.DB
}

// NewBatchLogRepository 创建批次日志仓储
func NewBatchLogRepository(db *gorm.DB) *BatchLogRepository {
	return &BatchLogRepository{db: db}
}

// Create 创建批次日志
func (r *BatchLogRepository) Create(ctx context.Context, log *models.BatchLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// Update 写入批次终态，只对 started 状态的日志生效
// 日志不存在返回 gorm.ErrRecordNotFound，已终结返回 ErrBatchLogFinalized
func (r *BatchLogRepository) Update(ctx context.Context, id int64, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.BatchLog{}).
		Where("id = ? AND status = ?", id, models.BatchStatusStarted).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.BatchLog{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return errors.ErrBatchLogFinalized
}

// GetByID 根据 ID 获取批次日志
func (r *BatchLogRepository) GetByID(ctx context.Context, id int64) (*models.BatchLog, error) {
	var log models.BatchLog
	if err := r.db.WithContext(ctx).First(&log, id).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// BatchLogFilter 批次日志查询过滤条件
type BatchLogFilter struct {
	BatchType string
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
}

// List 获取批次日志列表，按开始时间倒序
func (r *BatchLogRepository) List(ctx context.Context, filter *BatchLogFilter, offset, limit int) ([]*models.BatchLog, int64, error) {
	var logs []*models.BatchLog
	var total int64

	query := r.db.WithContext(ctx).Model(&models.BatchLog{})
	if filter != nil {
		if filter.BatchType != "" {
			query = query.Where("batch_type = ?", filter.BatchType)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.StartDate != nil {
			query = query.Where("started_at >= ?", *filter.StartDate)
		}
		if filter.EndDate != nil {
			query = query.Where("started_at < ?", *filter.EndDate)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("started_at DESC, id DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// DeleteBefore 删除开始时间早于 cutoff 的已结束批次日志，返回删除条数
// 仍处于 started 状态的日志保留，便于排查中断的批次
func (r *BatchLogRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("started_at < ? AND status <> ?", cutoff, models.BatchStatusStarted).
		Delete(&models.BatchLog{})
	return result.RowsAffected, result.Error
}
