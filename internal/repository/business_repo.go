package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/dumeirei/loyalty-settlement/internal/models"
)

// BusinessRepository 商户目录仓储
type BusinessRepository struct {
	db *gorm.DB
}

// NewBusinessRepository 创建商户仓储
func NewBusinessRepository(db *gorm.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

// Create 创建商户
func (r *BusinessRepository) Create(ctx context.Context, business *models.Business) error {
	return r.db.WithContext(ctx).Create(business).Error
}

// GetByID 根据 ID 获取商户
func (r *BusinessRepository) GetByID(ctx context.Context, id int64) (*models.Business, error) {
	var business models.Business
	if err := r.db.WithContext(ctx).First(&business, id).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

// ListActiveIDs 获取全部正常状态商户 ID，按 ID 升序
func (r *BusinessRepository) ListActiveIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.Business{}).
		Where("status = ?", models.BusinessStatusActive).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
