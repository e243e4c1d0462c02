package models

import (
	"time"
)

// Business 入驻商户（积分/优惠券核销方）
type Business struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"type:varchar(100);not null" json:"name"`
	ContactName  string    `gorm:"type:varchar(50);not null;default:''" json:"contact_name"`
	ContactPhone string    `gorm:"type:varchar(20);not null;default:''" json:"contact_phone"`
	Status       int8      `gorm:"type:smallint;not null;index" json:"status"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 表名
func (Business) TableName() string {
	return "businesses"
}

// BusinessStatus 商户状态
const (
	BusinessStatusDisabled = 0 // 停用
	BusinessStatusActive   = 1 // 正常
)
