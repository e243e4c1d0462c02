// Package utils 工具函数单元测试
package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateOrderNo(t *testing.T) {
	no := GenerateOrderNo("ST")

	assert.True(t, strings.HasPrefix(no, "ST"))
	// 前缀 2 位 + 时间戳 14 位 + 随机数 6 位
	assert.Len(t, no, 22)
}

func TestGenerateOrderNo_Uniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 200)
	for i := 0; i < 200; i++ {
		seen[GenerateOrderNo("ST")] = struct{}{}
	}
	// 同一秒内依赖 6 位随机数区分，允许极小概率碰撞
	assert.GreaterOrEqual(t, len(seen), 199)
}

func TestGenerateRandomNumber(t *testing.T) {
	for _, n := range []int{0, 1, 6, 12} {
		s := GenerateRandomNumber(n)
		assert.Len(t, s, n)
		for _, c := range s {
			assert.True(t, c >= '0' && c <= '9')
		}
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{174500, "1745.00"},
		{123456, "1234.56"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMoney(tt.cents))
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "138****8000", MaskPhone("13800138000"))
	assert.Equal(t, "12345", MaskPhone("12345"))
}

func TestPtrHelpers(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now, *TimePtr(now))
	assert.Equal(t, "x", *StringPtr("x"))
}

func TestPagination(t *testing.T) {
	p := &Pagination{Page: 0, PageSize: 500}
	p.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 100, p.PageSize)

	p = &Pagination{Page: 3, PageSize: 20}
	p.Normalize()
	assert.Equal(t, 40, p.GetOffset())
	assert.Equal(t, 20, p.GetLimit())

	p = &Pagination{Page: 1, PageSize: 0}
	p.Normalize()
	assert.Equal(t, 10, p.PageSize)
}
