// Package sms 短信服务单元测试
package sms

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSender_Send(t *testing.T) {
	sender := NewMockSender()
	ctx := context.Background()

	t.Run("发送短信", func(t *testing.T) {
		err := sender.Send(ctx, "13800138000", "SMS_TEMPLATE", map[string]string{
			"code": "123456",
		})
		require.NoError(t, err)

		assert.Equal(t, 1, sender.Count())
		msg := sender.SentMessages[0]
		assert.Equal(t, "13800138000", msg.Phone)
		assert.Equal(t, "SMS_TEMPLATE", msg.TemplateCode)
		assert.Equal(t, "123456", msg.Params["code"])
		assert.NotZero(t, msg.SentAt)
	})

	t.Run("发送多条短信", func(t *testing.T) {
		sender.Clear()

		_ = sender.Send(ctx, "13800138001", "T1", map[string]string{"key": "val1"})
		_ = sender.Send(ctx, "13800138002", "T2", map[string]string{"key": "val2"})
		_ = sender.Send(ctx, "13800138003", "T3", map[string]string{"key": "val3"})

		assert.Equal(t, 3, sender.Count())
	})
}

func TestMockSender_SendSettlementNotify(t *testing.T) {
	sender := NewMockSender()

	err := sender.SendSettlementNotify(context.Background(), "13900139000", "ST120261016020000123456", "386.80")
	require.NoError(t, err)

	msg := sender.GetLastMessage()
	require.NotNil(t, msg)
	assert.Equal(t, "13900139000", msg.Phone)
	assert.Equal(t, TemplateSettlementNotify, msg.TemplateCode)
	assert.Equal(t, "ST120261016020000123456", msg.Params["settlement_no"])
	assert.Equal(t, "386.80", msg.Params["amount"])
}

func TestMockSender_Err(t *testing.T) {
	sender := NewMockSender()
	sender.Err = fmt.Errorf("gateway down")

	err := sender.SendSettlementNotify(context.Background(), "13900139000", "ST1", "1.00")
	assert.EqualError(t, err, "gateway down")
	assert.Zero(t, sender.Count())
	assert.Nil(t, sender.GetLastMessage())
}

func TestDefaultTemplates(t *testing.T) {
	templates := DefaultTemplates()
	assert.Contains(t, templates, TemplateSettlementNotify)

	// 每次返回新的副本
	templates[TemplateSettlementNotify] = "changed"
	assert.NotEqual(t, "changed", DefaultTemplates()[TemplateSettlementNotify])
}

func TestAliyunSender_SetTemplates(t *testing.T) {
	sender := &AliyunSender{templates: DefaultTemplates()}
	sender.SetTemplates(map[string]string{TemplateSettlementNotify: "SMS_123"})
	assert.Equal(t, "SMS_123", sender.templates[TemplateSettlementNotify])
}

func TestNewAliyunSender(t *testing.T) {
	sender, err := NewAliyunSender(&AliyunConfig{
		AccessKeyID:     "test-key",
		AccessKeySecret: "test-secret",
		SignName:        "积分商城",
	})
	require.NoError(t, err)
	assert.Equal(t, "积分商城", sender.signName)
}

func TestSenderInterfaceImpl(t *testing.T) {
	var _ Sender = (*AliyunSender)(nil)
	var _ Sender = (*MockSender)(nil)
}
