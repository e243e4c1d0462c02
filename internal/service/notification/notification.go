// Package notification 提供结算完成短信通知与任务失败告警
package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dumeirei/loyalty-settlement/internal/common/logger"
	"github.com/dumeirei/loyalty-settlement/internal/common/metrics"
	"github.com/dumeirei/loyalty-settlement/internal/common/utils"
	"github.com/dumeirei/loyalty-settlement/internal/models"
	"github.com/dumeirei/loyalty-settlement/internal/scheduler"
	"github.com/dumeirei/loyalty-settlement/internal/service/settlement"
	"github.com/dumeirei/loyalty-settlement/pkg/sms"
)

var (
	_ settlement.Notifier = (*SettlementNotifier)(nil)
	_ scheduler.Alerter   = (*TaskAlerter)(nil)
)

// 通知渠道
const (
	ChannelSMS  = "sms"
	ChannelMQTT = "mqtt"
)

// 通知结果
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// BusinessLookup 查询商户联系方式
type BusinessLookup interface {
	GetByID(ctx context.Context, id int64) (*models.Business, error)
}

// Publisher 消息发布
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// SettlementNotifier 结算完成短信通知
type SettlementNotifier struct {
	sender     sms.Sender
	businesses BusinessLookup
	metrics    *metrics.Metrics
}

// NewSettlementNotifier 创建结算通知
func NewSettlementNotifier(sender sms.Sender, businesses BusinessLookup, m *metrics.Metrics) *SettlementNotifier {
	return &SettlementNotifier{
		sender:     sender,
		businesses: businesses,
		metrics:    m,
	}
}

// NotifySettlementCompleted 向商户联系人发送结算短信，商户未登记手机号时跳过
func (n *SettlementNotifier) NotifySettlementCompleted(ctx context.Context, settlement *models.Settlement) error {
	business, err := n.businesses.GetByID(ctx, settlement.BusinessID)
	if err != nil {
		n.metrics.RecordNotification(ChannelSMS, StatusFailed)
		return fmt.Errorf("lookup business %d: %w", settlement.BusinessID, err)
	}
	if business.ContactPhone == "" {
		n.metrics.RecordNotification(ChannelSMS, StatusSkipped)
		return nil
	}

	if err := n.sender.SendSettlementNotify(ctx, business.ContactPhone, settlement.SettlementNo, utils.FormatMoney(settlement.NetAmount)); err != nil {
		n.metrics.RecordNotification(ChannelSMS, StatusFailed)
		return fmt.Errorf("sms to %s: %w", utils.MaskPhone(business.ContactPhone), err)
	}
	n.metrics.RecordNotification(ChannelSMS, StatusSent)
	return nil
}

// TaskAlert 任务失败告警消息
type TaskAlert struct {
	TaskID     string    `json:"task_id"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TaskAlerter 任务失败告警，始终写错误日志，配置了 MQTT 时同时发布到运维主题
type TaskAlerter struct {
	publisher Publisher
	topic     string
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewTaskAlerter 创建任务告警，publisher 可为 nil
func NewTaskAlerter(publisher Publisher, topic string, m *metrics.Metrics) *TaskAlerter {
	return &TaskAlerter{
		publisher: publisher,
		topic:     topic,
		metrics:   m,
		log:       logger.Named("alert"),
		now:       time.Now,
	}
}

// NotifyTaskFailed 发送任务失败告警
func (a *TaskAlerter) NotifyTaskFailed(ctx context.Context, taskID string, cause error) error {
	a.log.Error("定时任务失败告警", logger.TaskID(taskID), zap.Error(cause))

	if a.publisher == nil {
		return nil
	}

	alert := TaskAlert{TaskID: taskID, OccurredAt: a.now()}
	if cause != nil {
		alert.Error = cause.Error()
	}

	// 发布最多等待 5 秒
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.publisher.Publish(pctx, a.topic, alert); err != nil {
		a.metrics.RecordNotification(ChannelMQTT, StatusFailed)
		return err
	}
	a.metrics.RecordNotification(ChannelMQTT, StatusSent)
	return nil
}
