package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/loyalty-settlement/internal/common/cache"
	"github.com/dumeirei/loyalty-settlement/internal/common/config"
	"github.com/dumeirei/loyalty-settlement/internal/common/database"
	"github.com/dumeirei/loyalty-settlement/internal/common/logger"
	"github.com/dumeirei/loyalty-settlement/internal/common/metrics"
	"github.com/dumeirei/loyalty-settlement/internal/repository"
	"github.com/dumeirei/loyalty-settlement/internal/scheduler"
	"github.com/dumeirei/loyalty-settlement/internal/service/notification"
	"github.com/dumeirei/loyalty-settlement/internal/service/settlement"
	"github.com/dumeirei/loyalty-settlement/pkg/mqtt"
	"github.com/dumeirei/loyalty-settlement/pkg/sms"
)

// app 组装完成的结算引擎
type app struct {
	db         *gorm.DB
	redis      *redis.Client
	settlement *settlement.Service
	scheduler  *scheduler.Scheduler
	mqtt       *mqtt.Client
}

// newApp 按配置组装仓储、通知、结算服务与调度器
func newApp(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, m *metrics.Metrics) (*app, error) {
	log := logger.Named("bootstrap")

	// 初始化仓储
	ledgerRepo := repository.NewLedgerRepository(db)
	businessRepo := repository.NewBusinessRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)
	batchLogRepo := repository.NewBatchLogRepository(db)

	locker := cache.NewRedisLocker(redisClient)

	// 结算完成短信
	sender, err := newSMSSender(&cfg.SMS)
	if err != nil {
		return nil, err
	}
	notifier := notification.NewSettlementNotifier(sender, businessRepo, m)

	a := &app{db: db, redis: redisClient}

	// 任务失败告警，MQTT 未启用时只记录日志
	var publisher notification.Publisher
	if cfg.MQTT.Enabled {
		a.mqtt = mqtt.NewClient(&mqtt.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       fmt.Sprintf("%s%d", cfg.MQTT.ClientIDPrefix, os.Getpid()),
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            cfg.MQTT.QoS,
			KeepAlive:      cfg.MQTT.KeepAlive,
			AutoReconnect:  cfg.MQTT.AutoReconnect,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		})
		if err := a.mqtt.Connect(); err != nil {
			log.Warn("MQTT 连接失败，告警仅记录日志", zap.Error(err))
		} else {
			publisher = a.mqtt
		}
	}
	alerter := notification.NewTaskAlerter(publisher, cfg.MQTT.AlertTopic, m)

	loc := cfg.Scheduler.Location()

	a.settlement = settlement.NewService(
		settlement.NewCalculator(ledgerRepo, cfg.Settlement.PlatformFeeRate, cfg.Settlement.VATRate),
		settlementRepo,
		batchLogRepo,
		businessRepo,
		cfg.Settlement,
		loc,
		settlement.WithNotifier(notifier),
		settlement.WithLocker(locker),
		settlement.WithMetrics(m),
	)

	a.scheduler = scheduler.NewScheduler(
		scheduler.WithLocation(loc),
		scheduler.WithAlerter(alerter),
		scheduler.WithMetrics(m),
		scheduler.WithHistorySize(cfg.Scheduler.HistorySize),
		scheduler.WithHandlerTimeout(cfg.Scheduler.HandlerTimeoutDuration()),
	)

	probes := map[string]scheduler.Probe{
		"database": func(ctx context.Context) error { return database.Ping(ctx, db) },
		"redis":    locker.Ping,
	}
	tasks := scheduler.NewTaskHandler(a.settlement, batchLogRepo, probes, m, loc, cfg.Scheduler.LogRetentionDays)
	if err := scheduler.SetupTasks(a.scheduler, tasks, &cfg.Scheduler); err != nil {
		return nil, err
	}

	return a, nil
}

// newSMSSender 按服务商创建短信发送器
func newSMSSender(cfg *config.SMSConfig) (sms.Sender, error) {
	if cfg.Provider != "aliyun" {
		return sms.NewMockSender(), nil
	}
	sender, err := sms.NewAliyunSender(&sms.AliyunConfig{
		AccessKeyID:     cfg.AccessKeyID,
		AccessKeySecret: cfg.AccessKeySecret,
		SignName:        cfg.SignName,
		RegionID:        cfg.RegionID,
	})
	if err != nil {
		return nil, err
	}
	if cfg.SettlementTpl != "" {
		sender.SetTemplates(map[string]string{sms.TemplateSettlementNotify: cfg.SettlementTpl})
	}
	return sender, nil
}

// close 释放外部连接
func (a *app) close() {
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
}
