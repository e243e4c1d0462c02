// Package config 提供应用配置管理功能
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	globalConfig *Config
	once         sync.Once
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	SMS        SMSConfig        `mapstructure:"sms"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Name            string `mapstructure:"name"`
	Mode            string `mapstructure:"mode"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Name            string `mapstructure:"name"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogMode         bool   `mapstructure:"log_mode"`
	SlowThreshold   int    `mapstructure:"slow_threshold"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode, d.Timezone,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// Addr 返回 Redis 地址
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MQTTConfig MQTT配置（运维告警通道）
type MQTTConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Broker         string `mapstructure:"broker"`
	ClientIDPrefix string `mapstructure:"client_id_prefix"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	KeepAlive      int    `mapstructure:"keep_alive"`
	AutoReconnect  bool   `mapstructure:"auto_reconnect"`
	ConnectTimeout int    `mapstructure:"connect_timeout"`
	QoS            byte   `mapstructure:"qos"`
	AlertTopic     string `mapstructure:"alert_topic"`
}

// DefaultJWTSecret 开发环境默认 JWT 密钥，release 模式下禁止使用
const DefaultJWTSecret = "your-super-secret-key-change-in-production"

// JWTConfig JWT配置
type JWTConfig struct {
	Secret            string `mapstructure:"secret"`
	AccessTokenExpire int    `mapstructure:"access_token_expire"`
	Issuer            string `mapstructure:"issuer"`
}

// AccessTokenDuration 返回访问令牌有效期
func (j *JWTConfig) AccessTokenDuration() time.Duration {
	return time.Duration(j.AccessTokenExpire) * time.Hour
}

// SMSConfig 短信配置
type SMSConfig struct {
	Provider        string `mapstructure:"provider"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	SignName        string `mapstructure:"sign_name"`
	RegionID        string `mapstructure:"region_id"`
	SettlementTpl   string `mapstructure:"settlement_template"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Caller     bool   `mapstructure:"caller"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// SettlementConfig 结算规则配置
// 金额单位均为最小货币单位
type SettlementConfig struct {
	AutoApprovalThreshold    int64   `mapstructure:"auto_approval_threshold"`
	RealtimeTriggerThreshold int64   `mapstructure:"realtime_trigger_threshold"`
	PlatformFeeRate          float64 `mapstructure:"platform_fee_rate"`
	VATRate                  float64 `mapstructure:"vat_rate"`
	BatchLockTTL             int     `mapstructure:"batch_lock_ttl"` // 秒
}

// BatchLockDuration 返回批次锁有效期
func (s *SettlementConfig) BatchLockDuration() time.Duration {
	return time.Duration(s.BatchLockTTL) * time.Second
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	Timezone         string                `mapstructure:"timezone"`
	HistorySize      int                   `mapstructure:"history_size"`
	HandlerTimeout   int                   `mapstructure:"handler_timeout"` // 秒
	LogRetentionDays int                   `mapstructure:"log_retention_days"`
	Tasks            map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig 单个内置任务配置
type TaskConfig struct {
	Schedule string `mapstructure:"schedule"`
	Enabled  bool   `mapstructure:"enabled"`
}

// Location 返回调度时区，解析失败时回退到本地时区
func (s *SchedulerConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// HandlerTimeoutDuration 返回任务执行超时
func (s *SchedulerConfig) HandlerTimeoutDuration() time.Duration {
	return time.Duration(s.HandlerTimeout) * time.Second
}

// Task 返回指定任务配置，未配置时返回 ok=false
func (s *SchedulerConfig) Task(id string) (TaskConfig, bool) {
	tc, ok := s.Tasks[id]
	return tc, ok
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		globalConfig, err = New(configPath)
	})

	return globalConfig, err
}

// New 读取配置并返回新实例，不影响全局配置
func New(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// 环境变量支持
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 如果配置文件不存在，使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置，release 模式必须显式配置 JWT 密钥
func (c *Config) Validate() error {
	if c.IsRelease() && (c.JWT.Secret == "" || c.JWT.Secret == DefaultJWTSecret) {
		return fmt.Errorf("jwt.secret must be set in release mode")
	}
	return nil
}

// 内置任务ID
const (
	TaskDailySettlement   = "daily_settlement"
	TaskWeeklySettlement  = "weekly_settlement"
	TaskMonthlySettlement = "monthly_settlement"
	TaskHealthProbe       = "health_probe"
	TaskLogRetention      = "batch_log_retention"
)

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.name", "loyalty-settlement")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.port", 8100)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.shutdown_timeout", 10)

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "loyalty")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "Asia/Shanghai")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.log_mode", false)
	v.SetDefault("database.slow_threshold", 200)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id_prefix", "loyalty-settlement-")
	v.SetDefault("mqtt.keep_alive", 60)
	v.SetDefault("mqtt.auto_reconnect", true)
	v.SetDefault("mqtt.connect_timeout", 10)
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.alert_topic", "ops/alerts/settlement")

	// JWT defaults
	v.SetDefault("jwt.secret", DefaultJWTSecret)
	v.SetDefault("jwt.access_token_expire", 12)
	v.SetDefault("jwt.issuer", "loyalty-settlement")

	// SMS defaults
	v.SetDefault("sms.provider", "mock")
	v.SetDefault("sms.region_id", "cn-hangzhou")
	v.SetDefault("sms.settlement_template", "SMS_SETTLEMENT_DONE")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "./logs/settlement.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.caller", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "loyalty_settlement")
	v.SetDefault("metrics.path", "/metrics")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "loyalty-settlement")
	v.SetDefault("tracing.sample_rate", 1.0)

	// Settlement defaults
	v.SetDefault("settlement.auto_approval_threshold", 100000)
	v.SetDefault("settlement.realtime_trigger_threshold", 50000)
	v.SetDefault("settlement.platform_fee_rate", 0.03)
	v.SetDefault("settlement.vat_rate", 0.10)
	v.SetDefault("settlement.batch_lock_ttl", 1800)

	// Scheduler defaults
	v.SetDefault("scheduler.timezone", "Asia/Shanghai")
	v.SetDefault("scheduler.history_size", 20)
	v.SetDefault("scheduler.handler_timeout", 1800)
	v.SetDefault("scheduler.log_retention_days", 365)
	v.SetDefault("scheduler.tasks."+TaskDailySettlement+".schedule", "0 2 * * *")
	v.SetDefault("scheduler.tasks."+TaskDailySettlement+".enabled", true)
	v.SetDefault("scheduler.tasks."+TaskWeeklySettlement+".schedule", "0 3 * * 1")
	v.SetDefault("scheduler.tasks."+TaskWeeklySettlement+".enabled", true)
	v.SetDefault("scheduler.tasks."+TaskMonthlySettlement+".schedule", "0 4 1 * *")
	v.SetDefault("scheduler.tasks."+TaskMonthlySettlement+".enabled", true)
	v.SetDefault("scheduler.tasks."+TaskHealthProbe+".schedule", "*/5 * * * *")
	v.SetDefault("scheduler.tasks."+TaskHealthProbe+".enabled", true)
	v.SetDefault("scheduler.tasks."+TaskLogRetention+".schedule", "30 5 * * *")
	v.SetDefault("scheduler.tasks."+TaskLogRetention+".enabled", true)
}

// IsDebug 是否为调试模式
func (c *Config) IsDebug() bool {
	return c.Server.Mode == "debug"
}

// IsRelease 是否为发布模式
func (c *Config) IsRelease() bool {
	return c.Server.Mode == "release"
}
