// Package logger 提供结构化日志功能
package logger

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dumeirei/loyalty-settlement/internal/common/config"
)

// 输出方式
const (
	OutputStdout = "stdout"
	OutputFile   = "file"
	OutputBoth   = "both"
)

var (
	mu  sync.RWMutex
	log *zap.Logger
)

// Init 按配置初始化全局日志器
func Init(cfg *config.LoggerConfig) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	log = l
	mu.Unlock()
	return nil
}

// New 按配置创建日志器，不影响全局日志器
func New(cfg *config.LoggerConfig) (*zap.Logger, error) {
	writer, err := newWriteSyncer(cfg)
	if err != nil {
		return nil, err
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	options := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Caller {
		options = append(options, zap.AddCaller())
	}

	core := zapcore.NewCore(encoder, writer, getLogLevel(cfg.Level))
	return zap.New(core, options...), nil
}

// newWriteSyncer 按输出方式组合标准输出与滚动文件
func newWriteSyncer(cfg *config.LoggerConfig) (zapcore.WriteSyncer, error) {
	output := cfg.Output
	if output == "" {
		output = OutputStdout
	}

	var writers []zapcore.WriteSyncer
	switch output {
	case OutputStdout:
		writers = append(writers, zapcore.AddSync(os.Stdout))
	case OutputFile, OutputBoth:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("logger output %q requires file_path", output)
		}
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}))
		if output == OutputBoth {
			writers = append(writers, zapcore.AddSync(os.Stdout))
		}
	default:
		return nil, fmt.Errorf("unknown logger output %q", output)
	}
	return zapcore.NewMultiWriteSyncer(writers...), nil
}

// getLogLevel 解析日志级别，无法识别时为 info
func getLogLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil || level == "" {
		return zapcore.InfoLevel
	}
	return l
}

// GetLogger 获取全局日志器，未初始化时使用开发配置
func GetLogger() *zap.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		log, _ = zap.NewDevelopment()
	}
	return log
}

// Sync 同步日志
func Sync() error {
	return GetLogger().Sync()
}

// Debug 调试日志
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Info 信息日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Warn 警告日志
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error 错误日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Named 返回命名日志器
func Named(name string) *zap.Logger {
	return GetLogger().Named(name)
}

// AdminID 管理员ID字段
func AdminID(id int64) zap.Field {
	return zap.Int64("admin_id", id)
}

// BusinessID 商户ID字段
func BusinessID(id int64) zap.Field {
	return zap.Int64("business_id", id)
}

// SettlementID 结算单ID字段
func SettlementID(id int64) zap.Field {
	return zap.Int64("settlement_id", id)
}

// BatchType 批次类型字段
func BatchType(kind string) zap.Field {
	return zap.String("batch_type", kind)
}

// TaskID 定时任务ID字段
func TaskID(id string) zap.Field {
	return zap.String("task_id", id)
}

// Amount 金额字段（最小货币单位）
func Amount(v int64) zap.Field {
	return zap.Int64("amount", v)
}

// Period 结算周期字段
func Period(start, end time.Time) zap.Field {
	return zap.String("period", start.Format(time.RFC3339)+"~"+end.Format(time.RFC3339))
}

// Latency 耗时字段
func Latency(d time.Duration) zap.Field {
	return zap.Duration("latency", d)
}
