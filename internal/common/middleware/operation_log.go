// Package middleware 提供 HTTP 中间件
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/loyalty-settlement/internal/common/logger"
	"github.com/dumeirei/loyalty-settlement/internal/models"
)

// OperationLogStore 操作日志存储
type OperationLogStore interface {
	Create(ctx context.Context, log *models.OperationLog) error
}

// OperationLogger 操作日志中间件
type OperationLogger struct {
	store  OperationLogStore
	prefix string
	done   func()
}

// NewOperationLogger 创建操作日志中间件，prefix 为路由组前缀
func NewOperationLogger(store OperationLogStore, prefix string) *OperationLogger {
	return &OperationLogger{store: store, prefix: strings.TrimSuffix(prefix, "/")}
}

// OperationConfig 操作配置
type OperationConfig struct {
	Module     string
	Action     string
	TargetType string
}

// moduleActionMap 路由到审计动作的映射，键为去掉前缀后的路由
var moduleActionMap = map[string]OperationConfig{
	"POST /settlements/:id/approve": {
		Module:     "settlement",
		Action:     "approve",
		TargetType: "settlement",
	},
	"POST /settlements/:id/pay": {
		Module:     "settlement",
		Action:     "mark_paid",
		TargetType: "settlement",
	},
	"POST /settlements/:id/reject": {
		Module:     "settlement",
		Action:     "reject",
		TargetType: "settlement",
	},
	"POST /settlements/manual": {
		Module:     "settlement",
		Action:     "create_manual",
		TargetType: "business",
	},
	"POST /settlements/realtime": {
		Module:     "settlement",
		Action:     "realtime_check",
		TargetType: "business",
	},
	"POST /batches": {
		Module: "batch",
		Action: "run",
	},
	"POST /tasks/:task_id/run": {
		Module:     "scheduler",
		Action:     "run",
		TargetType: "task",
	},
	"PUT /tasks/:task_id/enabled": {
		Module:     "scheduler",
		Action:     "set_enabled",
		TargetType: "task",
	},
	"PUT /tasks/:task_id/schedule": {
		Module:     "scheduler",
		Action:     "reschedule",
		TargetType: "task",
	},
}

// sensitiveFields 请求体中需要脱敏的字段
var sensitiveFields = []string{
	"password", "token", "secret", "access_key",
}

// Log 操作日志中间件处理函数
func (l *OperationLogger) Log() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 只记录写操作
		if !shouldLog(c.Request.Method) {
			c.Next()
			return
		}

		// 读取请求体
		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		c.Next()

		log, ok := l.buildLog(c, requestBody)
		if !ok {
			return
		}

		// 异步落库
		go l.save(log)
	}
}

// shouldLog 判断是否需要记录日志
func shouldLog(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	}
	return false
}

// buildLog 根据请求构建日志记录，未登录的请求不记录
func (l *OperationLogger) buildLog(c *gin.Context, requestBody []byte) (*models.OperationLog, bool) {
	adminID, ok := getAdminID(c)
	if !ok {
		return nil, false
	}

	config := l.lookup(c.Request.Method, c.FullPath())

	log := &models.OperationLog{
		AdminID:    adminID,
		Module:     config.Module,
		Action:     config.Action,
		StatusCode: c.Writer.Status(),
		IP:         c.ClientIP(),
	}

	if userAgent := c.Request.UserAgent(); userAgent != "" {
		log.UserAgent = &userAgent
	}

	if config.TargetType != "" {
		targetType := config.TargetType
		log.TargetType = &targetType
	}
	if idStr := c.Param("id"); idStr != "" {
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			log.TargetID = &id
		}
	}
	if key := c.Param("task_id"); key != "" {
		log.TargetKey = &key
	}

	// 设置请求数据
	if len(requestBody) > 0 {
		var data map[string]interface{}
		if err := json.Unmarshal(requestBody, &data); err == nil {
			filtered := filterSensitiveData(data).(map[string]interface{})
			log.AfterData = filtered
			if log.TargetID == nil {
				log.TargetID = businessIDFrom(filtered)
			}
		}
	}

	return log, true
}

// save 保存日志，失败只记录错误
func (l *OperationLogger) save(log *models.OperationLog) {
	if l.done != nil {
		defer l.done()
	}
	if l.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Create(ctx, log); err != nil {
		logger.Error("保存操作日志失败",
			logger.AdminID(log.AdminID),
			zap.String("action", log.Module+"."+log.Action),
			zap.Error(err),
		)
	}
}

// lookup 查找路由对应的操作配置，未配置时按方法推断
func (l *OperationLogger) lookup(method, fullPath string) OperationConfig {
	route := strings.TrimPrefix(fullPath, l.prefix)
	if config, ok := moduleActionMap[method+" "+route]; ok {
		return config
	}

	module := "unknown"
	if parts := strings.Split(strings.Trim(route, "/"), "/"); len(parts) > 0 && parts[0] != "" {
		module = parts[0]
	}

	action := "unknown"
	switch method {
	case http.MethodPost:
		action = "create"
	case http.MethodPut, http.MethodPatch:
		action = "update"
	case http.MethodDelete:
		action = "delete"
	}

	return OperationConfig{Module: module, Action: action}
}

func getAdminID(c *gin.Context) (int64, bool) {
	v, ok := c.Get("admin_id")
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}

// businessIDFrom 从请求体提取商户ID作为目标
func businessIDFrom(data map[string]interface{}) *int64 {
	v, ok := data["business_id"].(float64)
	if !ok || v <= 0 {
		return nil
	}
	id := int64(v)
	return &id
}

// filterSensitiveData 过滤敏感数据
func filterSensitiveData(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, value := range v {
			lowerKey := strings.ToLower(key)
			isSensitive := false
			for _, sf := range sensitiveFields {
				if strings.Contains(lowerKey, sf) {
					isSensitive = true
					break
				}
			}
			if isSensitive {
				result[key] = "***"
			} else {
				result[key] = filterSensitiveData(value)
			}
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = filterSensitiveData(item)
		}
		return result
	default:
		return data
	}
}
