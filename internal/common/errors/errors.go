// Package errors 定义业务错误码和错误处理
package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 错误码相同即视为同一类错误，WithError/WithMessage 派生的错误仍可被 errors.Is 识别
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建新的应用错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithMessage 修改错误消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Err:     e.Err,
	}
}

// WithError 添加原始错误
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// 通用错误码 (1000-1999)
var (
	ErrUnknown         = New(1000, "未知错误")
	ErrInvalidParams   = New(1001, "参数错误")
	ErrNotFound        = New(1002, "资源不存在")
	ErrDatabaseError   = New(1004, "数据库错误")
	ErrCacheError      = New(1005, "缓存错误")
	ErrInternalError   = New(1006, "内部错误")
	ErrExternalService = New(1007, "外部服务错误")
)

// 认证错误码 (2000-2999)
var (
	ErrUnauthorized     = New(2000, "未登录")
	ErrTokenExpired     = New(2001, "登录已过期")
	ErrTokenInvalid     = New(2002, "无效的令牌")
	ErrPermissionDenied = New(2004, "权限不足")
)

// 结算错误码 (10000-10099)
var (
	ErrComputation             = New(10000, "结算计算失败")
	ErrPersistence             = New(10001, "结算持久化失败")
	ErrDirectoryUnavailable    = New(10002, "商户目录不可用")
	ErrBatchTotalFailure       = New(10003, "批次全部失败")
	ErrBatchInProgress         = New(10004, "相同周期的批次正在执行")
	ErrInvalidBatchType        = New(10005, "无效的批次类型")
	ErrInvalidPeriod           = New(10006, "无效的结算周期")
	ErrSettlementNotFound      = New(10007, "结算记录不存在")
	ErrSettlementStatusInvalid = New(10008, "结算状态不允许该操作")
	ErrSettlementExists        = New(10009, "该周期的结算记录已存在")
	ErrBatchLogFailed          = New(10010, "批次日志写入失败")
	ErrBatchLogFinalized       = New(10011, "批次日志已终结")
)

// 调度错误码 (10100-10199)
var (
	ErrTaskNotFound     = New(10100, "定时任务不存在")
	ErrTaskExists       = New(10101, "定时任务已存在")
	ErrTaskDisabled     = New(10102, "定时任务已禁用")
	ErrTaskRunning      = New(10103, "定时任务正在执行")
	ErrInvalidSchedule  = New(10104, "无效的调度表达式")
	ErrTaskFailed       = New(10105, "定时任务执行失败")
	ErrSchedulerStopped = New(10106, "调度器正在停止")
)

// IsAppError 判断是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return ErrUnknown.WithError(err)
}

// Is 透传标准库 errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
