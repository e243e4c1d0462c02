// Package response 提供统一的 API 响应格式
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response API 统一响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// PageData 分页数据结构
type PageData struct {
	List     interface{} `json:"list"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// write 输出响应，附带请求 ID
func write(c *gin.Context, status, code int, message string, data interface{}) {
	c.JSON(status, Response{
		Code:      code,
		Message:   message,
		Data:      data,
		RequestID: c.GetString("request_id"),
	})
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	write(c, http.StatusOK, 0, "success", data)
}

// SuccessPage 分页成功响应
func SuccessPage(c *gin.Context, list interface{}, total int64, page, pageSize int) {
	write(c, http.StatusOK, 0, "success", PageData{
		List:     list,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// Error 业务错误响应，HTTP 状态码为 200，错误码见 errors 包
func Error(c *gin.Context, code int, message string) {
	write(c, http.StatusOK, code, message, nil)
}

// BadRequest 请求参数错误
func BadRequest(c *gin.Context, message string) {
	write(c, http.StatusBadRequest, 400, message, nil)
}

// Unauthorized 未授权
func Unauthorized(c *gin.Context, message string) {
	write(c, http.StatusUnauthorized, 401, orDefault(message, "unauthorized"), nil)
}

// Forbidden 禁止访问
func Forbidden(c *gin.Context, message string) {
	write(c, http.StatusForbidden, 403, orDefault(message, "forbidden"), nil)
}

// NotFound 资源不存在
func NotFound(c *gin.Context, message string) {
	write(c, http.StatusNotFound, 404, orDefault(message, "not found"), nil)
}

// InternalError 服务器内部错误
func InternalError(c *gin.Context, message string) {
	write(c, http.StatusInternalServerError, 500, orDefault(message, "internal server error"), nil)
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}
