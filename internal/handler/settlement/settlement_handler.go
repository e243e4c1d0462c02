// Package settlement 结算与定时任务管理端 HTTP Handler
package settlement

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dumeirei/loyalty-settlement/internal/common/handler"
	"github.com/dumeirei/loyalty-settlement/internal/common/response"
	"github.com/dumeirei/loyalty-settlement/internal/models"
	"github.com/dumeirei/loyalty-settlement/internal/repository"
	"github.com/dumeirei/loyalty-settlement/internal/scheduler"
	settlementService "github.com/dumeirei/loyalty-settlement/internal/service/settlement"
)

// Handler 结算管理处理器
type Handler struct {
	settlementService *settlementService.Service
	scheduler         *scheduler.Scheduler
}

// NewHandler 创建结算管理处理器
func NewHandler(settlementSvc *settlementService.Service, s *scheduler.Scheduler) *Handler {
	return &Handler{
		settlementService: settlementSvc,
		scheduler:         s,
	}
}

// RegisterRoutes 注册结算管理路由，调用方负责挂载认证中间件
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	tasks := rg.Group("/tasks")
	{
		tasks.GET("", h.ListTasks)
		tasks.GET("/:task_id", h.GetTask)
		tasks.POST("/:task_id/run", h.RunTask)
		tasks.PUT("/:task_id/enabled", h.SetTaskEnabled)
		tasks.PUT("/:task_id/schedule", h.RescheduleTask)
	}

	batches := rg.Group("/batches")
	{
		batches.GET("", h.ListBatchLogs)
		batches.POST("", h.RunBatch)
	}

	settlements := rg.Group("/settlements")
	{
		settlements.GET("", h.ListSettlements)
		settlements.GET("/summary", h.SummarizeSettlements)
		settlements.GET("/no/:settlement_no", h.GetSettlementByNo)
		settlements.POST("/manual", h.CreateManualSettlement)
		settlements.POST("/realtime", h.CheckRealtime)
		settlements.GET("/:id", h.GetSettlement)
		settlements.POST("/:id/approve", h.ApproveSettlement)
		settlements.POST("/:id/pay", h.MarkSettlementPaid)
		settlements.POST("/:id/reject", h.RejectSettlement)
	}
}

// ListTasks 获取定时任务列表
// @Summary 获取定时任务列表
// @Tags 管理-结算任务
// @Produce json
// @Security Bearer
// @Success 200 {object} response.Response{data=[]scheduler.TaskSnapshot}
// @Router /api/v1/admin/settlement/tasks [get]
func (h *Handler) ListTasks(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}
	response.Success(c, h.scheduler.List())
}

// GetTask 获取定时任务详情
// @Summary 获取定时任务详情
// @Tags 管理-结算任务
// @Produce json
// @Security Bearer
// @Param task_id path string true "任务ID"
// @Success 200 {object} response.Response{data=scheduler.TaskSnapshot}
// @Router /api/v1/admin/settlement/tasks/{task_id} [get]
func (h *Handler) GetTask(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}
	snap, err := h.scheduler.Get(c.Param("task_id"))
	handler.MustSucceed(c, err, snap)
}

// RunTask 立即执行定时任务
// @Summary 立即执行定时任务
// @Tags 管理-结算任务
// @Produce json
// @Security Bearer
// @Param task_id path string true "任务ID"
// @Success 200 {object} response.Response{data=scheduler.RunRecord}
// @Router /api/v1/admin/settlement/tasks/{task_id}/run [post]
func (h *Handler) RunTask(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}
	record, err := h.scheduler.RunNow(c.Request.Context(), c.Param("task_id"))
	handler.MustSucceed(c, err, record)
}

// SetTaskEnabledRequest 启停任务请求
type SetTaskEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetTaskEnabled 启用或停用定时任务
// @Summary 启用或停用定时任务
// @Tags 管理-结算任务
// @Accept json
// @Produce json
// @Security Bearer
// @Param task_id path string true "任务ID"
// @Param request body SetTaskEnabledRequest true "启停状态"
// @Success 200 {object} response.Response{data=scheduler.TaskSnapshot}
// @Router /api/v1/admin/settlement/tasks/{task_id}/enabled [put]
func (h *Handler) SetTaskEnabled(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	var req SetTaskEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	id := c.Param("task_id")
	if handler.HandleError(c, h.scheduler.SetEnabled(id, *req.Enabled)) {
		return
	}
	snap, err := h.scheduler.Get(id)
	handler.MustSucceed(c, err, snap)
}

// RescheduleTaskRequest 修改调度表达式请求
type RescheduleTaskRequest struct {
	Schedule string `json:"schedule" binding:"required"`
}

// RescheduleTask 修改定时任务调度表达式
// @Summary 修改定时任务调度表达式
// @Tags 管理-结算任务
// @Accept json
// @Produce json
// @Security Bearer
// @Param task_id path string true "任务ID"
// @Param request body RescheduleTaskRequest true "cron 表达式"
// @Success 200 {object} response.Response{data=scheduler.TaskSnapshot}
// @Router /api/v1/admin/settlement/tasks/{task_id}/schedule [put]
func (h *Handler) RescheduleTask(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	var req RescheduleTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	id := c.Param("task_id")
	if handler.HandleError(c, h.scheduler.Reschedule(id, req.Schedule)) {
		return
	}
	snap, err := h.scheduler.Get(id)
	handler.MustSucceed(c, err, snap)
}

// RunBatchRequest 手动执行批次请求
// 未指定周期时使用批次类型的默认窗口
type RunBatchRequest struct {
	BatchType   string `json:"batch_type" binding:"required,oneof=daily weekly monthly"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

// RunBatch 手动执行结算批次
// @Summary 手动执行结算批次
// @Tags 管理-结算
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body RunBatchRequest true "批次参数"
// @Success 200 {object} response.Response{data=settlementService.BatchOutcome}
// @Router /api/v1/admin/settlement/batches [post]
func (h *Handler) RunBatch(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	var req RunBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	var start, end time.Time
	if req.PeriodStart == "" && req.PeriodEnd == "" {
		var err error
		start, end, err = settlementService.WindowFor(req.BatchType, h.settlementService.Now(), h.settlementService.Location())
		if handler.HandleError(c, err) {
			return
		}
	} else {
		var ok bool
		start, end, ok = h.parsePeriod(c, req.PeriodStart, req.PeriodEnd)
		if !ok {
			return
		}
	}

	outcome, err := h.settlementService.RunBatch(c.Request.Context(), req.BatchType, start, end)
	handler.MustSucceed(c, err, outcome)
}

// ListBatchLogs 获取批次日志列表
// @Summary 获取批次日志列表
// @Tags 管理-结算
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param batch_type query string false "批次类型"
// @Param status query string false "批次状态"
// @Param start_date query string false "开始时间"
// @Param end_date query string false "结束时间"
// @Success 200 {object} response.Response{data=response.PageData{list=[]models.BatchLog}}
// @Router /api/v1/admin/settlement/batches [get]
func (h *Handler) ListBatchLogs(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	filter := &repository.BatchLogFilter{
		BatchType: c.Query("batch_type"),
		Status:    c.Query("status"),
	}
	var ok bool
	if filter.StartDate, ok = h.parseOptionalTime(c, "start_date"); !ok {
		return
	}
	if filter.EndDate, ok = h.parseOptionalTime(c, "end_date"); !ok {
		return
	}

	logs, total, err := h.settlementService.ListBatchLogs(c.Request.Context(), filter, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, logs, total, p.Page, p.PageSize)
}

// ListSettlements 获取结算列表
// @Summary 获取结算列表
// @Tags 管理-结算
// @Produce json
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Param business_id query int false "商户ID"
// @Param settlement_type query string false "结算类型"
// @Param status query string false "结算状态"
// @Param is_automatic query bool false "是否自动生成"
// @Param start_date query string false "周期开始不早于"
// @Param end_date query string false "周期结束不晚于"
// @Success 200 {object} response.Response{data=response.PageData{list=[]models.Settlement}}
// @Router /api/v1/admin/settlement/settlements [get]
func (h *Handler) ListSettlements(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	p := handler.BindPagination(c)
	filter := &repository.SettlementFilter{
		SettlementType: c.Query("settlement_type"),
		Status:         c.Query("status"),
	}

	var ok bool
	if filter.BusinessID, ok = handler.ParseQueryID(c, "business_id", "商户"); !ok {
		return
	}
	if s := c.Query("is_automatic"); s != "" {
		automatic, err := strconv.ParseBool(s)
		if err != nil {
			response.BadRequest(c, "无效的 is_automatic 参数")
			return
		}
		filter.IsAutomatic = &automatic
	}
	if filter.PeriodStart, ok = h.parseOptionalTime(c, "start_date"); !ok {
		return
	}
	if filter.PeriodEnd, ok = h.parseOptionalTime(c, "end_date"); !ok {
		return
	}

	list, total, err := h.settlementService.ListSettlements(c.Request.Context(), filter, p.GetOffset(), p.GetLimit())
	handler.MustSucceedPage(c, err, list, total, p.Page, p.PageSize)
}

// SummarizeSettlements 按状态汇总结算单
// @Summary 结算状态汇总
// @Tags 管理-结算
// @Produce json
// @Security Bearer
// @Param start_date query string false "周期开始，默认本月一日"
// @Param end_date query string false "周期结束，默认下月一日"
// @Success 200 {object} response.Response{data=[]repository.SettlementSummary}
// @Router /api/v1/admin/settlement/settlements/summary [get]
func (h *Handler) SummarizeSettlements(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	start, end := h.settlementService.CurrentMonth()
	if c.Query("start_date") != "" || c.Query("end_date") != "" {
		var ok bool
		if start, end, ok = h.parsePeriod(c, c.Query("start_date"), c.Query("end_date")); !ok {
			return
		}
	}

	rows, err := h.settlementService.SummarizeSettlements(c.Request.Context(), start, end)
	handler.MustSucceed(c, err, gin.H{
		"period_start": start,
		"period_end":   end,
		"items":        rows,
	})
}

// GetSettlementByNo 按结算单号查询
// @Summary 按结算单号查询
// @Tags 管理-结算
// @Produce json
// @Security Bearer
// @Param settlement_no path string true "结算单号"
// @Success 200 {object} response.Response{data=models.Settlement}
// @Router /api/v1/admin/settlement/settlements/no/{settlement_no} [get]
func (h *Handler) GetSettlementByNo(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}
	s, err := h.settlementService.GetSettlementByNo(c.Request.Context(), c.Param("settlement_no"))
	handler.MustSucceed(c, err, s)
}

// GetSettlement 获取结算详情
// @Summary 获取结算详情
// @Tags 管理-结算
// @Produce json
// @Security Bearer
// @Param id path int true "结算ID"
// @Success 200 {object} response.Response{data=models.Settlement}
// @Router /api/v1/admin/settlement/settlements/{id} [get]
func (h *Handler) GetSettlement(c *gin.Context) {
	_, id, ok := handler.RequireAdminAndParseID(c, "结算")
	if !ok {
		return
	}
	s, err := h.settlementService.GetSettlement(c.Request.Context(), id)
	handler.MustSucceed(c, err, s)
}

// ApproveSettlement 审核通过
// @Summary 审核通过结算单
// @Tags 管理-结算
// @Produce json
// @Security Bearer
// @Param id path int true "结算ID"
// @Success 200 {object} response.Response{data=models.Settlement}
// @Router /api/v1/admin/settlement/settlements/{id}/approve [post]
func (h *Handler) ApproveSettlement(c *gin.Context) {
	adminID, id, ok := handler.RequireAdminAndParseID(c, "结算")
	if !ok {
		return
	}
	s, err := h.settlementService.Approve(c.Request.Context(), id, adminID)
	handler.MustSucceed(c, err, s)
}

// MarkSettlementPaid 标记已打款
// @Summary 标记结算单已打款
// @Tags 管理-结算
// @Produce json
// @Security Bearer
// @Param id path int true "结算ID"
// @Success 200 {object} response.Response{data=models.Settlement}
// @Router /api/v1/admin/settlement/settlements/{id}/pay [post]
func (h *Handler) MarkSettlementPaid(c *gin.Context) {
	adminID, id, ok := handler.RequireAdminAndParseID(c, "结算")
	if !ok {
		return
	}
	s, err := h.settlementService.MarkPaid(c.Request.Context(), id, adminID)
	handler.MustSucceed(c, err, s)
}

// RejectSettlementRequest 驳回请求
type RejectSettlementRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

// RejectSettlement 驳回结算单
// @Summary 驳回结算单
// @Tags 管理-结算
// @Accept json
// @Produce json
// @Security Bearer
// @Param id path int true "结算ID"
// @Param request body RejectSettlementRequest true "驳回原因"
// @Success 200 {object} response.Response{data=models.Settlement}
// @Router /api/v1/admin/settlement/settlements/{id}/reject [post]
func (h *Handler) RejectSettlement(c *gin.Context) {
	adminID, id, ok := handler.RequireAdminAndParseID(c, "结算")
	if !ok {
		return
	}

	var req RejectSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	s, err := h.settlementService.Reject(c.Request.Context(), id, adminID, req.Reason)
	handler.MustSucceed(c, err, s)
}

// ManualSettlementRequest 人工补录请求
type ManualSettlementRequest struct {
	BusinessID  int64  `json:"business_id" binding:"required,min=1"`
	PeriodStart string `json:"period_start" binding:"required"`
	PeriodEnd   string `json:"period_end" binding:"required"`
}

// CreateManualSettlement 人工补录结算单
// @Summary 人工补录结算单
// @Tags 管理-结算
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body ManualSettlementRequest true "补录参数"
// @Success 200 {object} response.Response{data=models.Settlement}
// @Router /api/v1/admin/settlement/settlements/manual [post]
func (h *Handler) CreateManualSettlement(c *gin.Context) {
	adminID, ok := handler.RequireAdminID(c)
	if !ok {
		return
	}

	var req ManualSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	start, end, ok := h.parsePeriod(c, req.PeriodStart, req.PeriodEnd)
	if !ok {
		return
	}

	s, err := h.settlementService.CreateManualSettlement(c.Request.Context(), req.BusinessID, start, end, adminID)
	handler.MustSucceed(c, err, s)
}

// RealtimeCheckRequest 实时结算检查请求
type RealtimeCheckRequest struct {
	BusinessID int64 `json:"business_id" binding:"required,min=1"`
	Amount     int64 `json:"amount" binding:"required,min=1"`
}

// RealtimeCheckResult 实时结算检查结果
type RealtimeCheckResult struct {
	Settled    bool               `json:"settled"`
	Settlement *models.Settlement `json:"settlement,omitempty"`
}

// CheckRealtime 以一笔交易金额触发实时结算检查
// @Summary 触发实时结算检查
// @Tags 管理-结算
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body RealtimeCheckRequest true "交易信息"
// @Success 200 {object} response.Response{data=RealtimeCheckResult}
// @Router /api/v1/admin/settlement/settlements/realtime [post]
func (h *Handler) CheckRealtime(c *gin.Context) {
	if _, ok := handler.RequireAdminID(c); !ok {
		return
	}

	var req RealtimeCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	s := h.settlementService.MaybeSettleNow(c.Request.Context(), req.BusinessID, req.Amount)
	response.Success(c, RealtimeCheckResult{Settled: s != nil, Settlement: s})
}

// parsePeriod 解析结算周期，日期按结算时区解释
func (h *Handler) parsePeriod(c *gin.Context, startStr, endStr string) (start, end time.Time, ok bool) {
	if startStr == "" || endStr == "" {
		response.BadRequest(c, "请指定周期开始和结束时间")
		return time.Time{}, time.Time{}, false
	}
	loc := h.settlementService.Location()
	start, err := handler.ParseDateTime(startStr, loc)
	if err != nil {
		response.BadRequest(c, "无效的周期开始时间")
		return time.Time{}, time.Time{}, false
	}
	end, err = handler.ParseDateTime(endStr, loc)
	if err != nil {
		response.BadRequest(c, "无效的周期结束时间")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// parseOptionalTime 解析可选的时间查询参数
func (h *Handler) parseOptionalTime(c *gin.Context, name string) (*time.Time, bool) {
	s := c.Query(name)
	if s == "" {
		return nil, true
	}
	t, err := handler.ParseDateTime(s, h.settlementService.Location())
	if err != nil {
		response.BadRequest(c, "无效的时间参数: "+name)
		return nil, false
	}
	return &t, true
}
