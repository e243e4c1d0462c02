package main

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dumeirei/loyalty-settlement/internal/common/config"
	"github.com/dumeirei/loyalty-settlement/internal/common/jwt"
	"github.com/dumeirei/loyalty-settlement/internal/common/metrics"
	commonMiddleware "github.com/dumeirei/loyalty-settlement/internal/common/middleware"
	"github.com/dumeirei/loyalty-settlement/internal/common/response"
	settlementHandler "github.com/dumeirei/loyalty-settlement/internal/handler/settlement"
	"github.com/dumeirei/loyalty-settlement/internal/middleware"
	"github.com/dumeirei/loyalty-settlement/internal/repository"
)

const adminSettlementPrefix = "/api/v1/admin/settlement"

// setupRouter 设置路由
func setupRouter(
	r *gin.Engine,
	cfg *config.Config,
	logger *zap.Logger,
	a *app,
	m *metrics.Metrics,
) {
	// 创建 JWT 管理器
	jwtManager := jwt.NewManager(&jwt.Config{
		Secret:           cfg.JWT.Secret,
		AccessExpireTime: cfg.JWT.AccessTokenDuration(),
		Issuer:           cfg.JWT.Issuer,
	})

	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	// 全局中间件
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID())
	if cfg.Tracing.Enabled {
		r.Use(commonMiddleware.Tracing(&commonMiddleware.TracingConfig{
			ServiceName: cfg.Tracing.ServiceName,
			SkipPaths:   []string{"/health", "/ping", "/ready", metricsPath},
		}))
	}
	r.Use(m.Middleware())
	r.Use(middleware.AccessLog(logger))

	// 健康检查（不需要认证）
	r.GET("/health", healthHandler)
	r.GET("/ping", pingHandler)
	r.GET("/ready", readyHandler(a))

	if cfg.Metrics.Enabled {
		r.GET(metricsPath, m.Handler())
	}

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "")
	})

	// 管理端结算接口
	settlementH := settlementHandler.NewHandler(a.settlement, a.scheduler)

	opLogger := commonMiddleware.NewOperationLogger(repository.NewOperationLogRepository(a.db), adminSettlementPrefix)

	admin := r.Group(adminSettlementPrefix)
	admin.Use(middleware.AdminAuth(jwtManager))
	admin.Use(middleware.RequireRoles(jwt.RoleFinance))
	admin.Use(opLogger.Log())
	settlementH.RegisterRoutes(admin)
}
