// Package http 风控管理 REST 接口
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/riskengine/internal/risk/application"
)

// RiskHandler 负责处理限额与告警管理相关的 HTTP 请求
type RiskHandler struct {
	svc *application.ManagementService
}

// NewRiskHandler 创建 HTTP 处理器
func NewRiskHandler(svc *application.ManagementService) *RiskHandler {
	return &RiskHandler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *RiskHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/risk")

	alerts := api.Group("/alerts")
	{
		alerts.GET("", h.ListOpenAlerts)
		alerts.GET("/critical", h.ListCriticalAlerts)
		alerts.GET("/summary", h.AlertSummary)
		alerts.GET("/account/:accountCode", h.ListAccountAlerts)
		alerts.GET("/trade/:tradeId", h.ListTradeAlerts)
		alerts.GET("/:id", h.GetAlert)
		alerts.POST("/:id/acknowledge", h.AcknowledgeAlert)
		alerts.POST("/:id/resolve", h.ResolveAlert)
		alerts.POST("/:id/dismiss", h.DismissAlert)
	}

	limits := api.Group("/limits")
	{
		limits.GET("", h.ListLimits)
		limits.POST("", h.CreateLimit)
		limits.GET("/account/:accountCode", h.ListAccountLimits)
		limits.GET("/:id", h.GetLimit)
		limits.PUT("/:id", h.UpdateLimit)
		limits.DELETE("/:id", h.DeactivateLimit)
	}
}

// ListOpenAlerts OPEN 告警
func (h *RiskHandler) ListOpenAlerts(c *gin.Context) {
	out, err := h.svc.ListOpenAlerts(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// ListCriticalAlerts 高等级 OPEN 告警
func (h *RiskHandler) ListCriticalAlerts(c *gin.Context) {
	out, err := h.svc.ListCriticalAlerts(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// AlertSummary OPEN 告警按等级统计
func (h *RiskHandler) AlertSummary(c *gin.Context) {
	out, err := h.svc.AlertSummary(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// GetAlert 查询单个告警
func (h *RiskHandler) GetAlert(c *gin.Context) {
	out, err := h.svc.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// ListAccountAlerts 账户近期告警，since 为 RFC3339，status 可选
func (h *RiskHandler) ListAccountAlerts(c *gin.Context) {
	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ErrorWithStatus(c, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = &t
	}

	out, err := h.svc.ListAccountAlerts(c.Request.Context(), c.Param("accountCode"), since, c.Query("status"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// ListTradeAlerts 交易触发的告警
func (h *RiskHandler) ListTradeAlerts(c *gin.Context) {
	out, err := h.svc.ListTradeAlerts(c.Request.Context(), c.Param("tradeId"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// AcknowledgeAlert 确认告警
func (h *RiskHandler) AcknowledgeAlert(c *gin.Context) {
	var req application.AcknowledgeAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.svc.AcknowledgeAlert(c.Request.Context(), c.Param("id"), req.AcknowledgedBy)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// ResolveAlert 关闭告警
func (h *RiskHandler) ResolveAlert(c *gin.Context) {
	out, err := h.svc.ResolveAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// DismissAlert 忽略告警
func (h *RiskHandler) DismissAlert(c *gin.Context) {
	out, err := h.svc.DismissAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// ListLimits 全部限额
func (h *RiskHandler) ListLimits(c *gin.Context) {
	out, err := h.svc.ListLimits(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// ListAccountLimits 账户生效限额
func (h *RiskHandler) ListAccountLimits(c *gin.Context) {
	out, err := h.svc.ListAccountLimits(c.Request.Context(), c.Param("accountCode"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// GetLimit 查询限额
func (h *RiskHandler) GetLimit(c *gin.Context) {
	id, ok := limitID(c)
	if !ok {
		return
	}
	out, err := h.svc.GetLimit(c.Request.Context(), id)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// CreateLimit 创建限额
func (h *RiskHandler) CreateLimit(c *gin.Context) {
	var req application.CreateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.svc.CreateLimit(c.Request.Context(), req)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, out)
}

// UpdateLimit 修改限额
func (h *RiskHandler) UpdateLimit(c *gin.Context) {
	id, ok := limitID(c)
	if !ok {
		return
	}
	var req application.UpdateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.svc.UpdateLimit(c.Request.Context(), id, req)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, out)
}

// DeactivateLimit 停用限额
func (h *RiskHandler) DeactivateLimit(c *gin.Context) {
	id, ok := limitID(c)
	if !ok {
		return
	}
	if err := h.svc.DeactivateLimit(c.Request.Context(), id); err != nil {
		Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func limitID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		ErrorWithStatus(c, http.StatusBadRequest, "invalid limit id")
		return 0, false
	}
	return id, true
}
