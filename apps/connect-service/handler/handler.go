package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dinguscord/apps/connect-service/service"
	"dinguscord/pkg/httpx"
	"dinguscord/pkg/logger"
)

// Handler 连接服务的HTTP管理接口
type Handler struct {
	hub    *service.Hub
	logger logger.Logger
}

// NewHandler 创建Handler
func NewHandler(hub *service.Hub, logger logger.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

// RegisterRoutes 注册路由，WebSocket升级路由由服务器包装器单独挂载
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1/connect")
	{
		api.GET("/stats", h.Stats)                 // 本实例连接统计
		api.POST("/online_status", h.OnlineStatus) // socket级在线状态查询
	}
}

// Stats 本实例连接统计
func (h *Handler) Stats(c *gin.Context) {
	httpx.WriteObject(c, h.hub.Stats(), nil)
}

// OnlineStatus 批量查询用户是否有活跃socket连接
func (h *Handler) OnlineStatus(c *gin.Context) {
	ctx := c.Request.Context()
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.hub.OnlineStatus(ctx, req.UserIDs)
	if err != nil {
		h.logger.Error(ctx, "Online status query failed", logger.F("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "online status query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"online_status": status})
}
