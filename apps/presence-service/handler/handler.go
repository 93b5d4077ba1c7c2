package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dinguscord/apps/presence-service/model"
	"dinguscord/apps/presence-service/service"
	"dinguscord/pkg/logger"
)

// Handler 在线状态HTTP接口
type Handler struct {
	service *service.Service
	logger  logger.Logger
}

// NewHandler 创建Handler
func NewHandler(service *service.Service, logger logger.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes 注册路由，身份由认证中间件从凭证解析
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/presence")
	{
		api.POST("/heartbeat", h.Heartbeat) // 刷新心跳
		api.POST("/logout", h.Logout)       // 显式下线
		api.POST("/users", h.Users)         // 批量在线状态
	}
}

// identity 中间件解析出的用户ID
func (h *Handler) identity(c *gin.Context) (string, bool) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return "", false
	}
	return userID, true
}

// Heartbeat 刷新心跳
func (h *Handler) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := h.identity(c)
	if !ok {
		return
	}

	if err := h.service.Heartbeat(ctx, userID); err != nil {
		h.logger.Error(ctx, "Heartbeat failed",
			logger.F("userID", userID), logger.F("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "heartbeat failed"})
		return
	}

	c.JSON(http.StatusOK, model.HeartbeatResponse{
		Success:   true,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Logout 显式下线，立即转为离线
func (h *Handler) Logout(c *gin.Context) {
	ctx := c.Request.Context()
	userID, ok := h.identity(c)
	if !ok {
		return
	}

	if err := h.service.Logout(ctx, userID); err != nil {
		h.logger.Error(ctx, "Logout failed",
			logger.F("userID", userID), logger.F("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "logout failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Users 批量查询在线状态
func (h *Handler) Users(c *gin.Context) {
	ctx := c.Request.Context()
	if _, ok := h.identity(c); !ok {
		return
	}

	var req model.UsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.UsersResponse{
		OnlineStatus: h.service.QueryOnline(ctx, req.UserIDs),
	})
}
