package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/location"
	"github.com/langchou/drivertrack/internal/models"
	"github.com/langchou/drivertrack/internal/trip"
)

// StartTrip 开始行程
func (h *Handler) StartTrip(c *gin.Context) {
	var req struct {
		Metadata models.TripMetadata `json:"metadata"`
		Mode     string              `json:"mode"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	mode := location.Mode(req.Mode)
	if mode != "" && mode != location.ModeForeground && mode != location.ModeBackground {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mode"})
		return
	}

	if err := h.session.Start(c.Request.Context(), req.Metadata, mode); err != nil {
		h.tripError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.session.Snapshot())
}

// PauseTrip 暂停行程
func (h *Handler) PauseTrip(c *gin.Context) {
	if err := h.session.Pause(c.Request.Context()); err != nil {
		h.tripError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// ResumeTrip 恢复行程
func (h *Handler) ResumeTrip(c *gin.Context) {
	if err := h.session.Resume(c.Request.Context()); err != nil {
		h.tripError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// CompleteTrip 完成行程
func (h *Handler) CompleteTrip(c *gin.Context) {
	var req struct {
		EndLocation *models.LocationFix `json:"end_location"`
	}
	// 请求体可为空，结束位置默认取最后一次定位
	_ = c.BindJSON(&req)

	if err := h.session.Complete(c.Request.Context(), req.EndLocation); err != nil {
		h.tripError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

// SetTripMode 切换采样模式（应用前后台切换）
func (h *Handler) SetTripMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	mode := location.Mode(req.Mode)
	if mode != location.ModeForeground && mode != location.ModeBackground {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mode"})
		return
	}

	if err := h.session.SetMode(c.Request.Context(), mode); err != nil {
		h.tripError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// UpdateTripMetadata 更新行程元数据字段
func (h *Handler) UpdateTripMetadata(c *gin.Context) {
	var req struct {
		Field string `json:"field" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.session.UpdateField(req.Field, req.Value); err != nil {
		h.tripError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// GetTrip 获取行程只读模型
func (h *Handler) GetTrip(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// ListTrips 获取历史行程
func (h *Handler) ListTrips(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	trips, err := h.tripRepo.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list trips", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list trips"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trips": trips, "count": len(trips)})
}

// tripError 行程命令错误到 HTTP 状态码的映射
// 管线内部错误（投递失败等）不会到达这里，只有启动类失败对用户可见
func (h *Handler) tripError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrAlreadyActive):
		c.JSON(http.StatusConflict, gin.H{"error": "Trip already active"})
	case errors.Is(err, trip.ErrNotActive), errors.Is(err, trip.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, location.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "Enable location permissions in Settings"})
	case errors.Is(err, location.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Location provider unavailable"})
	default:
		h.logger.Error("Trip command failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start tracking"})
	}
}
