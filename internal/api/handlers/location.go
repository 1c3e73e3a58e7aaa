package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/langchou/drivertrack/internal/models"
)

// PushFix 设备桥接端上报一次定位
func (h *Handler) PushFix(c *gin.Context) {
	var req struct {
		Latitude  *float64 `json:"latitude" binding:"required"`
		Longitude *float64 `json:"longitude" binding:"required"`
		Altitude  *float64 `json:"altitude"`
		Accuracy  *float64 `json:"accuracy"`
		Speed     *float64 `json:"speed"`
		Heading   *float64 `json:"heading"`
		Timestamp string   `json:"timestamp"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	fix := models.LocationFix{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Altitude:  req.Altitude,
		Accuracy:  req.Accuracy,
		Speed:     req.Speed,
		Heading:   req.Heading,
		Timestamp: time.Now(),
	}
	if req.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, req.Timestamp); err == nil {
			fix.Timestamp = ts
		}
	}

	h.provider.Push(fix)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
