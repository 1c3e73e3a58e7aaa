package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListBuffer 查看本地缓冲中的未投递记录
func (h *Handler) ListBuffer(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.bufferRepo.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list buffer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list buffer"})
		return
	}

	total, err := h.bufferRepo.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count buffer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count buffer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

// ClearBuffer 清空本地缓冲
// 显式维护操作，投递逻辑不会自动清空
func (h *Handler) ClearBuffer(c *gin.Context) {
	if err := h.bufferRepo.Clear(c.Request.Context()); err != nil {
		h.logger.Error("Failed to clear buffer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear buffer"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
