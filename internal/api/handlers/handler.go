package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/location"
	"github.com/langchou/drivertrack/internal/repository"
	"github.com/langchou/drivertrack/internal/trip"
	"github.com/langchou/drivertrack/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger     *zap.Logger
	session    *trip.Session
	bufferRepo *repository.BufferRepository
	tripRepo   *repository.TripRepository
	provider   *location.PushProvider
	wsHub      *ws.Hub
	upgrader   websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	session *trip.Session,
	bufferRepo *repository.BufferRepository,
	tripRepo *repository.TripRepository,
	provider *location.PushProvider,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:     logger,
		session:    session,
		bufferRepo: bufferRepo,
		tripRepo:   tripRepo,
		provider:   provider,
		wsHub:      wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 行程命令
		api.POST("/trip/start", h.StartTrip)
		api.POST("/trip/pause", h.PauseTrip)
		api.POST("/trip/resume", h.ResumeTrip)
		api.POST("/trip/complete", h.CompleteTrip)
		api.POST("/trip/mode", h.SetTripMode)
		api.PUT("/trip/metadata", h.UpdateTripMetadata)

		// 只读模型与历史
		api.GET("/trip", h.GetTrip)
		api.GET("/trips", h.ListTrips)

		// 本地缓冲维护
		api.GET("/buffer", h.ListBuffer)
		api.DELETE("/buffer", h.ClearBuffer)

		// 设备桥接：上报定位
		api.POST("/location/fix", h.PushFix)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"trip_status": h.session.Status(),
		"ws_clients":  h.wsHub.ClientCount(),
	})
}
