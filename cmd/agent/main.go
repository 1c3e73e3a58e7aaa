package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/drivertrack/internal/api/handlers"
	"github.com/langchou/drivertrack/internal/config"
	"github.com/langchou/drivertrack/internal/delivery"
	"github.com/langchou/drivertrack/internal/geocoder"
	"github.com/langchou/drivertrack/internal/location"
	"github.com/langchou/drivertrack/internal/repository"
	"github.com/langchou/drivertrack/internal/trip"
	"github.com/langchou/drivertrack/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Drivertrack", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 打开嵌入式数据库
	db, err := repository.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	bufferRepo := repository.NewBufferRepository(db)
	tripRepo := repository.NewTripRepository(db)

	// 创建定位源（设备桥接端通过 API 推送定位）
	provider := location.NewPushProvider(logger, location.Permissions{
		Foreground: cfg.ForegroundGranted,
		Background: cfg.BackgroundGranted,
	})

	// 创建采样器
	sampler := location.NewSampler(logger, provider)

	// 创建投递链路
	stream := delivery.NewStreamChannel(logger, cfg.StreamEndpoint)
	router := delivery.NewRouter(logger, bufferRepo, cfg.RemoteEndpoint, cfg.DeliveryTimeout)

	// 逆地理编码（可选）
	var geocoderClient *geocoder.Client
	if cfg.GeocodeEnabled {
		geocoderClient = geocoder.NewClient(logger)
	}

	// 创建行程会话
	session := trip.NewSession(
		logger,
		trip.Options{
			SampleInterval:   cfg.SampleInterval,
			DeferredInterval: cfg.DeferredInterval,
		},
		sampler,
		router,
		stream,
		tripRepo,
		geocoderClient,
	)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	wsHub.SetSnapshotProvider(session.Snapshot)
	go wsHub.Run()

	// 订阅行程更新并广播到 WebSocket
	go func() {
		snapCh := session.Subscribe()
		for snap := range snapCh {
			wsHub.BroadcastTripUpdate(snap)
		}
	}()

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		session,
		bufferRepo,
		tripRepo,
		provider,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(engine)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: engine,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止采样与流式通道（不结束行程）
	session.Shutdown()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
