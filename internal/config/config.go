package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	ServerPort string
	Debug      bool

	// 数据库（嵌入式，缓冲 + 行程历史）
	DBPath string

	// 投递端点
	RemoteEndpoint string // 持久化链路 HTTP 端点
	StreamEndpoint string // 流式链路 WebSocket 端点

	// 采样
	SampleInterval   time.Duration // 前台轮询间隔
	DeferredInterval time.Duration // 后台批量合并间隔
	DeliveryTimeout  time.Duration // 持久化链路超时

	// 定位权限（部署时授予）
	ForegroundGranted bool
	BackgroundGranted bool

	// 逆地理编码
	GeocodeEnabled bool
}

func Load() (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:        getEnv("PORT", "4000"),
		Debug:             getEnvBool("DEBUG", false),
		DBPath:            getEnv("DB_PATH", "drivertrack.db"),
		RemoteEndpoint:    getEnv("REMOTE_ENDPOINT", "http://192.168.1.8:3000/api/location"),
		StreamEndpoint:    getEnv("STREAM_ENDPOINT", "ws://192.168.1.8:8080"),
		SampleInterval:    getEnvDuration("SAMPLE_INTERVAL", 3*time.Second),
		DeferredInterval:  getEnvDuration("DEFERRED_UPDATE_INTERVAL", 5*time.Second),
		DeliveryTimeout:   getEnvDuration("DELIVERY_TIMEOUT", 5*time.Second),
		ForegroundGranted: getEnvBool("LOCATION_FOREGROUND_GRANTED", true),
		BackgroundGranted: getEnvBool("LOCATION_BACKGROUND_GRANTED", true),
		GeocodeEnabled:    getEnvBool("GEOCODE_ENABLED", true),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
