package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/geo"
	"github.com/langchou/drivertrack/internal/models"
	"github.com/langchou/drivertrack/internal/repository"
)

// durablePayload 持久化链路的 HTTP 投递报文
type durablePayload struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
	Accuracy  *float64 `json:"accuracy"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
	Timestamp string   `json:"timestamp"` // ISO-8601
}

// Router 遥测投递路由
// 每条记录恰好走一条链路：通道打开时走流式，否则 HTTP 投递，
// 失败时同步写入本地缓冲，保证记录不被静默丢弃
type Router struct {
	logger     *zap.Logger
	buffer     *repository.BufferRepository
	endpoint   string
	httpClient *http.Client
}

// NewRouter 创建投递路由
func NewRouter(logger *zap.Logger, buffer *repository.BufferRepository, endpoint string, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Router{
		logger:   logger,
		buffer:   buffer,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send 投递一条遥测记录
// 流式链路 fire-and-forget，允许在重连期间丢消息；
// 持久化链路失败时缓冲写入在返回前完成，调用方永远收不到错误
func (r *Router) Send(ctx context.Context, rec *models.TelemetryRecord, ch *StreamChannel) {
	if ch != nil && ch.IsOpen() {
		ch.Send(streamPayload(rec))
		return
	}

	if err := r.postRemote(ctx, rec); err != nil {
		r.logger.Warn("Remote delivery failed, buffering record",
			zap.String("endpoint", r.endpoint),
			zap.Error(err))

		entry := entryFromRecord(rec)
		if err := r.buffer.Insert(ctx, entry); err != nil {
			// 记录丢失，除日志外没有更高级别的兜底
			r.logger.Error("Failed to buffer record, record lost",
				zap.Float64("latitude", rec.Fix.Latitude),
				zap.Float64("longitude", rec.Fix.Longitude),
				zap.Error(err))
			return
		}
		r.logger.Debug("Record buffered", zap.Int64("entry_id", entry.ID))
	}
}

// postRemote 尝试 HTTP 投递，超时由 httpClient 限定
func (r *Router) postRemote(ctx context.Context, rec *models.TelemetryRecord) error {
	payload := durablePayload{
		Latitude:  rec.Fix.Latitude,
		Longitude: rec.Fix.Longitude,
		Altitude:  rec.Fix.Altitude,
		Accuracy:  rec.Fix.Accuracy,
		Speed:     rec.Fix.Speed,
		Heading:   rec.Fix.Heading,
		Timestamp: rec.Fix.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post telemetry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post telemetry: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// streamPayload 流式链路报文：元数据字段平铺 + 实时行程数据
func streamPayload(rec *models.TelemetryRecord) map[string]interface{} {
	payload := make(map[string]interface{}, len(rec.Metadata)+7)
	for k, v := range rec.Metadata {
		payload[k] = v
	}
	payload["latitude"] = rec.Fix.Latitude
	payload["longitude"] = rec.Fix.Longitude
	payload["speed"] = geo.SpeedKmh(rec.Fix.Speed)
	payload["distance"] = rec.DistanceKm
	payload["duration"] = geo.FormatSeconds(rec.DurationSeconds)
	payload["timestamp"] = rec.Timestamp.UnixMilli()
	payload["source"] = "foreground"
	return payload
}

// entryFromRecord 将遥测记录展平为缓冲表行
func entryFromRecord(rec *models.TelemetryRecord) *models.BufferedEntry {
	return &models.BufferedEntry{
		Latitude:  rec.Fix.Latitude,
		Longitude: rec.Fix.Longitude,
		Altitude:  rec.Fix.Altitude,
		Accuracy:  rec.Fix.Accuracy,
		Speed:     rec.Fix.Speed,
		Heading:   rec.Fix.Heading,
		Timestamp: rec.Fix.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
