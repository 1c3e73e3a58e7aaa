package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamChannel 状态常量
// 状态机: disconnected → connecting → open → disconnected（正常关闭）
// 或 open → error → disconnected（异常断开）
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusOpen         = "open"
	StatusError        = "error"
)

// StreamChannel 流式投递通道（WebSocket 客户端）
// 仅在前台使用；断开后不自动重连，由持有方再次调用 Connect
type StreamChannel struct {
	logger *zap.Logger
	url    string

	mu     sync.RWMutex
	conn   *websocket.Conn
	status string
}

// NewStreamChannel 创建流式通道
func NewStreamChannel(logger *zap.Logger, url string) *StreamChannel {
	return &StreamChannel{
		logger: logger,
		url:    url,
		status: StatusDisconnected,
	}
}

// Status 获取当前状态
func (c *StreamChannel) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsOpen 检查通道是否可以发送
func (c *StreamChannel) IsOpen() bool {
	return c.Status() == StatusOpen
}

// Connect 建立 WebSocket 连接
// 已经 open 时为空操作
func (c *StreamChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusOpen || c.status == StatusConnecting {
		c.mu.Unlock()
		c.logger.Debug("Stream channel already connected")
		return nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.status = StatusError
		c.mu.Unlock()
		c.logger.Warn("Stream channel connect failed", zap.String("url", c.url), zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.status = StatusOpen
	c.mu.Unlock()

	c.logger.Info("Stream channel connected", zap.String("url", c.url))

	go c.readLoop(conn)

	return nil
}

// Send 发送一条 JSON 消息，fire-and-forget
// 通道未打开时静默丢弃，仅留日志，不视为错误
func (c *StreamChannel) Send(v interface{}) {
	c.mu.RLock()
	conn := c.conn
	open := c.status == StatusOpen
	c.mu.RUnlock()

	if !open || conn == nil {
		c.logger.Debug("Stream channel not open, message dropped")
		return
	}

	if err := conn.WriteJSON(v); err != nil {
		c.logger.Warn("Stream channel write failed", zap.Error(err))
	}
}

// Close 关闭连接，幂等
func (c *StreamChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.status = StatusDisconnected
		return nil
	}

	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected

	c.logger.Info("Stream channel closed")
	return conn.Close()
}

// readLoop 读取循环，只用于感知对端关闭
// 通过连接身份判断，避免旧循环覆盖新连接的状态
func (c *StreamChannel) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.status = StatusDisconnected
					c.logger.Debug("Stream channel closed by peer")
				} else {
					c.status = StatusError
					c.logger.Warn("Stream channel read error", zap.Error(err))
				}
				conn.Close()
			}
			c.mu.Unlock()
			return
		}
	}
}
