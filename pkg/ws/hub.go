package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/models"
)

// MessageType WebSocket 消息类型
const (
	MsgTypeInit       = "init"        // 初始化数据（当前行程快照）
	MsgTypeTripUpdate = "trip_update" // 行程只读模型更新
	MsgTypeError      = "error"       // 错误消息
)

// Message WebSocket 消息结构
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Client WebSocket 客户端
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub WebSocket 连接管理中心
// UI 订阅者通过 Hub 接收行程状态更新；没有从客户端到行程的写路径
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	// 当前行程快照提供者
	getSnapshot func() *models.TripSnapshot
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetSnapshotProvider 设置行程快照提供者
func (h *Hub) SetSnapshotProvider(provider func() *models.TripSnapshot) {
	h.getSnapshot = provider
}

// Run 运行 Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected", zap.Int("total_clients", total))

			// 发送当前行程快照
			h.sendInit(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client disconnected", zap.Int("total_clients", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 慢消费者，关闭连接
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// sendInit 发送当前行程快照给新连接的客户端
func (h *Hub) sendInit(client *Client) {
	if h.getSnapshot == nil {
		return
	}

	snap := h.getSnapshot()
	if snap == nil {
		return
	}

	data, err := json.Marshal(Message{Type: MsgTypeInit, Data: snap})
	if err != nil {
		h.logger.Error("Failed to marshal init snapshot", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
		h.logger.Debug("Sent init snapshot to client")
	default:
		h.logger.Warn("Failed to send init snapshot, client buffer full")
	}
}

// BroadcastTripUpdate 广播行程只读模型更新
func (h *Hub) BroadcastTripUpdate(snap *models.TripSnapshot) {
	data, err := json.Marshal(Message{Type: MsgTypeTripUpdate, Data: snap})
	if err != nil {
		h.logger.Error("Failed to marshal trip update", zap.Error(err))
		return
	}

	h.broadcast <- data
}

// ClientCount 获取客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Register 注册客户端
func (c *Client) Register() {
	c.hub.register <- c
}

// Unregister 注销客户端
func (c *Client) Unregister() {
	c.hub.unregister <- c
}

// ReadPump 读取消息（保持连接活跃）
func (c *Client) ReadPump() {
	defer func() {
		c.Unregister()
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		// 不处理客户端消息，UI 只能通过 HTTP 命令操作行程
	}
}

// WritePump 发送消息
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
