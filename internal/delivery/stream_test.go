package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newEchoServer 启动一个把收到的 JSON 消息转发到 channel 的 WebSocket 服务端
func newEchoServer(t *testing.T, received chan map[string]interface{}) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case received <- msg:
			default:
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestStreamChannelConnect(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	server := newEchoServer(t, received)
	defer server.Close()

	ch := NewStreamChannel(zap.NewNop(), wsURL(server))
	if ch.Status() != StatusDisconnected {
		t.Fatalf("initial status should be disconnected, got %s", ch.Status())
	}

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	if !ch.IsOpen() {
		t.Fatalf("expected open, got %s", ch.Status())
	}

	// 已打开时重复 Connect 为空操作
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
}

func TestStreamChannelConnectFailure(t *testing.T) {
	ch := NewStreamChannel(zap.NewNop(), "ws://127.0.0.1:1/ws")

	if err := ch.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
	if ch.Status() != StatusError {
		t.Fatalf("expected error status, got %s", ch.Status())
	}
	if ch.IsOpen() {
		t.Fatal("channel should not report open after failed connect")
	}
}

func TestStreamChannelSend(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	server := newEchoServer(t, received)
	defer server.Close()

	ch := NewStreamChannel(zap.NewNop(), wsURL(server))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Close()

	ch.Send(map[string]interface{}{"latitude": 12.9716})

	select {
	case msg := <-received:
		if msg["latitude"] != 12.9716 {
			t.Fatalf("unexpected message: %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestStreamChannelSendWhenClosed(t *testing.T) {
	ch := NewStreamChannel(zap.NewNop(), "ws://127.0.0.1:1/ws")
	// 未打开时静默丢弃，不 panic
	ch.Send(map[string]interface{}{"latitude": 1.0})
}

func TestStreamChannelCloseIdempotent(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	server := newEchoServer(t, received)
	defer server.Close()

	ch := NewStreamChannel(zap.NewNop(), wsURL(server))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if ch.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", ch.Status())
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestStreamChannelPeerClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}))
	defer server.Close()

	ch := NewStreamChannel(zap.NewNop(), wsURL(server))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch.Status() == StatusDisconnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected disconnected after peer close, got %s", ch.Status())
}

func TestStreamChannelReconnectAfterClose(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	server := newEchoServer(t, received)
	defer server.Close()

	ch := NewStreamChannel(zap.NewNop(), wsURL(server))
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// 不自动重连，由持有方再次调用 Connect
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	defer ch.Close()

	if !ch.IsOpen() {
		t.Fatalf("expected open after reconnect, got %s", ch.Status())
	}
}
