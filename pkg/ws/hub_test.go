package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/langchou/drivertrack/internal/models"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		client.Register()
		go client.ReadPump()
		go client.WritePump()
	}))
}

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return msg
}

func TestHubSendsInitSnapshot(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.SetSnapshotProvider(func() *models.TripSnapshot {
		return &models.TripSnapshot{Status: "idle", Duration: "00:00:00", Speed: "0 km/h"}
	})
	go hub.Run()

	server := newHubServer(t, hub)
	defer server.Close()

	conn := dialHub(t, server)

	msg := readMessage(t, conn)
	if msg.Type != MsgTypeInit {
		t.Fatalf("expected init message, got %s", msg.Type)
	}

	data, _ := json.Marshal(msg.Data)
	var snap models.TripSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Status != "idle" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestHubBroadcastTripUpdate(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	server := newHubServer(t, hub)
	defer server.Close()

	conn := dialHub(t, server)

	// 等待客户端完成注册
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("client not registered, count = %d", hub.ClientCount())
	}

	hub.BroadcastTripUpdate(&models.TripSnapshot{
		ID:         "trip-1",
		Status:     "active",
		DistanceKm: 4.66,
		Duration:   "00:10:00",
		Speed:      "36.0 km/h",
	})

	msg := readMessage(t, conn)
	if msg.Type != MsgTypeTripUpdate {
		t.Fatalf("expected trip_update, got %s", msg.Type)
	}

	data, _ := json.Marshal(msg.Data)
	var snap models.TripSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.ID != "trip-1" || snap.DistanceKm != 4.66 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestHubClientCountAfterDisconnect(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	server := newHubServer(t, hub)
	defer server.Close()

	conn := dialHub(t, server)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("client not unregistered, count = %d", hub.ClientCount())
	}
}
