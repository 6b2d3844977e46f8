package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"collab-session/backend/internal/cache"
	"collab-session/backend/internal/session"
	"collab-session/backend/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type collectingHandler struct {
	mu     sync.Mutex
	frames []ws.Frame
}

func (h *collectingHandler) Dispatch(f ws.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, f)
}

func (h *collectingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// 测试中用查询参数代替 JWT 中间件
func newTestServer(t *testing.T) (*ws.Manager, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := ws.NewManager(ws.NewHub(), nil, nil, nil)
	r := gin.New()
	r.GET("/ws/notifications", func(c *gin.Context) {
		c.Set("userId", c.Query("uid"))
		c.Set("role", c.Query("role"))
	}, m.WebSocketConnect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return m, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications?uid=1&role=reviewer"
}

func TestChannelAgainstNotificationServer(t *testing.T) {
	m, addr := newTestServer(t)
	handler := &collectingHandler{}
	ch := session.NewChannel(session.ChannelOptions{
		Candidates:        []string{"ws://127.0.0.1:1/ws/notifications", addr},
		HeartbeatInterval: 20 * time.Millisecond,
		Reconnect:         session.ReconnectOptions{BaseDelay: 10 * time.Millisecond, MaxAttempts: 3},
	}, handler)
	defer ch.Close()

	id := session.Identity{UserID: "1", Username: "alice", Role: session.RoleReviewer}
	if err := ch.Connect(context.Background(), id); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if ch.State() != session.Open || ch.Endpoint() != addr {
		t.Fatalf("state=%s endpoint=%s", ch.State(), ch.Endpoint())
	}
	waitUntil(t, "registration", func() bool { return m.Hub().Count() == 1 })

	// 心跳得到 pong
	waitUntil(t, "pong", func() bool { return !ch.Heartbeat().LastPongAt().IsZero() })

	ctx := context.Background()
	frame := ws.Frame{Type: ws.KindTaskSubmitted, Content: "新任务待审核", Timestamp: time.Now().UnixMilli()}
	if n, _ := m.Notify(ctx, cache.Target{Kind: cache.TargetRole, ID: "reviewer"}, frame); n != 1 {
		t.Fatalf("role notify reached %d connections", n)
	}
	// 同一条通知重复推送会被客户端去重
	_, _ = m.Notify(ctx, cache.Target{Kind: cache.TargetRole, ID: "reviewer"}, frame)
	if n, _ := m.Notify(ctx, cache.Target{Kind: cache.TargetUser, ID: "2"}, ws.Frame{Type: ws.KindTaskApproved}); n != 0 {
		t.Fatalf("other users must not receive: %d", n)
	}
	waitUntil(t, "notification", func() bool { return handler.count() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if handler.count() != 1 {
		t.Fatalf("duplicate must be suppressed, got %d frames", handler.count())
	}

	ch.Close()
	waitUntil(t, "unregister", func() bool { return m.Hub().Count() == 0 })
}

func TestHandshakeMustMatchToken(t *testing.T) {
	m, addr := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(ws.Handshake{Role: "admin", User: ws.HandshakeUser{ID: "2"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("mismatched handshake must be closed with policy violation, got %v", err)
	}
	if m.Hub().Count() != 0 {
		t.Fatalf("rejected connection must not be registered")
	}
}

func TestPingAnsweredWithServerTime(t *testing.T) {
	_, addr := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(ws.Handshake{Role: "reviewer", User: ws.HandshakeUser{ID: "1", Username: "alice"}})
	_ = conn.WriteJSON(ws.Frame{Type: ws.TypePing, Timestamp: 12345})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong ws.Frame
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read: %v", err)
	}
	if pong.Type != ws.TypePong || pong.Timestamp != 12345 || pong.ServerTime == 0 {
		t.Fatalf("pong = %+v", pong)
	}
}
