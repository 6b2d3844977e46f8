package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"collab-session/backend/internal/cache"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var defaultAllowedOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

func newUpgrader(allowed []string) websocket.Upgrader {
	if len(allowed) == 0 {
		allowed = defaultAllowedOrigins
	}
	return websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || origin == "null" { // 非浏览器客户端可能不发送 Origin，或为 "null"
			return true
		}
		for _, p := range allowed {
			if p == "*" || strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}}
}

// Relay 跨实例转发（Redis Pub/Sub）
type Relay interface {
	Publish(ctx context.Context, t cache.Target, payload []byte) (int64, error)
	Listen(ctx context.Context, ready chan<- struct{}, deliver func(cache.Target, []byte)) error
}

// Inbox 离线通知存储
type Inbox interface {
	Save(ctx context.Context, userID string, item cache.InboxItem, dedupKey string) (bool, error)
	List(ctx context.Context, userID string, limit int) ([]cache.InboxItem, error)
	Clear(ctx context.Context, userID string) error
}

type Manager struct {
	h        *Hub
	relay    Relay
	inbox    Inbox
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewManager relay、inbox 可以为 nil（Redis 不可用时直接投递）
func NewManager(h *Hub, relay Relay, inbox Inbox, allowedOrigins []string) *Manager {
	return &Manager{h: h, relay: relay, inbox: inbox, upgrader: newUpgrader(allowedOrigins), now: time.Now}
}

func (m *Manager) Hub() *Hub    { return m.h }
func (m *Manager) Inbox() Inbox { return m.inbox }

// WebSocketConnect GET /ws/notifications，鉴权中间件已写入 userId / role
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetString("userId")
	role := c.GetString("role")

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	// defer：用于延迟执行（延迟至return处）
	defer conn.Close()

	wsConn := NewConn(conn, m.h)
	wsConn.now = m.now
	if err := wsConn.readHandshake(userID, role); err != nil {
		log.Printf("[ws] %v", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "handshake required"),
			time.Now().Add(time.Second))
		return
	}
	m.h.Register(wsConn)
	log.Printf("[ws] connected: role=%s user=%s online=%d", wsConn.role, wsConn.user.ID, m.h.Count())

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop()
	log.Printf("[ws] disconnected: user=%s online=%d", wsConn.user.ID, m.h.Count())
}

// Notify 发给某个用户的通知先存离线收件箱；
// 实时推送优先走 Redis，没有订阅者或 Redis 不可用时直接发给本机连接
func (m *Manager) Notify(ctx context.Context, t cache.Target, f Frame) (int, error) {
	if f.Timestamp == 0 {
		f.Timestamp = m.now().UnixMilli()
	}
	if t.Kind == cache.TargetUser && m.inbox != nil {
		item := cache.InboxItem{
			Type:      f.Type,
			Title:     f.Title,
			Content:   f.Text(),
			Data:      f.Data,
			Priority:  f.Priority,
			Timestamp: f.Timestamp,
		}
		if _, err := m.inbox.Save(ctx, t.ID, item, ""); err != nil {
			log.Printf("[ws] save offline notification error (user=%s): %v", t.ID, err)
		}
	}

	if m.relay != nil {
		payload, err := json.Marshal(f)
		if err != nil {
			return 0, err
		}
		n, err := m.relay.Publish(ctx, t, payload)
		if err != nil {
			log.Printf("[ws] relay publish error (target=%s:%s): %v", t.Kind, t.ID, err)
		} else if n > 0 {
			return int(n), nil
		}
	}
	return m.h.Deliver(t, f), nil
}

// Listen 把 Redis 转发来的通知投递给本机连接，阻塞到 ctx 结束
func (m *Manager) Listen(ctx context.Context, ready chan<- struct{}) error {
	if m.relay == nil {
		if ready != nil {
			close(ready)
		}
		<-ctx.Done()
		return nil
	}
	return m.relay.Listen(ctx, ready, func(t cache.Target, payload []byte) {
		f, err := DecodeFrame(payload)
		if err != nil {
			log.Printf("[ws] relay payload error: %v", err)
			return
		}
		m.h.Deliver(t, f)
	})
}
