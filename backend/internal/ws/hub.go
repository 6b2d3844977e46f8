package ws

import (
	"strings"
	"sync"

	"collab-session/backend/internal/cache"
)

type connSet map[*Conn]struct{}

// Hub 本机所有通知连接，按角色与用户建索引
type Hub struct {
	// 读写锁，保护下面几个 map；广播时持读锁入队（入队不阻塞）
	mu sync.RWMutex
	// 一个用户可开多个标签页/设备（多连接），广播要逐连接发
	conns  connSet
	byRole map[string]connSet
	byUser map[string]connSet
}

func NewHub() *Hub {
	return &Hub{
		conns:  make(connSet),
		byRole: make(map[string]connSet),
		byUser: make(map[string]connSet),
	}
}

func addTo(m map[string]connSet, key string, c *Conn) {
	if m[key] == nil {
		m[key] = make(connSet)
	}
	m[key][c] = struct{}{}
}

func removeFrom(m map[string]connSet, key string, c *Conn) {
	if set, ok := m[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

// Register 握手完成后调用
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
	addTo(h.byRole, c.role, c)
	addTo(h.byUser, c.user.ID, c)
}

// Unregister 返回后 Hub 不会再向该连接入队
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	removeFrom(h.byRole, c.role, c)
	removeFrom(h.byUser, c.user.ID, c)
}

func (h *Hub) fanout(set connSet, f Frame) int {
	sent := 0
	for c := range set {
		if c.Enqueue(f) {
			sent++
		}
	}
	return sent
}

// BroadcastRole 角色名不区分大小写，返回成功入队的连接数
func (h *Hub) BroadcastRole(role string, f Frame) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fanout(h.byRole[strings.ToLower(role)], f)
}

func (h *Hub) SendToUser(userID string, f Frame) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fanout(h.byUser[userID], f)
}

func (h *Hub) BroadcastAll(f Frame) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.fanout(h.conns, f)
}

// Deliver 按投递范围发送到本机连接
func (h *Hub) Deliver(t cache.Target, f Frame) int {
	switch t.Kind {
	case cache.TargetUser:
		return h.SendToUser(t.ID, f)
	case cache.TargetRole:
		return h.BroadcastRole(t.ID, f)
	default:
		return h.BroadcastAll(f)
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Online 某用户在本机的连接数
func (h *Hub) Online(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
