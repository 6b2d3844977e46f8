package session

import (
	"context"
	"sync"
	"time"

	"collab-session/backend/internal/ws"
)

const DefaultHeartbeatInterval = 30 * time.Second

// HeartbeatMonitor 连接打开期间定时发 ping；pong 只用来记录往返时延
// 没收到 pong 不会触发重连，只有 ping 发送失败才会
type HeartbeatMonitor struct {
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	cancel     context.CancelFunc
	lastRTT    time.Duration
	lastPongAt time.Time
}

func NewHeartbeatMonitor(interval time.Duration) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatMonitor{interval: interval, now: time.Now}
}

// PingFrame 构造一帧 ping
func (h *HeartbeatMonitor) PingFrame(user ws.HandshakeUser) ws.Frame {
	return ws.Frame{
		Type:      ws.TypePing,
		Timestamp: h.now().UnixMilli(),
		UserID:    user.ID,
		Username:  user.Username,
	}
}

// Start 绑定到一个连接实例，重复调用会先停掉上一个
// send 失败时调用 onFail 并退出循环
func (h *HeartbeatMonitor) Start(ctx context.Context, user ws.HandshakeUser, send func(ws.Frame) error, onFail func(error)) {
	hbCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := send(h.PingFrame(user)); err != nil {
					if hbCtx.Err() == nil && onFail != nil {
						onFail(err)
					}
					return
				}
			}
		}
	}()
}

// Stop 不等待 goroutine 退出，可以在 onFail 里调用
func (h *HeartbeatMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// HandlePong 根据回显的 timestamp 计算往返时延
func (h *HeartbeatMonitor) HandlePong(f ws.Frame) {
	if f.Type != ws.TypePong {
		return
	}
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPongAt = now
	if f.Timestamp > 0 {
		if rtt := now.Sub(time.UnixMilli(f.Timestamp)); rtt >= 0 {
			h.lastRTT = rtt
		}
	}
}

func (h *HeartbeatMonitor) LastRTT() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastRTT
}

func (h *HeartbeatMonitor) LastPongAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastPongAt
}

func (h *HeartbeatMonitor) Interval() time.Duration { return h.interval }
