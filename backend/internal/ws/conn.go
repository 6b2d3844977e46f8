package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrHandshake = errors.New("HANDSHAKE_FAILED")

const (
	sendQueueSize    = 32
	handshakeTimeout = 10 * time.Second
	// 客户端 30s 一次心跳，连续丢三次认为连接已死
	readTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// Conn 一条通知连接
type Conn struct {
	ws   *websocket.Conn
	hub  *Hub
	role string
	user HandshakeUser
	// 出站队列，只由 writeLoop 消费
	send chan Frame
	now  func() time.Time

	closeOnce sync.Once
}

func NewConn(ws *websocket.Conn, hub *Hub) *Conn {
	return &Conn{ws: ws, hub: hub, send: make(chan Frame, sendQueueSize), now: time.Now}
}

func (c *Conn) Role() string        { return c.role }
func (c *Conn) User() HandshakeUser { return c.user }

// Enqueue 队列满时丢弃，返回是否入队
func (c *Conn) Enqueue(f Frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		log.Printf("[ws] send queue full, drop frame (user=%s, type=%s)", c.user.ID, f.Type)
		return false
	}
}

// readHandshake 第一帧必须是握手；expectedID 非空时必须与之一致
func (c *Conn) readHandshake(expectedID, expectedRole string) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if hs.User.ID == "" {
		return fmt.Errorf("%w: missing user id", ErrHandshake)
	}
	if expectedID != "" && hs.User.ID != expectedID {
		return fmt.Errorf("%w: user %s does not match token", ErrHandshake, hs.User.ID)
	}
	role := hs.Role
	// 角色以 token 为准
	if expectedRole != "" {
		role = expectedRole
	}
	c.role = strings.ToLower(role)
	c.user = hs.User
	return nil
}

func (c *Conn) readLoop() {
	defer func() {
		// 先从 Hub 摘除，保证之后没有并发入队
		c.hub.Unregister(c)
		close(c.send)
	}()
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("read error (user=%s): %v", c.user.ID, err)
			}
			return
		}
		f, err := DecodeFrame(data)
		if err != nil {
			log.Printf("[ws] malformed frame (user=%s): %v", c.user.ID, err)
			continue
		}
		switch f.Type {
		case TypePing:
			c.Enqueue(NewPong(f, c.now()))
		case TypePong:
		default:
			// 客户端只发心跳，其余忽略
			log.Printf("[ws] ignore client frame (user=%s, type=%s)", c.user.ID, f.Type)
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的 Frame
	for f := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteJSON(f); err != nil {
			log.Printf("write error (user=%s): %v", c.user.ID, err)
			c.close()
			// 继续排空，直到 readLoop 关闭 send
		}
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { _ = c.ws.Close() })
}
