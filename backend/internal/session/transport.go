package session

import (
	"context"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport 一条已经建立的连接
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(v any) error
	Close() error
}

// Dialer 建立到某个地址的连接
type Dialer interface {
	Dial(ctx context.Context, addr string) (Transport, error)
}

// WSDialer 基于 gorilla/websocket；浏览器无法带 Header，服务端同样接受 ?token=
type WSDialer struct {
	Dialer *websocket.Dialer
	Token  func() string
}

func (d *WSDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	target := addr
	if d.Token != nil {
		if tok := d.Token(); tok != "" {
			u, err := url.Parse(addr)
			if err != nil {
				return nil, err
			}
			q := u.Query()
			q.Set("token", tok)
			u.RawQuery = q.Encode()
			target = u.String()
		}
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
	// gorilla 的连接只允许一个并发写者
	writeMu sync.Mutex
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteFrame(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
