package ws

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrMalformedFrame = errors.New("MALFORMED_FRAME")

// 保留的心跳类型，其余 type 一律视为通知类型
const (
	TypePing = "ping"
	TypePong = "pong"
)

// 已知的通知类型
const (
	KindTaskSubmitted   = "task_submitted"
	KindTaskApproved    = "task_approved"
	KindTaskRejected    = "task_rejected"
	KindSkipRequested   = "skip_requested"
	KindSkipApproved    = "skip_approved"
	KindSkipRejected    = "skip_rejected"
	KindWorkEndReminder = "work_end_reminder"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Frame 是通道上双向传输的信封
type Frame struct {
	Type       string          `json:"type"`
	Content    string          `json:"content,omitempty"`
	Message    string          `json:"message,omitempty"`
	Pending    *int            `json:"pending,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	ServerTime int64           `json:"server_time,omitempty"`
	Priority   string          `json:"priority,omitempty"`
	Title      string          `json:"title,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Username   string          `json:"username,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// HandshakeUser 握手帧中的用户信息
type HandshakeUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	RealName string `json:"real_name,omitempty"`
}

// Handshake 连接建立后客户端发送的第一帧
type Handshake struct {
	Role string        `json:"role"`
	User HandshakeUser `json:"user"`
}

// IsHeartbeat 心跳帧不参与去重和通知分发
func (f Frame) IsHeartbeat() bool {
	return f.Type == TypePing || f.Type == TypePong
}

// Text 返回用于展示的正文，content 优先
func (f Frame) Text() string {
	if f.Content != "" {
		return f.Content
	}
	return f.Message
}

// NewPong 回显客户端 timestamp，并附上服务端时间（毫秒）
func NewPong(ping Frame, now time.Time) Frame {
	return Frame{Type: TypePong, Timestamp: ping.Timestamp, ServerTime: now.UnixMilli()}
}

// DecodeFrame 解析一帧；没有 type 的帧视为格式错误
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	if f.Type == "" {
		return Frame{}, ErrMalformedFrame
	}
	return f, nil
}
