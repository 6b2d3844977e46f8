package session

import "strings"

// State 连接状态
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Closed
	AwaitingRetry
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case AwaitingRetry:
		return "awaiting_retry"
	}
	return "unknown"
}

// 用户角色
const (
	RoleAdmin     = "admin"
	RoleReviewer  = "reviewer"
	RoleAnnotator = "annotator"
	RoleUser      = "user"
)

// NormalizeRole 统一成四种角色之一；兼容 R_ADMIN 这类写法，未知角色按普通用户处理
func NormalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	r = strings.TrimPrefix(r, "r_")
	switch r {
	case RoleAdmin, RoleReviewer, RoleAnnotator:
		return r
	}
	return RoleUser
}

// Identity 登录用户
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
	Role        string
}

// Name 展示用名字：真实姓名优先，其次用户名
func (id Identity) Name() string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	if id.Username != "" {
		return id.Username
	}
	return "您"
}
