package collab

import "time"

// 历史记录动作
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionLock   = "lock"
	ActionUnlock = "unlock"
)

// SystemEditor 超时自动解锁时记录的操作人
const SystemEditor = "system"

const RoleAdmin = "admin"

// User 发起操作的用户
type User struct {
	ID   string
	Name string
	Role string
}

type Lock struct {
	DocumentID string    `json:"document_id"`
	HolderID   string    `json:"holder"`
	HolderName string    `json:"holder_name,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type AcquireResult struct {
	Granted bool
	Lock    Lock
	// Reentrant 调用者本来就持有锁，本次只是续期
	Reentrant bool
}

// Presence 某用户在某文档上的在线记录
type Presence struct {
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	CursorPosition *int      `json:"cursor_position,omitempty"`
	SelectionStart *int      `json:"selection_start,omitempty"`
	SelectionEnd   *int      `json:"selection_end,omitempty"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// PresenceUpdate 心跳上报的光标与选区，nil 表示不修改
type PresenceUpdate struct {
	CursorPosition *int
	SelectionStart *int
	SelectionEnd   *int
}

type HistoryEntry struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	EditorID      string    `json:"editor_id"`
	EditorName    string    `json:"editor_name"`
	Action        string    `json:"action"`
	Summary       string    `json:"summary"`
	VersionBefore uint64    `json:"version_before"`
	VersionAfter  uint64    `json:"version_after"`
	CreatedAt     time.Time `json:"created_at"`
}

type HistoryPage struct {
	Items []HistoryEntry `json:"items"`
	Total int            `json:"total"`
}

type DocumentState struct {
	DocumentID    string     `json:"document_id"`
	IsLocked      bool       `json:"is_locked"`
	LockedBy      string     `json:"locked_by"`
	LockedByName  string     `json:"locked_by_name,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at"`
	ActiveEditors []Presence `json:"active_editors"`
}

type DocumentContent struct {
	DocumentID   string    `json:"document_id"`
	Title        string    `json:"title,omitempty"`
	Content      string    `json:"content"`
	Version      uint64    `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastEditedBy string    `json:"last_edited_by,omitempty"`
}

type SweepResult struct {
	Unlocked        int
	PresenceRemoved int
}
