package collab

import (
	"context"
	"sync"
	"time"
)

// ContentRecord 文档内容的持久化形式
type ContentRecord struct {
	DocumentID   string
	Title        string
	OwnerID      string
	Content      string
	Version      uint64
	UpdatedAt    time.Time
	LastEditedBy string
}

// ContentStore 只声明，MySQL 实现在 store 包中
type ContentStore interface {
	// Load 不存在时返回 nil, nil
	Load(ctx context.Context, docID string) (*ContentRecord, error)
	Save(ctx context.Context, rec ContentRecord) error
	Delete(ctx context.Context, docID string) error
}

// HistoryStore 只追加的编辑历史
type HistoryStore interface {
	Append(ctx context.Context, e HistoryEntry) error
	// List 按时间倒序分页，同时返回总数
	List(ctx context.Context, docID string, offset, limit int) ([]HistoryEntry, int, error)
}

// EventPublisher 历史事件外发（Kafka）
type EventPublisher interface {
	Publish(ctx context.Context, e HistoryEntry) error
}

// PresenceMirror 在线状态同步到共享缓存（Redis），失败不影响主流程
type PresenceMirror interface {
	Touch(ctx context.Context, docID, userID, username string, ttl time.Duration) error
	Remove(ctx context.Context, docID, userID string) error
}

type MemoryContentStore struct {
	mu   sync.RWMutex
	docs map[string]ContentRecord
}

func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{docs: make(map[string]ContentRecord)}
}

func (s *MemoryContentStore) Load(ctx context.Context, docID string) (*ContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.docs[docID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryContentStore) Save(ctx context.Context, rec ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[rec.DocumentID] = rec
	return nil
}

func (s *MemoryContentStore) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docID)
	return nil
}

type MemoryHistoryStore struct {
	mu      sync.RWMutex
	entries map[string][]HistoryEntry
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{entries: make(map[string][]HistoryEntry)}
}

func (s *MemoryHistoryStore) Append(ctx context.Context, e HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.DocumentID] = append(s.entries[e.DocumentID], e)
	return nil
}

func (s *MemoryHistoryStore) List(ctx context.Context, docID string, offset, limit int) ([]HistoryEntry, int, error) {
	s.mu.RLock()
	src := s.entries[docID]
	// 追加顺序即时间顺序，倒过来得到最新在前
	all := make([]HistoryEntry, len(src))
	for i, e := range src {
		all[len(src)-1-i] = e
	}
	s.mu.RUnlock()

	total := len(all)
	if offset >= total {
		return []HistoryEntry{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
