package store

import (
	"context"
	"time"

	"collab-session/backend/internal/collab"

	"gorm.io/gorm"
)

// historyRow 自增 seq 保证同一时刻写入的记录也能稳定排序
type historyRow struct {
	Seq           uint64 `gorm:"primaryKey;autoIncrement"`
	EntryID       string `gorm:"uniqueIndex;size:36"`
	DocumentID    string `gorm:"index;size:64"`
	EditorID      string `gorm:"size:64"`
	EditorName    string `gorm:"size:128"`
	Action        string `gorm:"size:16"`
	Summary       string `gorm:"size:255"`
	VersionBefore uint64
	VersionAfter  uint64
	CreatedAt     time.Time
}

func (historyRow) TableName() string { return "document_history" }

// HistoryStore 实现 collab.HistoryStore，只追加
type HistoryStore struct{ db *gorm.DB }

func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Append(ctx context.Context, e collab.HistoryEntry) error {
	row := historyRow{
		EntryID:       e.ID,
		DocumentID:    e.DocumentID,
		EditorID:      e.EditorID,
		EditorName:    e.EditorName,
		Action:        e.Action,
		Summary:       e.Summary,
		VersionBefore: e.VersionBefore,
		VersionAfter:  e.VersionAfter,
		CreatedAt:     e.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		// 同一条记录重复写入（重试）视为成功
		if isDuplicate(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *HistoryStore) List(ctx context.Context, docID string, offset, limit int) ([]collab.HistoryEntry, int, error) {
	var total int64
	q := s.db.WithContext(ctx).Model(&historyRow{}).Where("document_id = ?", docID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []historyRow
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("seq DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	items := make([]collab.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		items = append(items, collab.HistoryEntry{
			ID:            r.EntryID,
			DocumentID:    r.DocumentID,
			EditorID:      r.EditorID,
			EditorName:    r.EditorName,
			Action:        r.Action,
			Summary:       r.Summary,
			VersionBefore: r.VersionBefore,
			VersionAfter:  r.VersionAfter,
			CreatedAt:     r.CreatedAt,
		})
	}
	return items, int(total), nil
}
