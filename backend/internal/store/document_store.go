package store

import (
	"context"
	"errors"
	"time"

	"collab-session/backend/internal/collab"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Document 文档内容表
type Document struct {
	ID           string `gorm:"primaryKey;size:64"`
	Title        string `gorm:"size:255"`
	OwnerID      string `gorm:"size:64;index"`
	Content      string `gorm:"type:longtext"`
	Version      uint64
	LastEditedBy string `gorm:"size:128"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Document) TableName() string { return "collab_documents" }

// DocumentStore 实现 collab.ContentStore
type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Load(ctx context.Context, docID string) (*collab.ContentRecord, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("id = ?", docID).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // 没找到，返回 nil, nil
		}
		return nil, err
	}
	rec := toRecord(doc)
	return &rec, nil
}

// Save 按主键 upsert
func (s *DocumentStore) Save(ctx context.Context, rec collab.ContentRecord) error {
	doc := fromRecord(rec)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "owner_id", "content", "version", "last_edited_by", "updated_at"}),
	}).Create(&doc).Error
}

func (s *DocumentStore) Delete(ctx context.Context, docID string) error {
	return s.db.WithContext(ctx).Where("id = ?", docID).Delete(&Document{}).Error
}

func toRecord(d Document) collab.ContentRecord {
	return collab.ContentRecord{
		DocumentID:   d.ID,
		Title:        d.Title,
		OwnerID:      d.OwnerID,
		Content:      d.Content,
		Version:      d.Version,
		UpdatedAt:    d.UpdatedAt,
		LastEditedBy: d.LastEditedBy,
	}
}

func fromRecord(r collab.ContentRecord) Document {
	return Document{
		ID:           r.DocumentID,
		Title:        r.Title,
		OwnerID:      r.OwnerID,
		Content:      r.Content,
		Version:      r.Version,
		LastEditedBy: r.LastEditedBy,
		UpdatedAt:    r.UpdatedAt,
	}
}
