package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentModel documents 表（由 internal/migration 创建）
type DocumentModel struct {
	ID              string    `gorm:"column:id;primaryKey;size:64"`
	Namespace       string    `gorm:"column:namespace;size:128;index;not null"`
	Title           string    `gorm:"column:title"`
	Publisher       string    `gorm:"column:publisher"`
	PublicationYear string    `gorm:"column:publication_year;size:16"`
	SourceURL       string    `gorm:"column:source_url"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// TableName 表名
func (DocumentModel) TableName() string {
	return "documents"
}

func (m *DocumentModel) toMetadata() *DocumentMetadata {
	return &DocumentMetadata{
		ID:              m.ID,
		Namespace:       m.Namespace,
		Title:           m.Title,
		Publisher:       m.Publisher,
		PublicationYear: m.PublicationYear,
		SourceURL:       m.SourceURL,
	}
}

// GormMetadataStore 基于 gorm 的文档元数据存储
type GormMetadataStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormMetadataStore 创建元数据存储
func NewGormMetadataStore(db *gorm.DB, logger *zap.Logger) *GormMetadataStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormMetadataStore{
		db:     db,
		logger: logger.With(zap.String("component", "metadata_store")),
	}
}

// GetDocument 按 id + namespace 查询，不存在返回 (nil, nil)
func (s *GormMetadataStore) GetDocument(ctx context.Context, id, namespace string) (*DocumentMetadata, error) {
	var m DocumentModel
	err := s.db.WithContext(ctx).
		Where("id = ? AND namespace = ?", id, namespace).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return m.toMetadata(), nil
}

// SaveDocument 插入或更新文档元数据
func (s *GormMetadataStore) SaveDocument(ctx context.Context, doc DocumentMetadata) error {
	if doc.ID == "" || doc.Namespace == "" {
		return fmt.Errorf("document id and namespace are required")
	}

	m := DocumentModel{
		ID:              doc.ID,
		Namespace:       doc.Namespace,
		Title:           doc.Title,
		Publisher:       doc.Publisher,
		PublicationYear: doc.PublicationYear,
		SourceURL:       doc.SourceURL,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"namespace", "title", "publisher", "publication_year", "source_url", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

// DeleteDocument 删除文档元数据
func (s *GormMetadataStore) DeleteDocument(ctx context.Context, id, namespace string) error {
	err := s.db.WithContext(ctx).
		Where("id = ? AND namespace = ?", id, namespace).
		Delete(&DocumentModel{}).Error
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}
