package rag

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	_ MetadataStore    = (*GormMetadataStore)(nil)
	_ DocumentRegistry = (*GormMetadataStore)(nil)
)

func setupMetadataDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&DocumentModel{}))
	return db
}

func TestGormMetadataStore_SaveAndGet(t *testing.T) {
	store := NewGormMetadataStore(setupMetadataDB(t), nil)
	ctx := context.Background()

	doc := DocumentMetadata{
		ID: "d1", Namespace: "reports", Title: "Future of Jobs Report 2023",
		Publisher: "World Economic Forum", PublicationYear: "2023", SourceURL: "https://weforum.org/fojr",
	}
	require.NoError(t, store.SaveDocument(ctx, doc))

	got, err := store.GetDocument(ctx, "d1", "reports")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc, *got)

	// 更新
	doc.Title = "The Future of Jobs Report 2023"
	require.NoError(t, store.SaveDocument(ctx, doc))
	got, err = store.GetDocument(ctx, "d1", "reports")
	require.NoError(t, err)
	assert.Equal(t, "The Future of Jobs Report 2023", got.Title)
}

func TestGormMetadataStore_MissingIsNil(t *testing.T) {
	store := NewGormMetadataStore(setupMetadataDB(t), nil)
	ctx := context.Background()

	require.NoError(t, store.SaveDocument(ctx, DocumentMetadata{ID: "d1", Namespace: "reports"}))

	got, err := store.GetDocument(ctx, "nope", "reports")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.GetDocument(ctx, "d1", "other")
	require.NoError(t, err)
	assert.Nil(t, got, "documents are namespace scoped")
}

func TestGormMetadataStore_DeleteAndValidation(t *testing.T) {
	store := NewGormMetadataStore(setupMetadataDB(t), nil)
	ctx := context.Background()

	require.NoError(t, store.SaveDocument(ctx, DocumentMetadata{ID: "d1", Namespace: "ns"}))
	require.NoError(t, store.DeleteDocument(ctx, "d1", "ns"))

	got, err := store.GetDocument(ctx, "d1", "ns")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, store.SaveDocument(ctx, DocumentMetadata{ID: "x"}))
}
