// Package repository implements the data access layer.
package repository

import (
	"context"

	"carenotes-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository persists knowledge chunk rows. One document's rows
// are written as a single transactional unit: partial ingestion is
// treated as corruption.
type ChunkRepository interface {
	CreateAll(ctx context.Context, chunks []*model.KnowledgeChunk) error
	DeleteByDigest(ctx context.Context, digest string) error
	FindByDigest(ctx context.Context, digest string) ([]*model.KnowledgeChunk, error)
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository creates a ChunkRepository backed by gorm.
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// CreateAll inserts every row inside one transaction; either all
// chunks for the document commit or none do.
func (r *chunkRepository) CreateAll(ctx context.Context, chunks []*model.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(chunks, 100).Error
	})
}

// DeleteByDigest removes all rows belonging to one source document.
func (r *chunkRepository) DeleteByDigest(ctx context.Context, digest string) error {
	return r.db.WithContext(ctx).Where("doc_digest = ?", digest).Delete(&model.KnowledgeChunk{}).Error
}

// FindByDigest returns every row of one source document in chunk order.
func (r *chunkRepository) FindByDigest(ctx context.Context, digest string) ([]*model.KnowledgeChunk, error) {
	var chunks []*model.KnowledgeChunk
	err := r.db.WithContext(ctx).Where("doc_digest = ?", digest).Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}
