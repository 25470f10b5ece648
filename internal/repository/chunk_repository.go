package repository

import (
	"manual-smart-go/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 定义了对 document_chunks 表的数据操作接口。
type ChunkRepository interface {
	CreateBatch(chunks []*model.Chunk) error
	DeleteByDocumentID(documentID string) error
	CountByDocumentID(documentID string) (int64, error)
	CountEmbeddedByDocumentID(documentID string) (int64, error)
	FindByDocumentID(documentID string, limit, offset int) ([]model.Chunk, error)
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// CreateBatch 在单个事务内写入一批分块，失败时整批回滚。
func (r *chunkRepository) CreateBatch(chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(chunks, len(chunks)).Error
	})
}

// DeleteByDocumentID 删除文档下的全部分块。
func (r *chunkRepository) DeleteByDocumentID(documentID string) error {
	return r.db.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error
}

// CountByDocumentID 统计文档已持久化的分块数。
func (r *chunkRepository) CountByDocumentID(documentID string) (int64, error) {
	var n int64
	err := r.db.Model(&model.Chunk{}).Where("document_id = ?", documentID).Count(&n).Error
	return n, err
}

// CountEmbeddedByDocumentID 统计带有向量的分块数。
func (r *chunkRepository) CountEmbeddedByDocumentID(documentID string) (int64, error) {
	var n int64
	err := r.db.Model(&model.Chunk{}).
		Where("document_id = ? AND has_embedding = ?", documentID, true).
		Count(&n).Error
	return n, err
}

// FindByDocumentID 按 chunk_index 升序返回文档的分块。
func (r *chunkRepository) FindByDocumentID(documentID string, limit, offset int) ([]model.Chunk, error) {
	var chunks []model.Chunk
	q := r.db.Where("document_id = ?", documentID).Order("chunk_index asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&chunks).Error
	return chunks, err
}
