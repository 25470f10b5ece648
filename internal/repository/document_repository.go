// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"errors"
	"fmt"
	"manual-smart-go/internal/model"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 表示写入违反了文件名或内容哈希的唯一约束。
	ErrDuplicate = errors.New("duplicate key")
)

// DocumentRepository 定义了对 source_documents 表的数据操作接口。
type DocumentRepository interface {
	Create(doc *model.SourceDocument) error
	FindByID(id string) (*model.SourceDocument, error)
	FindByFilename(filename string) (*model.SourceDocument, error)
	FindByContentHash(hash string) (*model.SourceDocument, error)
	List(status model.ProcessingStatus, limit, offset int) ([]model.SourceDocument, error)
	// Claim 以条件更新的方式占用文档：仅当文档不在 processing 状态，
	// 或其 processing 已超过 staleBefore 未更新时才成功。
	Claim(id string, now, staleBefore time.Time) (bool, error)
	// Release 撤销一次 Claim，把 Claim 改写的字段恢复为 prev 中占用前的值。
	Release(prev *model.SourceDocument) error
	UpdateFields(id string, fields map[string]interface{}) error
	MarkFailed(id string, message string, chunkCount, embeddedCount int, at time.Time) error
	MarkCompleted(id string, chunkCount, embeddedCount int, at time.Time) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 创建一条 pending 状态的文档记录。
func (r *documentRepository) Create(doc *model.SourceDocument) error {
	return translate(r.db.Create(doc).Error)
}

// FindByID 根据主键查找文档。
func (r *documentRepository) FindByID(id string) (*model.SourceDocument, error) {
	return r.first("id = ?", id)
}

// FindByFilename 根据文件名查找文档，文件名在表内唯一。
func (r *documentRepository) FindByFilename(filename string) (*model.SourceDocument, error) {
	return r.first("filename = ?", filename)
}

// FindByContentHash 根据内容哈希查找文档。
func (r *documentRepository) FindByContentHash(hash string) (*model.SourceDocument, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	return r.first("content_hash = ?", hash)
}

func (r *documentRepository) first(query string, args ...interface{}) (*model.SourceDocument, error) {
	var doc model.SourceDocument
	err := r.db.Where(query, args...).Order("created_at asc").First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// List 按创建时间倒序列出文档，status 为空时不过滤。
func (r *documentRepository) List(status model.ProcessingStatus, limit, offset int) ([]model.SourceDocument, error) {
	var docs []model.SourceDocument
	q := r.db.Model(&model.SourceDocument{})
	if status != "" {
		q = q.Where("processing_status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Order("created_at desc").Find(&docs).Error
	return docs, err
}

// Claim 将文档置为 processing，清空上一次的错误信息。
func (r *documentRepository) Claim(id string, now, staleBefore time.Time) (bool, error) {
	res := r.db.Model(&model.SourceDocument{}).
		Where("id = ?", id).
		Where(r.db.Where("processing_status <> ?", model.StatusProcessing).
			Or("processing_started_at IS NULL").
			Or("processing_started_at < ?", staleBefore)).
		Updates(map[string]interface{}{
			"processing_status":       model.StatusProcessing,
			"processing_started_at":   now,
			"processing_completed_at": nil,
			"error_message":           nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *documentRepository) Release(prev *model.SourceDocument) error {
	return r.db.Model(&model.SourceDocument{}).Where("id = ?", prev.ID).Updates(map[string]interface{}{
		"processing_status":       prev.ProcessingStatus,
		"processing_started_at":   prev.ProcessingStartedAt,
		"processing_completed_at": prev.ProcessingCompletedAt,
		"error_message":           prev.ErrorMessage,
	}).Error
}

// UpdateFields 更新文档的部分字段。
func (r *documentRepository) UpdateFields(id string, fields map[string]interface{}) error {
	return translate(r.db.Model(&model.SourceDocument{}).Where("id = ?", id).Updates(fields).Error)
}

// MarkFailed 将文档置为 failed，记录错误信息并写入当前实际的分块数。
func (r *documentRepository) MarkFailed(id string, message string, chunkCount, embeddedCount int, at time.Time) error {
	return r.db.Model(&model.SourceDocument{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processing_status":       model.StatusFailed,
		"error_message":           message,
		"chunk_count":             chunkCount,
		"embedded_chunk_count":    embeddedCount,
		"processing_completed_at": at,
	}).Error
}

// MarkCompleted 将文档置为 completed 并写入最终分块数。
func (r *documentRepository) MarkCompleted(id string, chunkCount, embeddedCount int, at time.Time) error {
	return r.db.Model(&model.SourceDocument{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processing_status":       model.StatusCompleted,
		"chunk_count":             chunkCount,
		"embedded_chunk_count":    embeddedCount,
		"error_message":           nil,
		"processing_completed_at": at,
	}).Error
}

// translate 把驱动的唯一约束错误转换为 ErrDuplicate，需要 gorm.Config.TranslateError。
func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
