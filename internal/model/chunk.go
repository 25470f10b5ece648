package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Chunk 对应于数据库中的 document_chunks 表。
// ChunkIndex 在同一文档内从 0 开始连续编号；文档重新处理时全部分块先删后建。
type Chunk struct {
	ID         string `gorm:"type:varchar(36);primaryKey" json:"id"`
	DocumentID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_chunk_doc_index,priority:1" json:"documentId"`
	ChunkIndex int    `gorm:"not null;uniqueIndex:idx_chunk_doc_index,priority:2" json:"chunkIndex"`

	Content      string      `gorm:"type:text;not null" json:"content"`
	ContentType  ContentType `gorm:"type:varchar(32);not null;default:text" json:"contentType"`
	PageNumber   int         `gorm:"not null" json:"pageNumber"`
	SectionTitle *string     `gorm:"type:varchar(255)" json:"sectionTitle"`

	// Embedding 为 nil 表示该分块所在批次向量化失败。
	Embedding    []float32 `gorm:"type:json;serializer:json" json:"embedding,omitempty"`
	HasEmbedding bool      `gorm:"not null;default:false;index" json:"hasEmbedding"`

	// 以下字段从父文档冗余复制，便于检索时过滤。
	ModelCodes datatypes.JSONSlice[string] `gorm:"type:json" json:"modelCodes"`
	YearRange  *string                     `gorm:"type:varchar(16)" json:"yearRange"`

	CharCount int       `gorm:"not null" json:"charCount"`
	WordCount int       `gorm:"not null" json:"wordCount"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chunk) TableName() string {
	return "document_chunks"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (c *Chunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
