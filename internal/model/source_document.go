package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SourceDocument 对应于数据库中的 source_documents 表。
// 每个入库的手册对应一行记录，并独占其全部分块。
type SourceDocument struct {
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Filename    string `gorm:"type:varchar(255);not null;uniqueIndex" json:"filename"`
	Bucket      string `gorm:"type:varchar(100)" json:"bucket"`
	ObjectKey   string `gorm:"type:varchar(512)" json:"objectKey"`
	UploaderID  string `gorm:"type:varchar(64)" json:"uploaderId"`
	Title       string `gorm:"type:varchar(255)" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	Category   Category                    `gorm:"type:varchar(32);not null;default:general;index" json:"category"`
	ModelCodes datatypes.JSONSlice[string] `gorm:"type:json" json:"modelCodes"`
	YearRange  *string                     `gorm:"type:varchar(16)" json:"yearRange"`

	PageCount     int     `gorm:"not null;default:0" json:"pageCount"`
	FileSizeBytes int64   `gorm:"not null;default:0" json:"fileSizeBytes"`
	// ContentHash 为源文件的 sha256，同一内容只能属于一个文档；未下载成功的记录为 NULL。
	ContentHash   *string `gorm:"type:varchar(64);uniqueIndex" json:"contentHash"`

	ProcessingStatus   ProcessingStatus `gorm:"type:varchar(16);not null;default:pending;index" json:"processingStatus"`
	ErrorMessage       *string          `gorm:"type:text" json:"errorMessage"`
	ChunkCount         int              `gorm:"not null;default:0" json:"chunkCount"`
	EmbeddedChunkCount int              `gorm:"not null;default:0" json:"embeddedChunkCount"`

	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
	ProcessingStartedAt   *time.Time `gorm:"default:null" json:"processingStartedAt"`
	ProcessingCompletedAt *time.Time `gorm:"default:null" json:"processingCompletedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SourceDocument) TableName() string {
	return "source_documents"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (d *SourceDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ProcessingStatus == "" {
		d.ProcessingStatus = StatusPending
	}
	if d.Category == "" {
		d.Category = CategoryGeneral
	}
	return nil
}
