// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"manual-smart-go/internal/model"
	"manual-smart-go/internal/pipeline"
	"manual-smart-go/internal/repository"
	"manual-smart-go/pkg/log"
	"manual-smart-go/pkg/storage"
	"manual-smart-go/pkg/tasks"
)

// ErrQueueUnavailable 表示未配置 Kafka，无法异步入库。
var ErrQueueUnavailable = errors.New("ingestion queue is not configured")

// presignExpiry 是下载链接的有效期。
const presignExpiry = time.Hour

// Ingestor 是同步入库的执行者，由 pipeline.Processor 实现。
type Ingestor interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
}

// TaskProducer 是异步入库任务的发送方，由 kafka.Producer 实现。
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// DocumentStatusDTO 是文档处理状态的对外视图。
type DocumentStatusDTO struct {
	ID                    string                 `json:"id"`
	Filename              string                 `json:"filename"`
	Title                 string                 `json:"title"`
	Status                model.ProcessingStatus `json:"status"`
	ErrorMessage          *string                `json:"errorMessage"`
	PageCount             int                    `json:"pageCount"`
	ChunkCount            int                    `json:"chunkCount"`
	EmbeddedChunkCount    int                    `json:"embeddedChunkCount"`
	ProcessingStartedAt   *time.Time             `json:"processingStartedAt"`
	ProcessingCompletedAt *time.Time             `json:"processingCompletedAt"`
}

// ChunkDTO 是分块的对外视图，不携带向量本身。
type ChunkDTO struct {
	ID           string            `json:"id"`
	ChunkIndex   int               `json:"chunkIndex"`
	Content      string            `json:"content"`
	ContentType  model.ContentType `json:"contentType"`
	PageNumber   int               `json:"pageNumber"`
	SectionTitle *string           `json:"sectionTitle"`
	HasEmbedding bool              `json:"hasEmbedding"`
	CharCount    int               `json:"charCount"`
	WordCount    int               `json:"wordCount"`
}

// DownloadInfoDTO 封装了原始文件的下载信息。
type DownloadInfoDTO struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	FileSize    int64  `json:"fileSize"`
}

// IngestService 接口定义了手册入库相关的业务操作。
type IngestService interface {
	Upload(ctx context.Context, filename string, r io.Reader, size int64) (pipeline.IngestRequest, error)
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
	Enqueue(ctx context.Context, req pipeline.IngestRequest) error
	GetStatus(filename string) (*DocumentStatusDTO, error)
	ListDocuments(status string, limit, offset int) ([]model.SourceDocument, error)
	ListChunks(documentID string, limit, offset int) ([]ChunkDTO, error)
	GenerateDownloadURL(ctx context.Context, documentID string) (*DownloadInfoDTO, error)
	GetSupportedFileTypes() map[string]interface{}
}

type ingestService struct {
	ingestor Ingestor
	producer TaskProducer
	docs     repository.DocumentRepository
	chunks   repository.ChunkRepository
	store    storage.Store
	bucket   string
}

// NewIngestService 创建一个新的 IngestService 实例。producer 为 nil 时不支持异步入库。
func NewIngestService(
	ingestor Ingestor,
	producer TaskProducer,
	docs repository.DocumentRepository,
	chunks repository.ChunkRepository,
	store storage.Store,
	bucket string,
) IngestService {
	return &ingestService{
		ingestor: ingestor,
		producer: producer,
		docs:     docs,
		chunks:   chunks,
		store:    store,
		bucket:   bucket,
	}
}

// Upload 将文件写入对象存储，返回指向该对象的入库请求。
func (s *ingestService) Upload(ctx context.Context, filename string, r io.Reader, size int64) (pipeline.IngestRequest, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return pipeline.IngestRequest{}, fmt.Errorf("%w: filename is required", pipeline.ErrInvalidRequest)
	}
	if !isSupported(filename) {
		return pipeline.IngestRequest{}, fmt.Errorf("%w: unsupported file type %q", pipeline.ErrInvalidRequest, filepath.Ext(filename))
	}

	req := pipeline.IngestRequest{Filename: filename, Bucket: s.bucket, ObjectKey: filename}
	log.Infof("[Upload] 开始上传文件, filename: %s, size: %d", filename, size)
	if err := s.store.Put(ctx, req.Bucket, req.ObjectKey, r, size, contentType(filename)); err != nil {
		return pipeline.IngestRequest{}, fmt.Errorf("上传文件到对象存储失败: %w", err)
	}
	log.Infof("[Upload] 文件上传成功, bucket: %s, key: %s", req.Bucket, req.ObjectKey)
	return req, nil
}

// Ingest 同步执行一次入库。
func (s *ingestService) Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error) {
	return s.ingestor.Ingest(ctx, req)
}

// Enqueue 将入库请求发送到 Kafka，由后台消费者处理。
func (s *ingestService) Enqueue(ctx context.Context, req pipeline.IngestRequest) error {
	if s.producer == nil {
		return ErrQueueUnavailable
	}
	if strings.TrimSpace(req.Filename) == "" {
		return fmt.Errorf("%w: filename is required", pipeline.ErrInvalidRequest)
	}
	if req.Bucket == "" {
		req.Bucket = s.bucket
	}
	if req.ObjectKey == "" {
		req.ObjectKey = req.Filename
	}
	if err := s.producer.ProduceIngestTask(ctx, tasks.FromRequest(req)); err != nil {
		return fmt.Errorf("发送入库任务失败: %w", err)
	}
	log.Infof("[Enqueue] 入库任务已发送, filename: %s", req.Filename)
	return nil
}

// GetStatus 返回文件名对应文档的处理状态。
func (s *ingestService) GetStatus(filename string) (*DocumentStatusDTO, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("%w: filename is required", pipeline.ErrInvalidRequest)
	}
	doc, err := s.docs.FindByFilename(filename)
	if err != nil {
		return nil, err
	}
	return &DocumentStatusDTO{
		ID:                    doc.ID,
		Filename:              doc.Filename,
		Title:                 doc.Title,
		Status:                doc.ProcessingStatus,
		ErrorMessage:          doc.ErrorMessage,
		PageCount:             doc.PageCount,
		ChunkCount:            doc.ChunkCount,
		EmbeddedChunkCount:    doc.EmbeddedChunkCount,
		ProcessingStartedAt:   doc.ProcessingStartedAt,
		ProcessingCompletedAt: doc.ProcessingCompletedAt,
	}, nil
}

// ListDocuments 分页列出文档，status 为空时返回全部。
func (s *ingestService) ListDocuments(status string, limit, offset int) ([]model.SourceDocument, error) {
	st := model.ProcessingStatus(strings.ToLower(strings.TrimSpace(status)))
	if st != "" && !st.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", pipeline.ErrInvalidRequest, status)
	}
	return s.docs.List(st, limit, offset)
}

// ListChunks 按 chunk_index 升序分页列出文档的分块。
func (s *ingestService) ListChunks(documentID string, limit, offset int) ([]ChunkDTO, error) {
	if _, err := s.docs.FindByID(documentID); err != nil {
		return nil, err
	}
	chunks, err := s.chunks.FindByDocumentID(documentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("查询分块失败: %w", err)
	}
	out := make([]ChunkDTO, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, ChunkDTO{
			ID:           c.ID,
			ChunkIndex:   c.ChunkIndex,
			Content:      c.Content,
			ContentType:  c.ContentType,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
			HasEmbedding: c.HasEmbedding,
			CharCount:    c.CharCount,
			WordCount:    c.WordCount,
		})
	}
	return out, nil
}

// GenerateDownloadURL 为文档的原始文件生成临时下载链接。
func (s *ingestService) GenerateDownloadURL(ctx context.Context, documentID string) (*DownloadInfoDTO, error) {
	doc, err := s.docs.FindByID(documentID)
	if err != nil {
		return nil, err
	}
	info, err := s.store.Stat(ctx, doc.Bucket, doc.ObjectKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Warnf("[GenerateDownloadURL] 原始文件已不存在, bucket: %s, key: %s", doc.Bucket, doc.ObjectKey)
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("查询对象信息失败: %w", err)
	}
	url, err := s.store.PresignedURL(ctx, doc.Bucket, doc.ObjectKey, presignExpiry)
	if err != nil {
		return nil, fmt.Errorf("生成下载链接失败: %w", err)
	}
	return &DownloadInfoDTO{
		FileName:    doc.Filename,
		DownloadURL: url,
		FileSize:    info.Size,
	}, nil
}

// supportedTypes 列出可入库的文件扩展名，PDF 之外的格式需要 Tika。
var supportedTypes = map[string]string{
	".pdf":      "application/pdf",
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".doc":      "application/msword",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".html":     "text/html",
	".htm":      "text/html",
	".rtf":      "application/rtf",
}

// GetSupportedFileTypes 返回可入库的文件类型。
func (s *ingestService) GetSupportedFileTypes() map[string]interface{} {
	exts := make([]string, 0, len(supportedTypes))
	for ext := range supportedTypes {
		exts = append(exts, ext)
	}
	return map[string]interface{}{
		"supportedExtensions": exts,
		"supportedTypes":      supportedTypes,
		"description":         "PDF 直接解析，其余格式经 Tika 提取文本",
	}
}

func isSupported(filename string) bool {
	_, ok := supportedTypes[strings.ToLower(filepath.Ext(filename))]
	return ok
}

func contentType(filename string) string {
	if ct, ok := supportedTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}
