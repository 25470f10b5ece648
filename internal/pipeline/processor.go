// Package pipeline 定义了手册入库的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"manual-smart-go/internal/config"
	"manual-smart-go/internal/metadata"
	"manual-smart-go/internal/model"
	"manual-smart-go/internal/repository"
	"manual-smart-go/pkg/loader"
	"manual-smart-go/pkg/log"
)

// BlobStore 是源文件所在的对象存储。
type BlobStore interface {
	Download(ctx context.Context, bucket, objectKey string) ([]byte, error)
	Delete(ctx context.Context, bucket, objectKey string) error
}

// Indexer 把持久化后的分块同步到检索索引。
type Indexer interface {
	DeleteByDocument(ctx context.Context, documentID string) error
	BulkIndex(ctx context.Context, chunks []model.EsChunk) error
}

// IngestRequest 描述一次入库请求。Title、Category、YearRange 非空时覆盖自动提取的值。
type IngestRequest struct {
	Filename    string        `json:"filename"`
	Bucket      string        `json:"bucket"`
	ObjectKey   string        `json:"objectKey"`
	UploaderID  string        `json:"uploaderId"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	YearRange   string        `json:"yearRange"`
	Timeout     time.Duration `json:"-"`
}

// IngestResult 是入库成功后返回给调用方的结果。
type IngestResult struct {
	ManualID       string                 `json:"manualId"`
	Title          string                 `json:"title"`
	Pages          int                    `json:"pages"`
	Chunks         int                    `json:"chunks"`
	EmbeddedChunks int                    `json:"embeddedChunks"`
	ModelCodes     []string               `json:"modelCodes"`
	Category       model.Category         `json:"category"`
	YearRange      *string                `json:"yearRange"`
	Status         model.ProcessingStatus `json:"status"`
	Duplicate      bool                   `json:"duplicate"`
}

// Processor 封装了入库流程的所有依赖，可被多个协程并发调用。
type Processor struct {
	docs       repository.DocumentRepository
	chunks     repository.ChunkRepository
	store      BlobStore
	loader     loader.Loader
	extractor  *metadata.Extractor
	splitter   Splitter
	classifier Classifier
	embedder   *Embedder
	indexer    Indexer

	cfg           config.IngestionConfig
	defaultBucket string
	modelVersion  string
	now           func() time.Time
}

// Option 用于定制 Processor。
type Option func(*Processor)

// WithClassifier 替换内容类型与章节标题的检测策略。
func WithClassifier(c Classifier) Option {
	return func(p *Processor) { p.classifier = c }
}

// WithExtractor 替换元数据提取器。
func WithExtractor(e *metadata.Extractor) Option {
	return func(p *Processor) { p.extractor = e }
}

// WithIndexer 启用检索索引同步。
func WithIndexer(idx Indexer) Option {
	return func(p *Processor) { p.indexer = idx }
}

// WithDefaultBucket 设置请求未指定 bucket 时使用的存储桶。
func WithDefaultBucket(bucket string) Option {
	return func(p *Processor) { p.defaultBucket = bucket }
}

// WithModelVersion 设置写入索引的向量模型版本。
func WithModelVersion(v string) Option {
	return func(p *Processor) { p.modelVersion = v }
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor 创建一个新的 Processor 实例。cfg 在此处校验。
func NewProcessor(
	docs repository.DocumentRepository,
	chunks repository.ChunkRepository,
	store BlobStore,
	ld loader.Loader,
	embedder *Embedder,
	cfg config.IngestionConfig,
	opts ...Option,
) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("入库配置不合法: %w", err)
	}
	p := &Processor{
		docs:       docs,
		chunks:     chunks,
		store:      store,
		loader:     ld,
		extractor:  metadata.NewExtractor(),
		splitter:   NewSplitter(cfg),
		classifier: NewRuleClassifier(),
		embedder:   embedder,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Status 返回文件名对应文档的当前记录。
func (p *Processor) Status(filename string) (*model.SourceDocument, error) {
	return p.docs.FindByFilename(filename)
}

// Ingest 执行一次完整的入库。
// 内容哈希与已有文档相同（文件名不同）时直接返回已有文档，Duplicate 为 true；
// 同名文件则重新处理并整体替换其分块。
func (p *Processor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	overrides, err := p.validate(&req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(p.cfg.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	log.Infof("[Processor] 开始入库, filename: %s, bucket: %s, object: %s", req.Filename, req.Bucket, req.ObjectKey)

	data, downloadErr := p.store.Download(runCtx, req.Bucket, req.ObjectKey)
	var hash string
	if downloadErr == nil {
		sum := sha256.Sum256(data)
		hash = hex.EncodeToString(sum[:])
		if dup, err := p.docs.FindByContentHash(hash); err == nil && dup.Filename != req.Filename {
			log.Infof("[Processor] 内容与已有手册重复, 直接返回已有记录, filename: %s, existing: %s (%s)", req.Filename, dup.Filename, dup.ID)
			return resultFrom(dup, true), nil
		} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("按内容哈希查询文档失败: %w", err)
		}
	}

	// 步骤1: 按文件名查找或创建 pending 记录，内容哈希的唯一约束在此生效
	doc, dup, err := p.findOrCreate(req, data, hash, downloadErr)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		log.Infof("[Processor] 并发入库的相同内容已由其他文件名登记, filename: %s, existing: %s (%s)", req.Filename, dup.Filename, dup.ID)
		return resultFrom(dup, true), nil
	}

	// 步骤2: 条件更新占用文档
	now := p.now()
	stale := now.Add(-time.Duration(p.cfg.StaleClaimMinutes) * time.Minute)
	claimed, err := p.docs.Claim(doc.ID, now, stale)
	if err != nil {
		return nil, fmt.Errorf("占用文档失败: %w", err)
	}
	if !claimed {
		log.Warnf("[Processor] 文档正在被其他任务处理, filename: %s, id: %s", req.Filename, doc.ID)
		return nil, fmt.Errorf("%w: %s", ErrConflict, req.Filename)
	}

	// 同名文件内容变化时先登记新哈希，与其他文档冲突则撤销占用并返回对方
	if dup, err := p.rehash(doc, hash); err != nil {
		return nil, err
	} else if dup != nil {
		log.Infof("[Processor] 新内容已属于其他手册, 保留原记录, filename: %s, existing: %s (%s)", req.Filename, dup.Filename, dup.ID)
		return resultFrom(dup, true), nil
	}

	res, err := p.run(runCtx, doc, req, overrides, data, downloadErr)
	if err != nil {
		return nil, p.fail(ctx, runCtx, doc, req, timeout, err)
	}
	return res, nil
}

type overrides struct {
	category  model.Category
	yearRange *string
}

// validate 在管道边界校验请求并补全默认值。
func (p *Processor) validate(req *IngestRequest) (overrides, error) {
	var o overrides
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Filename == "" {
		return o, fmt.Errorf("%w: filename 不能为空", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(req.Filename) > 255 {
		return o, fmt.Errorf("%w: filename 过长", ErrInvalidRequest)
	}
	if req.Bucket == "" {
		req.Bucket = p.defaultBucket
	}
	if req.ObjectKey == "" {
		req.ObjectKey = req.Filename
	}
	if req.Timeout < 0 {
		return o, fmt.Errorf("%w: timeout 不能为负数", ErrInvalidRequest)
	}
	if c := strings.TrimSpace(req.Category); c != "" {
		cat, err := model.ParseCategory(c)
		if err != nil {
			return o, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		o.category = cat
	}
	if y := strings.TrimSpace(req.YearRange); y != "" {
		if len(y) > 16 {
			return o, fmt.Errorf("%w: year_range 过长: %q", ErrInvalidRequest, y)
		}
		o.yearRange = &y
	}
	return o, nil
}

// findOrCreate 返回文件名对应的文档；新建时因内容哈希冲突而失败则返回已登记该内容的文档作为 dup。
func (p *Processor) findOrCreate(req IngestRequest, data []byte, hash string, downloadErr error) (doc, dup *model.SourceDocument, err error) {
	doc, err = p.docs.FindByFilename(req.Filename)
	if err == nil {
		return doc, nil, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("按文件名查询文档失败: %w", err)
	}
	if downloadErr != nil {
		// 源文件不可用且没有已有记录时不落库
		return nil, nil, &FatalIngestionError{Stage: "download", Err: downloadErr}
	}

	doc = &model.SourceDocument{
		Filename:      req.Filename,
		Bucket:        req.Bucket,
		ObjectKey:     req.ObjectKey,
		UploaderID:    req.UploaderID,
		Title:         metadata.TitleFromFilename(req.Filename),
		FileSizeBytes: int64(len(data)),
		ContentHash:   &hash,
	}
	if err := p.docs.Create(doc); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, fmt.Errorf("创建文档记录失败: %w", err)
		}
		// 并发创建同名文档，改为读取对方创建的记录
		if existing, findErr := p.docs.FindByFilename(req.Filename); findErr == nil {
			return existing, nil, nil
		}
		// 相同内容已由其他文件名登记
		if existing, findErr := p.docs.FindByContentHash(hash); findErr == nil {
			return nil, existing, nil
		}
		return nil, nil, fmt.Errorf("创建文档记录失败: %w", err)
	}
	log.Infof("[Processor] 已创建文档记录, filename: %s, id: %s", req.Filename, doc.ID)
	return doc, nil, nil
}

// rehash 在文档已被占用后写入新的内容哈希。哈希已属于其他文档时撤销占用，返回该文档。
func (p *Processor) rehash(doc *model.SourceDocument, hash string) (*model.SourceDocument, error) {
	if hash == "" || (doc.ContentHash != nil && *doc.ContentHash == hash) {
		return nil, nil
	}
	err := p.docs.UpdateFields(doc.ID, map[string]interface{}{"content_hash": hash})
	if err == nil {
		doc.ContentHash = &hash
		return nil, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("更新内容哈希失败: %w", err)
	}
	if relErr := p.docs.Release(doc); relErr != nil {
		log.Errorf("[Processor] 撤销文档占用失败, id: %s, error: %v", doc.ID, relErr)
	}
	existing, findErr := p.docs.FindByContentHash(hash)
	if findErr != nil {
		return nil, fmt.Errorf("按内容哈希查询文档失败: %w", findErr)
	}
	return existing, nil
}

// run 执行步骤3至步骤9。任何阶段的 panic 都会被转换为 FatalIngestionError。
func (p *Processor) run(
	ctx context.Context,
	doc *model.SourceDocument,
	req IngestRequest,
	o overrides,
	data []byte,
	downloadErr error,
) (res *IngestResult, err error) {
	stage := "download"
	defer func() {
		if r := recover(); r != nil {
			err = &FatalIngestionError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if downloadErr != nil {
		return nil, &FatalIngestionError{Stage: stage, Err: downloadErr}
	}

	// 步骤3: 解析文档
	stage = "extract"
	loaded, err := p.loader.Load(ctx, loader.Source{
		Filename: req.Filename,
		Data:     bytes.NewReader(data),
		Size:     int64(len(data)),
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Processor] 步骤3: 文本提取完成, 总页数: %d, 有效页数: %d", loaded.PageCount, len(loaded.Pages))

	// 步骤4: 元数据提取并合并
	stage = "metadata"
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta := p.extractor.Extract(req.Filename, p.sample(loaded.Pages))
	if meta.Incomplete {
		log.Warnf("[Processor] 步骤4: 元数据不完整, 使用默认值继续, filename: %s, model_codes: %v, year_range: %v", req.Filename, meta.ModelCodes, meta.YearRange)
	}
	doc.Title = req.Title
	if doc.Title == "" {
		doc.Title = metadata.TitleFromFilename(req.Filename)
	}
	doc.Category = meta.Category
	if o.category != "" {
		doc.Category = o.category
	}
	doc.YearRange = meta.YearRange
	if o.yearRange != nil {
		doc.YearRange = o.yearRange
	}
	doc.ModelCodes = meta.ModelCodes
	doc.PageCount = loaded.PageCount
	doc.FileSizeBytes = int64(len(data))
	fields := map[string]interface{}{
		"title":           doc.Title,
		"category":        doc.Category,
		"year_range":      doc.YearRange,
		"model_codes":     doc.ModelCodes,
		"page_count":      doc.PageCount,
		"file_size_bytes": doc.FileSizeBytes,
		"bucket":          req.Bucket,
		"object_key":      req.ObjectKey,
	}
	if req.Description != "" {
		fields["description"] = req.Description
	}
	if req.UploaderID != "" {
		fields["uploader_id"] = req.UploaderID
	}
	if err := p.docs.UpdateFields(doc.ID, fields); err != nil {
		return nil, fmt.Errorf("更新文档元数据失败: %w", err)
	}

	// 步骤5: 删除旧分块
	stage = "cleanup"
	if err := p.chunks.DeleteByDocumentID(doc.ID); err != nil {
		return nil, fmt.Errorf("删除旧分块失败: %w", err)
	}
	if p.indexer != nil {
		if err := p.indexer.DeleteByDocument(ctx, doc.ID); err != nil {
			log.Warnf("[Processor] 步骤5: 清理旧索引失败, id: %s, error: %v", doc.ID, err)
		}
	}

	// 步骤6: 分块与内容类型检测
	stage = "chunk"
	pending := p.chunkPages(doc, loaded.Pages)
	log.Infof("[Processor] 步骤6: 分块完成, 共 %d 个分块", len(pending))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 步骤7: 向量化
	stage = "embed"
	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = c.Content
	}
	emb := p.embedder.Generate(ctx, texts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, v := range emb.Vectors {
		pending[i].Embedding = v
		pending[i].HasEmbedding = v != nil
	}

	// 步骤8: 分批持久化
	stage = "persist"
	if err := p.persist(ctx, doc.ID, pending); err != nil {
		return nil, err
	}

	// 步骤9: 以实际落库的行数完成文档
	stage = "finalize"
	count, err := p.chunks.CountByDocumentID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("统计分块数失败: %w", err)
	}
	embedded, err := p.chunks.CountEmbeddedByDocumentID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("统计已向量化分块数失败: %w", err)
	}
	if int(count) != len(pending) {
		log.Warnf("[Processor] 步骤9: 分块数不一致, 生成: %d, 落库: %d, id: %s", len(pending), count, doc.ID)
	}
	completedAt := p.now()
	if err := p.docs.MarkCompleted(doc.ID, int(count), int(embedded), completedAt); err != nil {
		return nil, fmt.Errorf("更新文档状态失败: %w", err)
	}
	doc.ProcessingStatus = model.StatusCompleted
	doc.ChunkCount = int(count)
	doc.EmbeddedChunkCount = int(embedded)
	doc.ErrorMessage = nil
	doc.ProcessingCompletedAt = &completedAt
	log.Infof("[Processor] 入库完成, filename: %s, id: %s, 分块: %d, 已向量化: %d", req.Filename, doc.ID, count, embedded)

	p.index(ctx, doc)
	return resultFrom(doc, false), nil
}

func (p *Processor) sample(pages []loader.Page) string {
	n := min(p.cfg.MetadataSamplePages, len(pages))
	texts := make([]string, 0, n)
	for _, pg := range pages[:n] {
		texts = append(texts, pg.Text)
	}
	return strings.Join(texts, "\n")
}

// chunkPages 逐页分块；chunk_index 在持久化时才确定。
func (p *Processor) chunkPages(doc *model.SourceDocument, pages []loader.Page) []*model.Chunk {
	var out []*model.Chunk
	for _, page := range pages {
		section := p.classifier.SectionTitle(page.Text)
		for text := range p.splitter.Split(page.Text) {
			out = append(out, &model.Chunk{
				DocumentID:   doc.ID,
				Content:      text,
				ContentType:  p.classifier.ContentType(text),
				PageNumber:   page.Number,
				SectionTitle: section,
				ModelCodes:   doc.ModelCodes,
				YearRange:    doc.YearRange,
				CharCount:    utf8.RuneCountInString(text),
				WordCount:    len(strings.Fields(text)),
			})
		}
	}
	return out
}

// persist 分批写入分块。写入失败的批次被丢弃并记录日志，
// 后续批次从已落库的行数继续编号，保证 chunk_index 连续。
func (p *Processor) persist(ctx context.Context, documentID string, pending []*model.Chunk) error {
	size := p.cfg.PersistBatchSize
	persisted, batch := 0, 0
	for start := 0; start < len(pending); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(pending))
		rows := pending[start:end]
		for i, c := range rows {
			c.ID = ""
			c.ChunkIndex = persisted + i
		}
		if err := p.chunks.CreateBatch(rows); err != nil {
			perr := &PersistenceError{Batch: batch, Attempted: len(rows), Persisted: persisted, Err: err}
			log.Errorf("[Processor] 步骤8: %v, id: %s", perr, documentID)
		} else {
			persisted += len(rows)
		}
		batch++
	}
	log.Infof("[Processor] 步骤8: 分块持久化完成, 尝试: %d, 成功: %d", len(pending), persisted)
	return nil
}

// index 把已完成文档的分块同步到检索索引，失败只记录日志。
func (p *Processor) index(ctx context.Context, doc *model.SourceDocument) {
	if p.indexer == nil || doc.ChunkCount == 0 || ctx.Err() != nil {
		return
	}
	saved, err := p.chunks.FindByDocumentID(doc.ID, 0, 0)
	if err != nil {
		log.Warnf("[Processor] 读取分块用于索引失败, id: %s, error: %v", doc.ID, err)
		return
	}
	esChunks := make([]model.EsChunk, 0, len(saved))
	for i := range saved {
		esChunks = append(esChunks, model.NewEsChunk(doc, &saved[i], p.modelVersion))
	}
	if err := p.indexer.BulkIndex(ctx, esChunks); err != nil {
		log.Warnf("[Processor] 分块索引失败, id: %s, error: %v", doc.ID, err)
	}
}

// fail 将文档置为 failed 并返回给调用方的错误。runCtx 已超时或被取消时不影响状态写入。
func (p *Processor) fail(parent, runCtx context.Context, doc *model.SourceDocument, req IngestRequest, timeout time.Duration, cause error) error {
	err := cause
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && parent.Err() == nil:
		err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		err = fmt.Errorf("ingestion cancelled: %w", cause)
	}

	var extractErr *loader.ExtractionError
	var fatal *FatalIngestionError
	if !errors.As(err, &extractErr) && !errors.As(err, &fatal) && !errors.Is(err, ErrTimeout) {
		err = &FatalIngestionError{Stage: "ingest", Err: err}
	}

	// 旧分块可能已在步骤5删除，计数以表中实际行数为准
	count, countErr := p.chunks.CountByDocumentID(doc.ID)
	embedded, embErr := p.chunks.CountEmbeddedByDocumentID(doc.ID)
	if countErr != nil || embErr != nil {
		log.Warnf("[Processor] 统计失败文档的分块数失败, 计数可能不准确, id: %s, error: %v", doc.ID, errors.Join(countErr, embErr))
		count, embedded = int64(doc.ChunkCount), int64(doc.EmbeddedChunkCount)
	}
	if markErr := p.docs.MarkFailed(doc.ID, err.Error(), int(count), int(embedded), p.now()); markErr != nil {
		log.Errorf("[Processor] 更新文档为 failed 失败, id: %s, error: %v", doc.ID, markErr)
	}
	log.Errorf("[Processor] 入库失败, filename: %s, id: %s, error: %v", req.Filename, doc.ID, err)

	if extractErr != nil && p.cfg.CleanupOnExtractionFailure {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), 30*time.Second)
		defer cancel()
		if delErr := p.store.Delete(cleanupCtx, req.Bucket, req.ObjectKey); delErr != nil {
			log.Warnf("[Processor] 删除无法解析的源文件失败, object: %s, error: %v", req.ObjectKey, delErr)
		}
	}
	return err
}

func resultFrom(doc *model.SourceDocument, duplicate bool) *IngestResult {
	codes := []string(doc.ModelCodes)
	if codes == nil {
		codes = []string{}
	}
	return &IngestResult{
		ManualID:       doc.ID,
		Title:          doc.Title,
		Pages:          doc.PageCount,
		Chunks:         doc.ChunkCount,
		EmbeddedChunks: doc.EmbeddedChunkCount,
		ModelCodes:     codes,
		Category:       doc.Category,
		YearRange:      doc.YearRange,
		Status:         doc.ProcessingStatus,
		Duplicate:      duplicate,
	}
}
