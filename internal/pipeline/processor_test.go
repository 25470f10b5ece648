package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"manual-smart-go/internal/config"
	"manual-smart-go/internal/model"
	"manual-smart-go/internal/repository"
	"manual-smart-go/pkg/database"
	"manual-smart-go/pkg/loader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	db        *gorm.DB
	docs      repository.DocumentRepository
	chunks    repository.ChunkRepository
	store     *fakeStore
	client    *fakeEmbeddingClient
	indexer   *fakeIndexer
	cfg       config.IngestionConfig
	processor *Processor
}

func testIngestionConfig() config.IngestionConfig {
	cfg := config.DefaultIngestionConfig()
	cfg.ChunkSize = 300
	cfg.ChunkOverlap = 50
	cfg.MinChunkLength = 20
	cfg.EmbeddingBatchSize = 2
	cfg.EmbeddingMaxAttempts = 1
	cfg.EmbeddingRetryBaseMS = 0
	cfg.PersistBatchSize = 3
	return cfg
}

func newHarness(t *testing.T, mutate func(h *harness), opts ...Option) *harness {
	t.Helper()
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)

	h := &harness{
		db:      db,
		docs:    repository.NewDocumentRepository(db),
		chunks:  repository.NewChunkRepository(db),
		store:   newFakeStore(),
		client:  &fakeEmbeddingClient{},
		indexer: &fakeIndexer{},
		cfg:     testIngestionConfig(),
	}
	if mutate != nil {
		mutate(h)
	}
	embedder := NewEmbedder(h.client, h.cfg, config.EmbeddingConfig{})
	opts = append([]Option{WithIndexer(h.indexer), WithDefaultBucket("manuals"), WithModelVersion("test-embed")}, opts...)
	h.processor, err = NewProcessor(h.docs, h.chunks, h.store, loader.NewComposite(nil), embedder, h.cfg, opts...)
	require.NoError(t, err)
	return h
}

// manualText 生成多页纯文本手册，页之间以换页符分隔。
func manualText(pages int, marker string) string {
	var sb strings.Builder
	for p := 1; p <= pages; p++ {
		if p > 1 {
			sb.WriteString("\f")
		}
		fmt.Fprintf(&sb, "%d.1 HYDRAULIC SYSTEM\n", p)
		for i := 0; i < 12; i++ {
			fmt.Fprintf(&sb, "Unimog U1700L %s page %d sentence %d covers vehicles built between 1976 and 1991. ", marker, p, i)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (h *harness) chunkRows(t *testing.T, docID string) []model.Chunk {
	t.Helper()
	rows, err := h.chunks.FindByDocumentID(docID, 0, 0)
	require.NoError(t, err)
	return rows
}

func (h *harness) docCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&model.SourceDocument{}).Count(&n).Error)
	return n
}

func assertSequential(t *testing.T, rows []model.Chunk) {
	t.Helper()
	for i, r := range rows {
		assert.Equal(t, i, r.ChunkIndex)
	}
}

func TestIngestCompletes(t *testing.T) {
	h := newHarness(t, nil)
	h.store.put("U1700L_Service_Manual.txt", []byte(manualText(3, "v1")))

	res, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "U1700L_Service_Manual.txt", UploaderID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, "U1700L Service Manual", res.Title)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, model.CategoryService, res.Category)
	assert.Contains(t, res.ModelCodes, "U1700L")
	require.NotNil(t, res.YearRange)
	assert.Equal(t, "1976-1991", *res.YearRange)
	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.False(t, res.Duplicate)
	assert.Greater(t, res.Chunks, 3)
	assert.Equal(t, res.Chunks, res.EmbeddedChunks)

	doc, err := h.processor.Status("U1700L_Service_Manual.txt")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, doc.ProcessingStatus)
	assert.Nil(t, doc.ErrorMessage)
	assert.NotNil(t, doc.ProcessingStartedAt)
	assert.NotNil(t, doc.ProcessingCompletedAt)
	require.NotNil(t, doc.ContentHash)
	assert.Len(t, *doc.ContentHash, 64)
	assert.Equal(t, "u-1", doc.UploaderID)

	rows := h.chunkRows(t, res.ManualID)
	require.Len(t, rows, res.Chunks)
	assertSequential(t, rows)
	assert.Equal(t, 1, rows[0].PageNumber)
	assert.Equal(t, 3, rows[len(rows)-1].PageNumber)
	require.NotNil(t, rows[0].SectionTitle)
	assert.Equal(t, "1.1 HYDRAULIC SYSTEM", *rows[0].SectionTitle)
	assert.Contains(t, []string(rows[0].ModelCodes), "U1700L")
	assert.LessOrEqual(t, rows[0].CharCount, h.cfg.ChunkSize)
	assert.Positive(t, rows[0].WordCount)

	assert.Equal(t, []string{res.ManualID}, h.indexer.deleted)
	require.Len(t, h.indexer.indexed, res.Chunks)
	assert.Equal(t, "test-embed", h.indexer.indexed[0].ModelVersion)
}

func TestIngestIdempotentReprocessing(t *testing.T) {
	h := newHarness(t, nil)
	h.store.put("manual.txt", []byte(manualText(4, "v1")))

	first, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	require.NoError(t, err)

	h.store.put("manual.txt", []byte(manualText(2, "second-version")))
	second, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	require.NoError(t, err)

	assert.Equal(t, first.ManualID, second.ManualID)
	assert.EqualValues(t, 1, h.docCount(t))
	assert.Less(t, second.Chunks, first.Chunks)

	rows := h.chunkRows(t, second.ManualID)
	require.Len(t, rows, second.Chunks)
	assertSequential(t, rows)
	for _, r := range rows {
		assert.Contains(t, r.Content, "second-version", "old chunks are fully replaced")
	}
}

func TestIngestSameContentTwiceIsStable(t *testing.T) {
	h := newHarness(t, nil)
	h.store.put("manual.txt", []byte(manualText(3, "v1")))

	first, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	require.NoError(t, err)
	second, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	require.NoError(t, err)

	assert.False(t, second.Duplicate, "same filename reprocesses")
	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Len(t, h.chunkRows(t, first.ManualID), first.Chunks)
}

func TestIngestDuplicateContent(t *testing.T) {
	h := newHarness(t, nil)
	data := []byte(manualText(2, "v1"))
	h.store.put("a.txt", data)
	h.store.put("copy-of-a.txt", data)

	first, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "a.txt"})
	require.NoError(t, err)
	dup, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "copy-of-a.txt"})
	require.NoError(t, err)

	assert.True(t, dup.Duplicate)
	assert.Equal(t, first.ManualID, dup.ManualID)
	assert.Equal(t, first.Chunks, dup.Chunks)
	assert.EqualValues(t, 1, h.docCount(t))
	_, err = h.processor.Status("copy-of-a.txt")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestIngestConcurrentDuplicateContent(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.docs = newHashBarrierRepository(h.docs, 2) })
	data := []byte(manualText(2, "v1"))
	h.store.put("a.txt", data)
	h.store.put("b.txt", data)

	var wg sync.WaitGroup
	results := make([]*IngestResult, 2)
	errs := make([]error, 2)
	for i, name := range []string{"a.txt", "b.txt"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.processor.Ingest(context.Background(), IngestRequest{Filename: name})
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0].Duplicate, results[1].Duplicate, "exactly one run owns the content")
	assert.Equal(t, results[0].ManualID, results[1].ManualID)
	assert.EqualValues(t, 1, h.docCount(t))

	winner := results[0]
	if winner.Duplicate {
		winner = results[1]
	}
	assert.Equal(t, model.StatusCompleted, winner.Status)
	assert.Len(t, h.chunkRows(t, winner.ManualID), winner.Chunks)
}

func TestIngestReprocessWithContentOwnedByAnotherManual(t *testing.T) {
	h := newHarness(t, nil)
	h.store.put("a.txt", []byte(manualText(2, "alpha")))
	h.store.put("b.txt", []byte(manualText(3, "beta")))
	a, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "a.txt"})
	require.NoError(t, err)
	b, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "b.txt"})
	require.NoError(t, err)
	before, err := h.docs.FindByID(b.ManualID)
	require.NoError(t, err)

	// a.txt 的内容在查重之后才登记，b.txt 改为同样的内容
	h.processor.docs = &missFirstHashRepository{DocumentRepository: h.docs}
	h.store.put("b.txt", []byte(manualText(2, "alpha")))
	res, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "b.txt"})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, a.ManualID, res.ManualID)

	after, err := h.docs.FindByID(b.ManualID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, after.ProcessingStatus, "the claim is released")
	assert.Equal(t, *before.ContentHash, *after.ContentHash)
	assert.Len(t, h.chunkRows(t, b.ManualID), b.Chunks, "previous chunks are untouched")
	assert.EqualValues(t, 2, h.docCount(t))
}

func TestIngestEmbeddingDegradation(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.client.fn = func(_ context.Context, call int, in []string) ([][]float32, error) {
			if call == 2 {
				return nil, errors.New("provider 503")
			}
			return vectorsFor(in), nil
		}
	})
	h.store.put("manual.txt", []byte(manualText(3, "v1")))

	res, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Equal(t, res.Chunks-2, res.EmbeddedChunks)

	rows := h.chunkRows(t, res.ManualID)
	for _, r := range rows {
		failed := r.ChunkIndex == 2 || r.ChunkIndex == 3
		assert.Equal(t, failed, r.Embedding == nil, "chunk %d", r.ChunkIndex)
		assert.Equal(t, !failed, r.HasEmbedding, "chunk %d", r.ChunkIndex)
	}
	assert.Empty(t, h.indexer.indexed[2].Vector)
}

func TestIngestFatalExtraction(t *testing.T) {
	h := newHarness(t, nil)
	h.store.put("broken.pdf", []byte("this is not a pdf at all"))

	_, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "broken.pdf"})
	var ee *loader.ExtractionError
	require.ErrorAs(t, err, &ee)

	doc, err := h.processor.Status("broken.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.ProcessingStatus)
	assert.Zero(t, doc.ChunkCount)
	require.NotNil(t, doc.ErrorMessage)
	assert.NotEmpty(t, *doc.ErrorMessage)
	assert.Empty(t, h.chunkRows(t, doc.ID))
	assert.Empty(t, h.store.deleted, "the blob is retained for retry")

	// 失败后可以重新提交
	h.store.put("broken.pdf", []byte("%PDF-1.4 still broken"))
	_, err = h.processor.Ingest(context.Background(), IngestRequest{Filename: "broken.pdf"})
	require.ErrorAs(t, err, &ee)
}

func TestIngestExtractionCleanup(t *testing.T) {
	h := newHarness(t, func(h *harness) { h.cfg.CleanupOnExtractionFailure = true })
	h.store.put("empty.txt", []byte("   "))

	_, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "empty.txt"})
	assert.ErrorIs(t, err, loader.ErrNoPages)
	assert.Equal(t, []string{"manuals/empty.txt"}, h.store.deleted)
}

func TestIngestConflict(t *testing.T) {
	h := newHarness(t, nil)
	h.store.put("manual.txt", []byte(manualText(1, "v1")))

	doc := &model.SourceDocument{Filename: "manual.txt"}
	require.NoError(t, h.docs.Create(doc))
	ok, err := h.docs.Claim(doc.ID, time.Now(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := h.docs.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.ProcessingStatus, "the owning run is left alone")
}

func TestIngestTakesOverStaleClaim(t *testing.T) {
	h := newHarness(t, nil)
	h.store.put("manual.txt", []byte(manualText(1, "v1")))

	doc := &model.SourceDocument{Filename: "manual.txt"}
	require.NoError(t, h.docs.Create(doc))
	long := time.Now().Add(-2 * time.Hour)
	_, err := h.docs.Claim(doc.ID, long, long.Add(-time.Minute))
	require.NoError(t, err)

	res, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Status)
}

func TestIngestTimeout(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.client.fn = func(ctx context.Context, _ int, _ []string) ([][]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
	})
	h.store.put("manual.txt", []byte(manualText(2, "v1")))

	_, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt", Timeout: 50 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)

	doc, err := h.processor.Status("manual.txt")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.ProcessingStatus)
	require.NotNil(t, doc.ErrorMessage)
	assert.Contains(t, *doc.ErrorMessage, "timed out")
	assert.Empty(t, h.chunkRows(t, doc.ID))
}

func TestIngestFailedReprocessingResetsCounts(t *testing.T) {
	h := newHarness(t, nil)
	h.store.put("manual.txt", []byte(manualText(3, "v1")))
	first, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	require.NoError(t, err)
	require.Positive(t, first.Chunks)

	// 分块阶段在旧分块删除之后失败
	h.processor.classifier = panicClassifier{NewRuleClassifier()}
	h.store.put("manual.txt", []byte(manualText(2, "v2")))
	_, err = h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	var fatal *FatalIngestionError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "chunk", fatal.Stage)

	doc, err := h.processor.Status("manual.txt")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.ProcessingStatus)
	assert.Len(t, h.chunkRows(t, doc.ID), doc.ChunkCount, "counts match the rows left behind")
	assert.Zero(t, doc.ChunkCount)
	assert.Zero(t, doc.EmbeddedChunkCount)
}

func TestIngestPersistenceFailureKeepsIndicesContiguous(t *testing.T) {
	var flaky *flakyChunkRepository
	h := newHarness(t, func(h *harness) {
		flaky = &flakyChunkRepository{ChunkRepository: h.chunks, failOn: map[int]bool{2: true}}
		h.chunks = flaky
	})
	h.store.put("manual.txt", []byte(manualText(3, "v1")))

	res, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	require.NoError(t, err)
	require.Greater(t, flaky.calls, 2)

	rows := h.chunkRows(t, res.ManualID)
	assert.Len(t, rows, res.Chunks)
	assertSequential(t, rows)

	doc, err := h.processor.Status("manual.txt")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, doc.ProcessingStatus)
	assert.Equal(t, len(rows), doc.ChunkCount)
}

func TestIngestOverrides(t *testing.T) {
	h := newHarness(t, nil)
	h.store.put("scan_001.txt", []byte(manualText(1, "v1")))

	res, err := h.processor.Ingest(context.Background(), IngestRequest{
		Filename:    "scan_001.txt",
		Title:       "Unimog Parts Book",
		Description: "scanned at the club archive",
		Category:    "PARTS",
		YearRange:   "1980-1985",
	})
	require.NoError(t, err)
	assert.Equal(t, "Unimog Parts Book", res.Title)
	assert.Equal(t, model.CategoryParts, res.Category)
	require.NotNil(t, res.YearRange)
	assert.Equal(t, "1980-1985", *res.YearRange)

	doc, err := h.processor.Status("scan_001.txt")
	require.NoError(t, err)
	assert.Equal(t, "scanned at the club archive", doc.Description)
	rows := h.chunkRows(t, doc.ID)
	require.NotEmpty(t, rows)
	assert.Equal(t, "1980-1985", *rows[0].YearRange)
}

func TestIngestInvalidRequest(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = h.processor.Ingest(context.Background(), IngestRequest{Filename: "a.txt", Category: "brochure"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = h.processor.Ingest(context.Background(), IngestRequest{Filename: "a.txt", Timeout: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, h.docCount(t))
}

func TestIngestMissingBlob(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "ghost.txt"})
	var fatal *FatalIngestionError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "download", fatal.Stage)
	assert.Zero(t, h.docCount(t), "no record is created without a source file")
}

func TestIngestRecoversPanics(t *testing.T) {
	h := newHarness(t, nil, WithClassifier(panicClassifier{NewRuleClassifier()}))
	h.store.put("manual.txt", []byte(manualText(1, "v1")))

	_, err := h.processor.Ingest(context.Background(), IngestRequest{Filename: "manual.txt"})
	var fatal *FatalIngestionError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "chunk", fatal.Stage)

	doc, err := h.processor.Status("manual.txt")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.ProcessingStatus)
	assert.Contains(t, *doc.ErrorMessage, "classifier exploded")
}

func TestNewProcessorValidatesConfig(t *testing.T) {
	cfg := config.DefaultIngestionConfig()
	cfg.ChunkOverlap = cfg.ChunkSize
	_, err := NewProcessor(nil, nil, nil, nil, nil, cfg)
	assert.Error(t, err)
}
