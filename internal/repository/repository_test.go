package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"manual-smart-go/internal/model"
	"manual-smart-go/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	return db
}

func TestDocumentRepositoryLookups(t *testing.T) {
	repo := NewDocumentRepository(openTestDB(t))

	hash := "abc"
	doc := &model.SourceDocument{Filename: "U1700L_service.pdf", ContentHash: &hash}
	require.NoError(t, repo.Create(doc))

	byName, err := repo.FindByFilename("U1700L_service.pdf")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byName.ID)

	byHash, err := repo.FindByContentHash("abc")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byHash.ID)

	_, err = repo.FindByFilename("missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindByContentHash("")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Create(&model.SourceDocument{Filename: "U1700L_service.pdf"}), ErrDuplicate, "filename is unique")
	assert.ErrorIs(t, repo.Create(&model.SourceDocument{Filename: "copy.pdf", ContentHash: &hash}), ErrDuplicate, "content hash is unique")
	require.NoError(t, repo.Create(&model.SourceDocument{Filename: "pending.pdf"}))
	require.NoError(t, repo.Create(&model.SourceDocument{Filename: "pending2.pdf"}), "documents without a hash do not collide")
}

func TestDocumentRepositoryUpdateHashConflict(t *testing.T) {
	repo := NewDocumentRepository(openTestDB(t))
	first, second := "h1", "h2"
	a := &model.SourceDocument{Filename: "a.pdf", ContentHash: &first}
	b := &model.SourceDocument{Filename: "b.pdf", ContentHash: &second}
	require.NoError(t, repo.Create(a))
	require.NoError(t, repo.Create(b))

	err := repo.UpdateFields(b.ID, map[string]interface{}{"content_hash": "h1"})
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, repo.UpdateFields(b.ID, map[string]interface{}{"content_hash": "h3"}))
}

func TestDocumentRepositoryRelease(t *testing.T) {
	repo := NewDocumentRepository(openTestDB(t))
	doc := &model.SourceDocument{Filename: "a.pdf"}
	require.NoError(t, repo.Create(doc))
	require.NoError(t, repo.MarkCompleted(doc.ID, 3, 3, time.Now()))
	before, err := repo.FindByID(doc.ID)
	require.NoError(t, err)

	now := time.Now()
	ok, err := repo.Claim(doc.ID, now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.Release(before))

	got, err := repo.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.ProcessingStatus)
	assert.Nil(t, got.ProcessingStartedAt)
	assert.NotNil(t, got.ProcessingCompletedAt)
	assert.Equal(t, 3, got.ChunkCount)
}

func TestDocumentRepositoryClaim(t *testing.T) {
	repo := NewDocumentRepository(openTestDB(t))
	doc := &model.SourceDocument{Filename: "a.pdf"}
	require.NoError(t, repo.Create(doc))

	now := time.Now()
	ok, err := repo.Claim(doc.ID, now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(doc.ID, now, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a fresh processing claim blocks a second claim")

	later := now.Add(time.Hour)
	ok, err = repo.Claim(doc.ID, later, later.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "a stale processing claim can be taken over")

	require.NoError(t, repo.MarkFailed(doc.ID, "boom", 2, 1, later))
	got, err := repo.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.ProcessingStatus)
	assert.Equal(t, 2, got.ChunkCount)
	assert.Equal(t, 1, got.EmbeddedChunkCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)

	ok, err = repo.Claim(doc.ID, later, later.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = repo.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ErrorMessage)

	require.NoError(t, repo.MarkCompleted(doc.ID, 7, 5, later))
	got, err = repo.FindByID(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.ProcessingStatus)
	assert.Equal(t, 7, got.ChunkCount)
	assert.Equal(t, 5, got.EmbeddedChunkCount)
	assert.NotNil(t, got.ProcessingCompletedAt)
}

func TestDocumentRepositoryList(t *testing.T) {
	repo := NewDocumentRepository(openTestDB(t))
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		require.NoError(t, repo.Create(&model.SourceDocument{Filename: name}))
	}
	all, err := repo.List("", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	first, _ := repo.FindByFilename("a.pdf")
	require.NoError(t, repo.MarkCompleted(first.ID, 1, 1, time.Now()))
	done, err := repo.List(model.StatusCompleted, 10, 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "a.pdf", done[0].Filename)
}

func TestChunkRepository(t *testing.T) {
	db := openTestDB(t)
	docs := NewDocumentRepository(db)
	chunks := NewChunkRepository(db)

	doc := &model.SourceDocument{Filename: "a.pdf"}
	require.NoError(t, docs.Create(doc))

	batch := []*model.Chunk{
		{DocumentID: doc.ID, ChunkIndex: 1, Content: "second", PageNumber: 1, Embedding: []float32{0.1, 0.2}, HasEmbedding: true},
		{DocumentID: doc.ID, ChunkIndex: 0, Content: "first", PageNumber: 1},
	}
	require.NoError(t, chunks.CreateBatch(batch))

	n, err := chunks.CountByDocumentID(doc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	n, err = chunks.CountEmbeddedByDocumentID(doc.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := chunks.FindByDocumentID(doc.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Nil(t, got[0].Embedding)
	assert.Equal(t, []float32{0.1, 0.2}, got[1].Embedding)

	dup := []*model.Chunk{{DocumentID: doc.ID, ChunkIndex: 0, Content: "dup", PageNumber: 1}}
	assert.Error(t, chunks.CreateBatch(dup), "(document_id, chunk_index) is unique")

	require.NoError(t, chunks.DeleteByDocumentID(doc.ID))
	n, err = chunks.CountByDocumentID(doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryAttemptRepository(t *testing.T) {
	repo := NewAttemptRepository(nil, time.Hour)
	ctx := context.Background()

	n, err := repo.Incr(ctx, "a.pdf")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, _ = repo.Incr(ctx, "a.pdf")
	assert.EqualValues(t, 2, n)

	require.NoError(t, repo.Reset(ctx, "a.pdf"))
	n, _ = repo.Incr(ctx, "a.pdf")
	assert.EqualValues(t, 1, n)
}
