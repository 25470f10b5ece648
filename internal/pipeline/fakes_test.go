package pipeline

import (
	"context"
	"errors"
	"sync"

	"manual-smart-go/internal/model"
	"manual-smart-go/internal/repository"
)

// fakeEmbeddingClient 按调用顺序执行 fn，fn 为 nil 时返回 [len(text), index] 形式的二维向量。
type fakeEmbeddingClient struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, texts []string) ([][]float32, error)
}

func (f *fakeEmbeddingClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	v, err := f.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbeddingClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, call, texts)
	}
	return vectorsFor(texts), nil
}

func (f *fakeEmbeddingClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func vectorsFor(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(i)}
	}
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects["manuals/"+key] = data
}

func (s *fakeStore) Download(_ context.Context, bucket, objectKey string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (s *fakeStore) Delete(_ context.Context, bucket, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, bucket+"/"+objectKey)
	delete(s.objects, bucket+"/"+objectKey)
	return nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	deleted []string
	indexed []model.EsChunk
}

func (f *fakeIndexer) DeleteByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, documentID)
	return nil
}

func (f *fakeIndexer) BulkIndex(_ context.Context, chunks []model.EsChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, chunks...)
	return nil
}

// flakyChunkRepository 让指定序号（从 1 开始）的 CreateBatch 调用失败。
type flakyChunkRepository struct {
	repository.ChunkRepository
	failOn map[int]bool
	calls  int
}

func (r *flakyChunkRepository) CreateBatch(chunks []*model.Chunk) error {
	r.calls++
	if r.failOn[r.calls] {
		return errors.New("deadlock detected")
	}
	return r.ChunkRepository.CreateBatch(chunks)
}

type panicClassifier struct{ *RuleClassifier }

func (panicClassifier) ContentType(string) model.ContentType { panic("classifier exploded") }

// hashBarrierRepository 让前 parties 次 FindByContentHash 互相等待，使并发的入库同时通过查重。
type hashBarrierRepository struct {
	repository.DocumentRepository
	parties int
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func newHashBarrierRepository(inner repository.DocumentRepository, parties int) *hashBarrierRepository {
	return &hashBarrierRepository{DocumentRepository: inner, parties: parties, release: make(chan struct{})}
}

func (r *hashBarrierRepository) FindByContentHash(hash string) (*model.SourceDocument, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	if n == r.parties {
		close(r.release)
	}
	r.mu.Unlock()
	if n <= r.parties {
		<-r.release
	}
	return r.DocumentRepository.FindByContentHash(hash)
}

// missFirstHashRepository 的第一次 FindByContentHash 返回未找到，模拟查重之后才登记的相同内容。
type missFirstHashRepository struct {
	repository.DocumentRepository
	missed bool
}

func (r *missFirstHashRepository) FindByContentHash(hash string) (*model.SourceDocument, error) {
	if !r.missed {
		r.missed = true
		return nil, repository.ErrNotFound
	}
	return r.DocumentRepository.FindByContentHash(hash)
}
