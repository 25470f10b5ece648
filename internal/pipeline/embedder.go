package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"manual-smart-go/internal/config"
	"manual-smart-go/pkg/embedding"
	"manual-smart-go/pkg/log"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// Embeddings 与输入文本一一对应，失败批次中的分块向量为 nil。
type Embeddings struct {
	Vectors  [][]float32
	Failures []*EmbeddingProviderError
}

// Embedded 返回成功生成向量的分块数。
func (e Embeddings) Embedded() int {
	n := 0
	for _, v := range e.Vectors {
		if v != nil {
			n++
		}
	}
	return n
}

// Embedder 把分块按批次提交给向量化服务，批次之间互不影响。
type Embedder struct {
	client      embedding.Client
	batchSize   int
	concurrency int
	maxAttempts int
	retryBase   time.Duration
	dimensions  int
	limiter     *rate.Limiter
}

// NewEmbedder 根据入库与向量化配置创建 Embedder。
func NewEmbedder(client embedding.Client, cfg config.IngestionConfig, embCfg config.EmbeddingConfig) *Embedder {
	e := &Embedder{
		client:      client,
		batchSize:   max(cfg.EmbeddingBatchSize, 1),
		concurrency: max(cfg.EmbeddingConcurrency, 1),
		maxAttempts: max(cfg.EmbeddingMaxAttempts, 1),
		retryBase:   time.Duration(cfg.EmbeddingRetryBaseMS) * time.Millisecond,
		dimensions:  embCfg.Dimensions,
	}
	if embCfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(embCfg.RequestsPerSecond), 1)
	}
	return e
}

// Generate 为 texts 生成向量。服务端错误只会让对应批次降级为 nil，不会返回错误。
func (e *Embedder) Generate(ctx context.Context, texts []string) Embeddings {
	out := Embeddings{Vectors: make([][]float32, len(texts))}
	if len(texts) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(f *EmbeddingProviderError) {
		mu.Lock()
		out.Failures = append(out.Failures, f)
		mu.Unlock()
	}

	pool, err := ants.NewPool(e.concurrency)
	if err != nil {
		// 仅在参数非法时发生，退化为串行执行
		log.Warnf("[Embedder] 创建协程池失败, 改为串行执行, error: %v", err)
	} else {
		defer pool.Release()
	}

	batch := 0
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		b, s := batch, start
		task := func() {
			defer wg.Done()
			if f := e.embedBatch(ctx, b, s, texts[s:end], out.Vectors[s:end]); f != nil {
				record(f)
			}
		}
		wg.Add(1)
		if pool == nil || pool.Submit(task) != nil {
			task()
		}
		batch++
	}
	wg.Wait()

	slices.SortFunc(out.Failures, func(a, b *EmbeddingProviderError) int { return cmp.Compare(a.Batch, b.Batch) })
	log.Infof("[Embedder] 向量化完成, 分块数: %d, 批次数: %d, 失败批次: %d", len(texts), batch, len(out.Failures))
	return out
}

// embedBatch 把结果写入 dst（与 texts 等长），失败时 dst 保持为 nil。
func (e *Embedder) embedBatch(ctx context.Context, batch, start int, texts []string, dst [][]float32) *EmbeddingProviderError {
	var vectors [][]float32
	attempts, err := retryWithBackoff(ctx, e.maxAttempts, e.retryBase, func() error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		v, err := e.client.CreateEmbeddings(ctx, texts)
		if err != nil {
			return err
		}
		if err := e.check(v, len(texts)); err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		f := &EmbeddingProviderError{Batch: batch, Start: start, End: start + len(texts), Attempts: attempts, Err: err}
		log.Warnf("[Embedder] %v", f)
		return f
	}
	copy(dst, vectors)
	return nil
}

func (e *Embedder) check(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", want, len(vectors))
	}
	dims := e.dimensions
	for i, v := range vectors {
		if dims == 0 {
			dims = len(v)
		}
		if len(v) == 0 || len(v) != dims {
			return fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), dims)
		}
	}
	return nil
}
