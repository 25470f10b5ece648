package embedding

import (
	"context"
	"fmt"

	"manual-smart-go/internal/config"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

type langchainClient struct {
	embedder embeddings.Embedder
}

// NewLangchainClient wraps a langchaingo OpenAI embedder.
func NewLangchainClient(cfg config.EmbeddingConfig) (Client, error) {
	token := cfg.APIKey
	if token == "" {
		// 本地 OpenAI 兼容服务不校验 token
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain embedder: %w", err)
	}
	return &langchainClient{embedder: embedder}, nil
}

func (c *langchainClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return c.embedder.EmbedQuery(ctx, text)
}

func (c *langchainClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}
