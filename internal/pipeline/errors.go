package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict 表示同一文档已有正在进行的入库任务。
	ErrConflict = errors.New("document is already being processed")
	// ErrTimeout 表示入库超出了调用方给定的时限，文档已被置为 failed。
	ErrTimeout = errors.New("ingestion timed out")
	// ErrInvalidRequest 表示入库请求参数不合法。
	ErrInvalidRequest = errors.New("invalid ingest request")
)

// EmbeddingProviderError 记录一个向量化失败的批次，对应分块的 embedding 为空。
type EmbeddingProviderError struct {
	Batch    int
	Start    int
	End      int
	Attempts int
	Err      error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("embedding batch %d [%d,%d) failed after %d attempt(s): %v", e.Batch, e.Start, e.End, e.Attempts, e.Err)
}

func (e *EmbeddingProviderError) Unwrap() error { return e.Err }

// PersistenceError 记录一个写入失败的分块批次，该批次的分块被丢弃。
type PersistenceError struct {
	Batch     int
	Attempted int
	Persisted int
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chunk batch %d lost (%d rows attempted, %d persisted so far): %v", e.Batch, e.Attempted, e.Persisted, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FatalIngestionError 是文档级的兜底错误，文档会被置为 failed，源文件保留。
type FatalIngestionError struct {
	Stage string
	Err   error
}

func (e *FatalIngestionError) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *FatalIngestionError) Unwrap() error { return e.Err }
