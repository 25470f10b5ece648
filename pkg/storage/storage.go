// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound 表示对象不存在。
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo 是对象的基本信息。
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store 是入库流程使用的对象存储接口。
type Store interface {
	Download(ctx context.Context, bucket, objectKey string) ([]byte, error)
	Delete(ctx context.Context, bucket, objectKey string) error
	Put(ctx context.Context, bucket, objectKey string, r io.Reader, size int64, contentType string) error
	Stat(ctx context.Context, bucket, objectKey string) (ObjectInfo, error)
	PresignedURL(ctx context.Context, bucket, objectKey string, expiry time.Duration) (string, error)
}
