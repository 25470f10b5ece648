package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore 把 bucket 映射为根目录下的子目录，供本地开发与命令行工具使用。
type LocalStore struct {
	root string
}

// NewLocalStore 创建 LocalStore，root 不存在时自动创建。
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, fmt.Errorf("创建本地存储目录失败: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(bucket, objectKey string) (string, error) {
	p := filepath.Join(s.root, bucket, filepath.FromSlash(objectKey))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("非法的对象路径: %s/%s", bucket, objectKey)
	}
	return p, nil
}

func (s *LocalStore) Download(_ context.Context, bucket, objectKey string) ([]byte, error) {
	p, err := s.path(bucket, objectKey)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectKey)
	}
	return data, err
}

func (s *LocalStore) Delete(_ context.Context, bucket, objectKey string) error {
	p, err := s.path(bucket, objectKey)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) Put(_ context.Context, bucket, objectKey string, r io.Reader, _ int64, _ string) error {
	p, err := s.path(bucket, objectKey)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), os.ModePerm); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *LocalStore) Stat(_ context.Context, bucket, objectKey string) (ObjectInfo, error) {
	p, err := s.path(bucket, objectKey)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectKey)
	}
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{
		Key:          objectKey,
		Size:         fi.Size(),
		ContentType:  mime.TypeByExtension(filepath.Ext(p)),
		LastModified: fi.ModTime(),
	}, nil
}

// PresignedURL 对本地存储返回 file:// 链接。
func (s *LocalStore) PresignedURL(_ context.Context, bucket, objectKey string, _ time.Duration) (string, error) {
	p, err := s.path(bucket, objectKey)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}
