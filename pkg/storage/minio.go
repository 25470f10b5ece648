package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"manual-smart-go/internal/config"
	"manual-smart-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore 是基于 MinIO 的 Store 实现。
type MinIOStore struct {
	client *minio.Client
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	bucketName := cfg.BucketName
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
	return &MinIOStore{client: client}, nil
}

// Download 读取整个对象。
func (s *MinIOStore) Download(ctx context.Context, bucket, objectKey string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		log.Errorf("[Storage] 读取 MinIO 对象失败, bucket: %s, object: %s, error: %v", bucket, objectKey, err)
		return nil, translate(err)
	}
	log.Infof("[Storage] 对象下载成功, bucket: %s, object: %s, size: %d", bucket, objectKey, len(data))
	return data, nil
}

// Delete 删除对象。
func (s *MinIOStore) Delete(ctx context.Context, bucket, objectKey string) error {
	return translate(s.client.RemoveObject(ctx, bucket, objectKey, minio.RemoveObjectOptions{}))
}

// Put 上传对象。size 未知时传 -1。
func (s *MinIOStore) Put(ctx context.Context, bucket, objectKey string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, objectKey, r, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

// Stat 返回对象信息。
func (s *MinIOStore) Stat(ctx context.Context, bucket, objectKey string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, translate(err)
	}
	return ObjectInfo{Key: info.Key, Size: info.Size, ContentType: info.ContentType, LastModified: info.LastModified}, nil
}

// PresignedURL 生成一个带有效期的下载链接。
func (s *MinIOStore) PresignedURL(ctx context.Context, bucket, objectKey string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, objectKey, expiry, nil)
	if err != nil {
		log.Errorf("[Storage] 生成预签名 URL 失败: %v", err)
		return "", err
	}
	return u.String(), nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	}
	return err
}
