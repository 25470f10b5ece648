// Package app 负责把配置装配成可运行的入库管道，供 server 与 ingestctl 共用。
package app

import (
	"fmt"

	"manual-smart-go/internal/config"
	"manual-smart-go/internal/pipeline"
	"manual-smart-go/internal/repository"
	"manual-smart-go/pkg/database"
	"manual-smart-go/pkg/embedding"
	"manual-smart-go/pkg/es"
	"manual-smart-go/pkg/loader"
	"manual-smart-go/pkg/log"
	"manual-smart-go/pkg/tika"

	"gorm.io/gorm"
)

// OpenDatabase 按 database.driver 初始化全局 DB 并返回。
func OpenDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "", "mysql":
		database.InitMySQL(cfg.MySQL.DSN)
	case "sqlite":
		database.InitSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
	return database.DB, nil
}

// NewLoader 组合 PDF、纯文本与 Tika 解析器；未配置 Tika 时不启用兜底。
func NewLoader(cfg config.TikaConfig) loader.Loader {
	client := tika.NewClient(cfg)
	if !client.Enabled() {
		log.Warnf("[Loader] 未配置 Tika 服务，扫描件与非 PDF 文档将无法解析")
		return loader.NewComposite(nil)
	}
	return loader.NewComposite(loader.NewTikaLoader(client))
}

// NewIndexer 创建检索索引同步器；未配置 Elasticsearch 地址时返回 nil。
func NewIndexer(cfg config.Config) (*es.Indexer, error) {
	if cfg.Elasticsearch.Addresses == "" {
		log.Warnf("[Indexer] 未配置 Elasticsearch，跳过检索索引同步")
		return nil, nil
	}
	idx, err := es.NewIndexer(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("初始化 Elasticsearch 失败: %w", err)
	}
	return idx, nil
}

// NewProcessor 装配完整的入库管道。indexer 为 nil 时不同步检索索引。
func NewProcessor(cfg config.Config, db *gorm.DB, store pipeline.BlobStore, indexer *es.Indexer) (*pipeline.Processor, error) {
	client, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("初始化 Embedding 客户端失败: %w", err)
	}
	opts := []pipeline.Option{
		pipeline.WithDefaultBucket(cfg.MinIO.BucketName),
		pipeline.WithModelVersion(cfg.Embedding.Model),
	}
	if indexer != nil {
		opts = append(opts, pipeline.WithIndexer(indexer))
	}
	return pipeline.NewProcessor(
		repository.NewDocumentRepository(db),
		repository.NewChunkRepository(db),
		store,
		NewLoader(cfg.Tika),
		pipeline.NewEmbedder(client, cfg.Ingestion, cfg.Embedding),
		cfg.Ingestion,
		opts...,
	)
}
