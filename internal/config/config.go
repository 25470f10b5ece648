// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	// Driver 取值 mysql 或 sqlite，sqlite 用于本地开发和命令行工具。
	Driver string       `mapstructure:"driver"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SQLiteConfig 存储 SQLite 数据库文件路径。
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。为空时不启用 Tika 兜底解析。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	// Provider 取值 openai（OpenAI 兼容 HTTP 接口）或 langchain。
	Provider          string  `mapstructure:"provider"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// IngestionConfig 汇总了文档入库管道的全部可调参数。
type IngestionConfig struct {
	ChunkSize                  int  `mapstructure:"chunk_size"`
	ChunkOverlap               int  `mapstructure:"chunk_overlap"`
	MinChunkLength             int  `mapstructure:"min_chunk_length"`
	EmbeddingBatchSize         int  `mapstructure:"embedding_batch_size"`
	EmbeddingConcurrency       int  `mapstructure:"embedding_concurrency"`
	EmbeddingMaxAttempts       int  `mapstructure:"embedding_max_attempts"`
	EmbeddingRetryBaseMS       int  `mapstructure:"embedding_retry_base_ms"`
	PersistBatchSize           int  `mapstructure:"persist_batch_size"`
	TimeoutSeconds             int  `mapstructure:"timeout_seconds"`
	StaleClaimMinutes          int  `mapstructure:"stale_claim_minutes"`
	CleanupOnExtractionFailure bool `mapstructure:"cleanup_on_extraction_failure"`
	MetadataSamplePages        int  `mapstructure:"metadata_sample_pages"`
}

// DefaultIngestionConfig 返回带有默认值的入库配置。
func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		ChunkSize:            1500,
		ChunkOverlap:         200,
		MinChunkLength:       100,
		EmbeddingBatchSize:   5,
		EmbeddingConcurrency: 1,
		EmbeddingMaxAttempts: 2,
		EmbeddingRetryBaseMS: 500,
		PersistBatchSize:     50,
		TimeoutSeconds:       600,
		StaleClaimMinutes:    30,
		MetadataSamplePages:  1,
	}
}

// Validate 校验入库配置，在管道边界调用。
func (c IngestionConfig) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size 必须大于 0，当前为 %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk_overlap 必须位于 [0, chunk_size) 区间，当前为 %d", c.ChunkOverlap))
	}
	if c.MinChunkLength < 0 {
		errs = append(errs, fmt.Errorf("min_chunk_length 不能为负数，当前为 %d", c.MinChunkLength))
	}
	if c.EmbeddingBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding_batch_size 必须大于 0，当前为 %d", c.EmbeddingBatchSize))
	}
	if c.EmbeddingConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("embedding_concurrency 必须大于 0，当前为 %d", c.EmbeddingConcurrency))
	}
	if c.EmbeddingMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("embedding_max_attempts 必须大于 0，当前为 %d", c.EmbeddingMaxAttempts))
	}
	if c.EmbeddingRetryBaseMS < 0 {
		errs = append(errs, fmt.Errorf("embedding_retry_base_ms 不能为负数，当前为 %d", c.EmbeddingRetryBaseMS))
	}
	if c.PersistBatchSize <= 0 || c.PersistBatchSize > 1000 {
		errs = append(errs, fmt.Errorf("persist_batch_size 必须位于 [1, 1000] 区间，当前为 %d", c.PersistBatchSize))
	}
	if c.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("timeout_seconds 不能为负数，当前为 %d", c.TimeoutSeconds))
	}
	if c.StaleClaimMinutes < 0 {
		errs = append(errs, fmt.Errorf("stale_claim_minutes 不能为负数，当前为 %d", c.StaleClaimMinutes))
	}
	if c.MetadataSamplePages <= 0 {
		errs = append(errs, fmt.Errorf("metadata_sample_pages 必须大于 0，当前为 %d", c.MetadataSamplePages))
	}
	return errors.Join(errs...)
}

// setDefaults 注册所有默认值，使配置文件只需覆盖关心的字段。
func setDefaults(v *viper.Viper) {
	d := DefaultIngestionConfig()
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.sqlite.path", "./data/manuals.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "manual-ingest")
	v.SetDefault("kafka.group_id", "manual-smart-go-consumer")
	v.SetDefault("elasticsearch.index_name", "manual_chunks")
	v.SetDefault("minio.bucket_name", "manuals")
	// 未设默认值的键不会被 AutomaticEnv 映射到结构体，这里显式注册空值。
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("tika.server_url", "")
	v.SetDefault("elasticsearch.addresses", "")
	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.timeout_seconds", 60)
	v.SetDefault("ingestion.chunk_size", d.ChunkSize)
	v.SetDefault("ingestion.chunk_overlap", d.ChunkOverlap)
	v.SetDefault("ingestion.min_chunk_length", d.MinChunkLength)
	v.SetDefault("ingestion.embedding_batch_size", d.EmbeddingBatchSize)
	v.SetDefault("ingestion.embedding_concurrency", d.EmbeddingConcurrency)
	v.SetDefault("ingestion.embedding_max_attempts", d.EmbeddingMaxAttempts)
	v.SetDefault("ingestion.embedding_retry_base_ms", d.EmbeddingRetryBaseMS)
	v.SetDefault("ingestion.persist_batch_size", d.PersistBatchSize)
	v.SetDefault("ingestion.timeout_seconds", d.TimeoutSeconds)
	v.SetDefault("ingestion.stale_claim_minutes", d.StaleClaimMinutes)
	v.SetDefault("ingestion.cleanup_on_extraction_failure", d.CleanupOnExtractionFailure)
	v.SetDefault("ingestion.metadata_sample_pages", d.MetadataSamplePages)
}

// Load 从指定路径读取 YAML 配置，环境变量（如 INGESTION_CHUNK_SIZE）优先于文件。
func Load(configPath string) (Config, error) {
	// .env 文件是可选的，仅用于本地开发
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Ingestion.Validate(); err != nil {
		return Config{}, fmt.Errorf("入库配置不合法: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
