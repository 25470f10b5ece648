// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"manual-smart-go/internal/app"
	"manual-smart-go/internal/config"
	"manual-smart-go/internal/handler"
	"manual-smart-go/internal/middleware"
	"manual-smart-go/internal/model"
	"manual-smart-go/internal/repository"
	"manual-smart-go/internal/service"
	"manual-smart-go/pkg/database"
	"manual-smart-go/pkg/kafka"
	"manual-smart-go/pkg/log"
	"manual-smart-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

// attemptTTL 是 Kafka 任务失败计数在 Redis 中的保留时间。
const attemptTTL = 24 * time.Hour

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化数据库、Redis、对象存储和检索索引
	db, err := app.OpenDatabase(cfg.Database)
	if err != nil {
		log.Fatal("数据库初始化失败", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	store, err := storage.InitMinIO(ctx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	indexer, err := app.NewIndexer(cfg)
	if err != nil {
		log.Fatal("Elasticsearch 初始化失败", err)
	}

	// 4. 初始化 Repository 和入库管道
	docRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	attemptRepo := repository.NewAttemptRepository(database.RDB, attemptTTL)
	processor, err := app.NewProcessor(cfg, db, store, indexer)
	if err != nil {
		log.Fatal("入库管道初始化失败", err)
	}

	// 5. 启动 Kafka 生产者与后台消费者
	var producer service.TaskProducer
	if cfg.Kafka.Brokers != "" {
		p := kafka.NewProducer(cfg.Kafka)
		defer p.Close()
		producer = p
		go kafka.StartConsumer(ctx, cfg.Kafka, processor, attemptRepo)
	} else {
		log.Warnf("未配置 Kafka brokers，仅支持同步入库")
	}

	// 6. 初始化 Service 并导入 initfile 目录
	ingestService := service.NewIngestService(processor, producer, docRepo, chunkRepo, store, cfg.MinIO.BucketName)
	go initSeedFiles(ctx, "initfile", docRepo, ingestService)

	// 7. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	handler.NewIngestHandler(ingestService).Register(r.Group("/api/v1"))

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// initSeedFiles 把目录下的手册上传到对象存储并入库，已完成的文件跳过。
func initSeedFiles(ctx context.Context, dir string, docs repository.DocumentRepository, svc service.IngestService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if doc, ferr := docs.FindByFilename(name); ferr == nil && doc.ProcessingStatus == model.StatusCompleted {
			log.Infof("initSeedFiles: 已入库，跳过: %s", name)
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnf("initSeedFiles: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil || fi.Size() == 0 {
			log.Infof("initSeedFiles: 空文件或无法读取，跳过: %s", path)
			return nil
		}

		req, err := svc.Upload(ctx, name, f, fi.Size())
		if err != nil {
			log.Warnf("initSeedFiles: 上传失败: %s, err=%v", path, err)
			return nil
		}
		if err := svc.Enqueue(ctx, req); err == nil {
			log.Infof("initSeedFiles: 已提交入库任务: %s", name)
			return nil
		} else if !errors.Is(err, service.ErrQueueUnavailable) {
			log.Warnf("initSeedFiles: 提交入库任务失败，改为同步入库: %s, err=%v", name, err)
		}
		res, err := svc.Ingest(ctx, req)
		if err != nil {
			log.Warnf("initSeedFiles: 入库失败: %s, err=%v", name, err)
			return nil
		}
		log.Infof("initSeedFiles: 导入完成: %s, chunks=%d, duplicate=%v", name, res.Chunks, res.Duplicate)
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		log.Warnf("initSeedFiles: 遍历目录发生错误: %v", walkErr)
	}
}
