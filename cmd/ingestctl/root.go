package main

import (
	"context"
	"fmt"
	"os"

	"manual-smart-go/internal/app"
	"manual-smart-go/internal/config"
	"manual-smart-go/internal/repository"
	"manual-smart-go/internal/service"
	"manual-smart-go/pkg/es"
	"manual-smart-go/pkg/log"
	"manual-smart-go/pkg/storage"

	"github.com/spf13/cobra"
)

// 全局命令行参数。
var (
	configPath string
	sqlitePath string
	storeDir   string
	noIndex    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "ingestctl",
	Short:         "Ingest vehicle manuals from the command line",
	Long:          `Runs the manual ingestion pipeline in-process against the configured database and object storage.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to config.yaml (defaults and environment only when empty)")
	flags.StringVar(&sqlitePath, "sqlite", "", "Use a SQLite database at this path instead of the configured driver")
	flags.StringVar(&storeDir, "store-dir", "", "Use a local directory as object storage instead of MinIO")
	flags.BoolVar(&noIndex, "no-index", false, "Skip Elasticsearch index synchronisation")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Print pipeline logs to stdout")
}

// setup 按命令行参数覆盖配置并装配依赖。
func setup(ctx context.Context) (service.IngestService, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		log.Init(cfg.Log.Level, "console", "")
	}
	if sqlitePath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLite.Path = sqlitePath
	}

	db, err := app.OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	if storeDir != "" {
		store, err = storage.NewLocalStore(storeDir)
	} else {
		store, err = storage.InitMinIO(ctx, cfg.MinIO)
	}
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储失败: %w", err)
	}

	var indexer *es.Indexer
	if !noIndex {
		if indexer, err = app.NewIndexer(cfg); err != nil {
			return nil, err
		}
	}

	processor, err := app.NewProcessor(cfg, db, store, indexer)
	if err != nil {
		return nil, err
	}
	return service.NewIngestService(
		processor,
		nil,
		repository.NewDocumentRepository(db),
		repository.NewChunkRepository(db),
		store,
		cfg.MinIO.BucketName,
	), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		os.Exit(1)
	}
}
