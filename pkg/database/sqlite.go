package database

import (
	"fmt"
	"manual-smart-go/pkg/log"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitSQLite 使用纯 Go 的 SQLite 驱动初始化全局 DB，适用于本地开发与命令行工具。
func InitSQLite(path string) {
	db, err := OpenSQLite(path)
	if err != nil {
		log.Fatal("failed to open sqlite database", err)
	}
	DB = db
	log.Infof("SQLite database opened successfully, path: %s", path)
}

// OpenSQLite 打开（必要时创建）SQLite 数据库并完成表结构迁移。
// path 为 ":memory:" 或 "file:xxx?mode=memory" 时不会创建目录。
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." && !isURI(path) {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("创建 SQLite 目录失败: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}

	// SQLite 只允许单写者，限制为单连接避免 database is locked
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func isURI(path string) bool {
	return len(path) > 5 && path[:5] == "file:"
}
