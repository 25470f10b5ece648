// Package database 负责初始化关系数据库与 Redis 连接。
package database

import (
	"fmt"
	"time"

	"manual-smart-go/internal/model"
	"manual-smart-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// DB 是服务进程共享的数据库连接。
var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接并完成表结构迁移，失败时退出进程。
func InitMySQL(dsn string) {
	db, err := OpenMySQL(dsn)
	if err != nil {
		log.Fatal("failed to open mysql database", err)
	}
	DB = db
	log.Info("MySQL database connected successfully")
}

// OpenMySQL 打开 MySQL 连接、配置连接池并迁移表结构。
func OpenMySQL(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql dsn 不能为空")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 创建或更新入库管道使用的表结构。
// document_chunks 上 (document_id, chunk_index) 的唯一索引保证分块编号不重复。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.SourceDocument{}, &model.Chunk{}); err != nil {
		return fmt.Errorf("自动迁移表结构失败: %w", err)
	}
	return nil
}
