package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"walkable-city/config"
	"walkable-city/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 连接 PostgreSQL 并自动迁移表结构
// 带重试: 容器启动时数据库可能还没准备好
func Open(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err == nil {
			break
		}
		log.Warn("database_not_ready", "attempt", i+1, "max_attempts", maxRetries, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("database_ready", "host", cfg.Host, "database", cfg.Name)
	return db, nil
}

// Ping 检查数据库连接是否可用
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate 自动迁移模式 (自动创建表结构)
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&LocationRow{},
		&NodeRow{},
		&EdgeRow{},
		&FeatureRow{},
		&PlaceRow{},
	); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}
