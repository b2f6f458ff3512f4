package sql

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema 返回指定方言的建表语句
//
// 列名与 domain.APIKey 的 GORM 标签保持一致，两种引擎可以共用同一张表。
func Schema(driverName string) ([]string, error) {
	switch driverName {
	case "postgres":
		return []string{
			`CREATE TABLE IF NOT EXISTS api_keys (
				id VARCHAR(36) PRIMARY KEY,
				api_key VARCHAR(64) NOT NULL UNIQUE,
				name VARCHAR(255) NOT NULL UNIQUE,
				status VARCHAR(10) NOT NULL DEFAULT 'active',
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NULL,
				rate_limit_per_window INTEGER NOT NULL DEFAULT 1000,
				rate_limit_window_seconds INTEGER NOT NULL DEFAULT 3600
			)`,
			`CREATE INDEX IF NOT EXISTS idx_api_keys_created_at ON api_keys (created_at)`,
		}, nil
	case "mysql":
		return []string{
			`CREATE TABLE IF NOT EXISTS api_keys (
				id VARCHAR(36) NOT NULL PRIMARY KEY,
				api_key VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(10) NOT NULL DEFAULT 'active',
				created_at DATETIME(6) NOT NULL,
				expires_at DATETIME(6) NULL,
				rate_limit_per_window INT NOT NULL DEFAULT 1000,
				rate_limit_window_seconds INT NOT NULL DEFAULT 3600,
				UNIQUE KEY uk_api_keys_api_key (api_key),
				UNIQUE KEY uk_api_keys_name (name),
				KEY idx_api_keys_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}, nil
	case "sqlite":
		return []string{
			`CREATE TABLE IF NOT EXISTS api_keys (
				id TEXT PRIMARY KEY,
				api_key TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL DEFAULT 'active',
				created_at TIMESTAMP NOT NULL,
				expires_at TIMESTAMP NULL,
				rate_limit_per_window INTEGER NOT NULL DEFAULT 1000,
				rate_limit_window_seconds INTEGER NOT NULL DEFAULT 3600
			)`,
			`CREATE INDEX IF NOT EXISTS idx_api_keys_created_at ON api_keys (created_at)`,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres, sqlite)", driverName)
	}
}

// Migrate 执行建表语句
func Migrate(ctx context.Context, db *sqlx.DB) error {
	statements, err := Schema(db.DriverName())
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
