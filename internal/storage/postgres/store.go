package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/storage"
)

// PoolOptions 连接池参数
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolOptions 默认连接池参数
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store 基于 GORM 的关系型存储实现（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, pool PoolOptions) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), pool)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, pool PoolOptions) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), pool)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolOptions) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	store := &Store{db: db}

	// 自动迁移数据库表
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(&domain.APIKey{})
}

// FindByKey 根据Key字符串获取记录
func (s *Store) FindByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	var apiKey domain.APIKey
	err := s.db.WithContext(ctx).Where("api_key = ?", key).First(&apiKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, err
	}
	return &apiKey, nil
}

// FindByName 根据名称获取记录
func (s *Store) FindByName(ctx context.Context, name string) (*domain.APIKey, error) {
	var apiKey domain.APIKey
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&apiKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, err
	}
	return &apiKey, nil
}

// Save 按主键插入或更新
func (s *Store) Save(ctx context.Context, apiKey *domain.APIKey) (*domain.APIKey, error) {
	record := apiKey.Clone()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Save(record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, s.classifyDuplicate(ctx, record)
		}
		return nil, err
	}
	return record, nil
}

// classifyDuplicate 区分名称冲突和 Key 冲突
func (s *Store) classifyDuplicate(ctx context.Context, record *domain.APIKey) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("name = ? AND id <> ?", record.Name, record.ID).
		Count(&count).Error
	if err == nil && count > 0 {
		return storage.ErrKeyNameExists
	}
	return storage.ErrDuplicateKey
}

// ListAPIKeys 列出所有记录
func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	var apiKeys []*domain.APIKey
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&apiKeys).Error
	return apiKeys, err
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
