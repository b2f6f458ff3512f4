package storage

import (
	"context"
	"errors"
	"time"

	"keyguard/backend/internal/domain"
)

var (
	// ErrKeyNotFound 持久化存储中不存在该 Key
	ErrKeyNotFound = errors.New("api key not found")
	// ErrKeyNameExists 名称已被占用
	ErrKeyNameExists = errors.New("api key name already exists")
	// ErrDuplicateKey Key 值与已有记录冲突
	ErrDuplicateKey = errors.New("api key value already exists")
	// ErrCacheMiss 缓存未命中（不存在或已过期）
	ErrCacheMiss = errors.New("cache miss")
)

// APIKeyRepository 定义 API Key 持久化存取操作。
//
// 这是鉴权路径唯一依赖的两个方法；实现必须支持并发调用。
type APIKeyRepository interface {
	// FindByKey 按 Key 精确查询，不存在时返回 ErrKeyNotFound
	FindByKey(ctx context.Context, key string) (*domain.APIKey, error)
	// Save 按主键插入或更新整条记录
	Save(ctx context.Context, apiKey *domain.APIKey) (*domain.APIKey, error)
}

// APIKeyAdminRepository 定义管理接口需要的查询。
type APIKeyAdminRepository interface {
	FindByName(ctx context.Context, name string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
}

// Store 定义完整的持久化存储接口。
type Store interface {
	APIKeyRepository
	APIKeyAdminRepository

	// 工具方法
	Health(ctx context.Context) error
	Close() error
}

// KeyCache 定义快速缓存的哈希操作。
//
// 每个 Key 对应一组字符串字段；TTL 到期后条目视为不存在。
type KeyCache interface {
	// Get 读取全部字段，不存在时返回 ErrCacheMiss
	Get(ctx context.Context, key string) (map[string]string, error)
	// Set 整体替换字段并设置 TTL
	Set(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	// SetField 覆盖单个字段并重置 TTL，其余字段保持不变
	SetField(ctx context.Context, key, field, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache 带连接管理的缓存
type Cache interface {
	KeyCache
	Ping(ctx context.Context) error
	Close() error
}

// RateCounter 固定窗口计数器
type RateCounter interface {
	// IncrementWindow 对 bucket 计数加一，首次创建时设置过期时间
	IncrementWindow(ctx context.Context, bucket string, window time.Duration) (int64, error)
}
