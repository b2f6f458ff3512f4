// Package hybrid 按配置组装持久化存储、快速缓存和限流计数器。
package hybrid

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"keyguard/backend/internal/cache"
	"keyguard/backend/internal/config"
	"keyguard/backend/internal/storage"
	"keyguard/backend/internal/storage/breaker"
	"keyguard/backend/internal/storage/memory"
	"keyguard/backend/internal/storage/postgres"
	"keyguard/backend/internal/storage/redis"
	sqlstore "keyguard/backend/internal/storage/sql"
)

// 本地缓存参数
const (
	localCacheMaxSize         = 100000
	localCacheCleanupInterval = time.Minute
)

// Backends 进程使用的全部存储后端
type Backends struct {
	Store   storage.Store       // 持久化存储（启用熔断时已包装）
	Cache   storage.Cache       // 快速缓存
	Counter storage.RateCounter // 限流计数器，未启用限流时为 nil
	Breaker *breaker.Store      // 未启用熔断时为 nil

	// CounterBackend 计数器所在位置："redis" 或 "memory"
	CounterBackend string

	closers []func() error
	log     *zap.Logger
}

// Open 根据配置创建存储后端
//
// 参数:
//   - cfg: 系统配置
//   - log: 日志记录器
//   - onBreakerState: 熔断状态回调，可为 nil
//
// 返回值:
//   - *Backends: 组装好的后端，使用完毕后调用 Close
//   - error: 任一后端连接失败
func Open(cfg *config.Config, log *zap.Logger, onBreakerState breaker.StateFunc) (*Backends, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Backends{log: log}

	durable, err := openDurable(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, durable.Close)
	b.Store = durable

	if cfg.Breaker.Enabled {
		b.Breaker = breaker.New(durable, breaker.Settings{
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		}, log, onBreakerState)
		b.Store = b.Breaker
	}

	var redisCache *redis.Cache
	if cfg.UsesRedis() {
		client, err := redis.New(&cfg.Redis, log)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		redisCache = redis.NewCache(client.Client(), cfg.Redis.Namespace)
		b.closers = append(b.closers, client.Close)
	}

	if cfg.Cache.Backend == "redis" {
		b.Cache = redisCache
		log.Info("using redis cache", zap.String("namespace", cfg.Redis.Namespace))
	} else {
		local := cache.NewLocalCache(localCacheMaxSize, localCacheCleanupInterval)
		b.Cache = local
		b.closers = append(b.closers, local.Close)
		log.Info("using in-process cache")
	}

	if cfg.RateLimit.Enabled {
		b.CounterBackend = cfg.RateLimit.Backend
		if cfg.RateLimit.Backend == "redis" {
			b.Counter = redisCache
		} else {
			b.Counter = memory.NewStore()
		}
	}

	return b, nil
}

// openDurable 创建持久化存储
func openDurable(cfg *config.DatabaseConfig, log *zap.Logger) (storage.Store, error) {
	if cfg.Type == "" || cfg.Type == "memory" {
		log.Warn("using memory storage, keys are lost on restart")
		return memory.NewStore(), nil
	}

	pool := postgres.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	var (
		store storage.Store
		err   error
	)
	switch {
	case cfg.Engine == "sqlx":
		store, err = sqlstore.NewStore(cfg.Type, cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
	case cfg.Type == "postgres":
		store, err = postgres.NewStore(cfg.DSN, pool)
	case cfg.Type == "mysql":
		store, err = postgres.NewMySQLStore(cfg.DSN, pool)
	default:
		return nil, fmt.Errorf("unsupported database type %q for engine %q", cfg.Type, cfg.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Type, err)
	}

	log.Info("database storage initialized",
		zap.String("type", cfg.Type),
		zap.String("engine", cfg.Engine),
	)
	return store, nil
}

// Close 按创建的逆序关闭所有后端
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// BreakerOpen 熔断器是否处于打开状态
func (b *Backends) BreakerOpen() bool {
	return b.Breaker != nil && b.Breaker.State() == gobreaker.StateOpen
}
