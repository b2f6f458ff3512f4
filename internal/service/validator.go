package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/monitoring"
	"keyguard/backend/internal/storage"
)

// Options 缓存与超时参数，校验器和 Key 管理服务共用
type Options struct {
	DefaultTTL   time.Duration // 有效条目的最长缓存时间
	ExpiredTTL   time.Duration // 过期标记的缓存时间
	CacheTimeout time.Duration // 单次缓存调用超时
	StoreTimeout time.Duration // 单次存储调用超时
	DeepCheck    bool          // 命中缓存后是否再查询存储
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		DefaultTTL:   300 * time.Second,
		ExpiredTTL:   10 * time.Second,
		CacheTimeout: 100 * time.Millisecond,
		StoreTimeout: 2 * time.Second,
		DeepCheck:    true,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = def.DefaultTTL
	}
	if o.ExpiredTTL <= 0 {
		o.ExpiredTTL = def.ExpiredTTL
	}
	if o.CacheTimeout <= 0 {
		o.CacheTimeout = def.CacheTimeout
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = def.StoreTimeout
	}
	return o
}

// CacheTTL 计算有效条目的缓存时间
//
// 有过期时间时取剩余时间与 maxTTL 的较小值，否则为 maxTTL。
func CacheTTL(apiKey *domain.APIKey, now time.Time, maxTTL time.Duration) time.Duration {
	if apiKey.ExpiresAt == nil {
		return maxTTL
	}
	remaining := apiKey.ExpiresAt.Sub(now)
	if remaining < maxTTL {
		return remaining
	}
	return maxTTL
}

// KeyValidator API Key 鉴权判定
//
// 先查快速缓存，未命中或条目损坏时回退到持久化存储，并顺带修复缓存。
// 开启 DeepCheck 时，缓存命中仍以存储记录为准：存储中已吊销或已过期的记录会删除
// 缓存条目并按存储记录拒绝（吊销返回 ErrInactiveKey，到期返回 ErrExpiredKey）。
// 不持有进程内锁，可被任意多个请求并发调用。
type KeyValidator struct {
	store   storage.APIKeyRepository
	cache   storage.KeyCache
	opts    Options
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewKeyValidator 创建校验器
//
// 参数:
//   - store: 持久化存储
//   - cache: 快速缓存
//   - opts: 缓存与超时参数，零值字段使用默认值
//   - metrics: 指标，可为 nil
//   - log: 日志，可为 nil
func NewKeyValidator(store storage.APIKeyRepository, cache storage.KeyCache, opts Options, metrics *monitoring.Metrics, log *zap.Logger) *KeyValidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyValidator{
		store:   store,
		cache:   cache,
		opts:    opts.withDefaults(),
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Authorize 判定请求携带的 Key 是否放行
//
// 放行时返回记录（关闭 DeepCheck 时为缓存投影还原的摘要）；拒绝时返回 domain 包中的错误，
// 可用 domain.ReasonFor 得到原因代码。存储故障返回 domain.ErrBackingStoreUnavailable。
func (v *KeyValidator) Authorize(ctx context.Context, presentedKey string) (*domain.APIKey, error) {
	record, err := v.authorize(ctx, presentedKey)
	v.metrics.RecordAuthDecision(string(domain.ReasonFor(err)))
	return record, err
}

func (v *KeyValidator) authorize(ctx context.Context, key string) (*domain.APIKey, error) {
	if key == "" {
		return nil, domain.ErrMissingKey
	}

	fields, err := v.cacheGet(ctx, key)
	switch {
	case err == nil:
		entry, decodeErr := domain.DecodeCacheEntry(fields)
		if decodeErr == nil {
			v.metrics.RecordCacheLookup("hit")
			return v.fromCache(ctx, key, entry)
		}
		v.metrics.RecordCacheLookup("corrupt")
		v.log.Warn("Discarding corrupted cache entry",
			zap.String("key_prefix", domain.MaskKey(key)),
			zap.Error(decodeErr),
		)
		v.cacheDelete(ctx, key, "corruption")
	case errors.Is(err, storage.ErrCacheMiss):
		v.metrics.RecordCacheLookup("miss")
	default:
		v.metrics.RecordCacheLookup("error")
		v.log.Warn("Cache lookup failed, falling back to store",
			zap.String("key_prefix", domain.MaskKey(key)),
			zap.Error(err),
		)
	}

	return v.fromStore(ctx, key)
}

// fromCache 缓存命中路径
func (v *KeyValidator) fromCache(ctx context.Context, key string, entry *domain.CacheEntry) (*domain.APIKey, error) {
	if entry.Status != domain.KeyStatusActive {
		return nil, domain.ErrInactiveKey
	}

	now := v.now()
	if entry.IsExpiredAt(now) {
		v.cacheDelete(ctx, key, "expired")
		return nil, domain.ErrExpiredKey
	}

	if !v.opts.DeepCheck {
		return entry.ToAPIKey(key), nil
	}

	record, err := v.find(ctx, key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		v.log.Warn("Cached key missing from store",
			zap.String("key_prefix", domain.MaskKey(key)),
		)
		v.cacheDelete(ctx, key, "inconsistent")
		return nil, domain.ErrInconsistentKey
	}
	if err != nil {
		return nil, err
	}

	// 存储中已被吊销或过期，缓存过时
	if !record.IsActiveAt(now) {
		v.cacheDelete(ctx, key, "stale")
		return v.evaluate(ctx, key, record, now)
	}
	return record, nil
}

// fromStore 缓存未命中或损坏时的回退路径
func (v *KeyValidator) fromStore(ctx context.Context, key string) (*domain.APIKey, error) {
	record, err := v.find(ctx, key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, domain.ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}
	return v.evaluate(ctx, key, record, v.now())
}

// evaluate 根据存储记录判定并回填缓存
func (v *KeyValidator) evaluate(ctx context.Context, key string, record *domain.APIKey, now time.Time) (*domain.APIKey, error) {
	if record.Status != domain.KeyStatusActive {
		return nil, domain.ErrInactiveKey
	}

	if record.IsExpiredAt(now) {
		if err := v.expire(ctx, key, record); err != nil {
			return nil, err
		}
		return nil, domain.ErrExpiredKey
	}

	v.cacheSet(ctx, key, domain.NewCacheEntry(record).Fields(), CacheTTL(record, now, v.opts.DefaultTTL))
	return record, nil
}

// expire 惰性过期：持久化 expired 状态，并短暂缓存否定结果
func (v *KeyValidator) expire(ctx context.Context, key string, record *domain.APIKey) error {
	expired := record.Clone()
	expired.Status = domain.KeyStatusExpired
	if err := v.save(ctx, expired); err != nil {
		return err
	}
	v.metrics.RecordLazyExpiration()
	v.log.Info("API key expired",
		zap.String("id", record.ID),
		zap.String("name", record.Name),
	)

	cctx, cancel := context.WithTimeout(ctx, v.opts.CacheTimeout)
	defer cancel()
	if err := v.cache.SetField(cctx, key, domain.CacheFieldStatus, string(domain.KeyStatusExpired), v.opts.ExpiredTTL); err != nil {
		v.log.Warn("Failed to cache expired status",
			zap.String("key_prefix", domain.MaskKey(key)),
			zap.Error(err),
		)
	}
	return nil
}

func (v *KeyValidator) find(ctx context.Context, key string) (*domain.APIKey, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	record, err := v.store.FindByKey(ctx, key)
	failed := err != nil && !errors.Is(err, storage.ErrKeyNotFound)
	v.metrics.RecordStoreCall("find_by_key", time.Since(start), failed)
	if failed {
		v.log.Error("Store lookup failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrBackingStoreUnavailable, err)
	}
	return record, err
}

func (v *KeyValidator) save(ctx context.Context, record *domain.APIKey) error {
	ctx, cancel := context.WithTimeout(ctx, v.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	_, err := v.store.Save(ctx, record)
	v.metrics.RecordStoreCall("save", time.Since(start), err != nil)
	if err != nil {
		v.log.Error("Store save failed", zap.String("id", record.ID), zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrBackingStoreUnavailable, err)
	}
	return nil
}

func (v *KeyValidator) cacheGet(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.CacheTimeout)
	defer cancel()
	return v.cache.Get(ctx, key)
}

func (v *KeyValidator) cacheSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.CacheTimeout)
	defer cancel()
	if err := v.cache.Set(ctx, key, fields, ttl); err != nil {
		v.log.Warn("Failed to populate cache",
			zap.String("key_prefix", domain.MaskKey(key)),
			zap.Error(err),
		)
	}
}

// cacheDelete 删除缓存条目，action 用于指标标签
func (v *KeyValidator) cacheDelete(ctx context.Context, key, action string) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.CacheTimeout)
	defer cancel()
	if err := v.cache.Delete(ctx, key); err != nil {
		v.log.Warn("Failed to delete cache entry",
			zap.String("key_prefix", domain.MaskKey(key)),
			zap.String("action", action),
			zap.Error(err),
		)
		return
	}
	v.metrics.RecordCacheRepair(action)
}

