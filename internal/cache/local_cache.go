package cache

import (
	"context"
	"sync"
	"time"

	"keyguard/backend/internal/storage"
)

// LocalCache 本地内存缓存
//
// 特点：
// - 每个条目是一组字符串字段，语义与 Redis 哈希一致
// - 支持 TTL 过期，读取时惰性删除
// - 后台定期清理过期条目，Close 后停止
// - 容量限制，满时优先淘汰已过期条目，其次淘汰最早到期的条目
type LocalCache struct {
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	maxSize int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	fields    map[string]string
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，<=0 表示不限制
//   - cleanupInterval: 后台清理周期
func NewLocalCache(maxSize int, cleanupInterval time.Duration) *LocalCache {
	c := &LocalCache{
		data:    make(map[string]*cacheEntry),
		maxSize: maxSize,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	// 启动定期清理
	go c.cleanupLoop(cleanupInterval)

	return c
}

// Get 获取缓存字段的副本
func (c *LocalCache) Get(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, storage.ErrCacheMiss
	}

	// 检查是否过期
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.data[key]; ok && cur == entry {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return nil, storage.ErrCacheMiss
	}

	return copyFields(entry.fields), nil
}

// Set 整体替换缓存条目
func (c *LocalCache) Set(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.storeLocked(key, copyFields(fields), ttl)
	return nil
}

// SetField 覆盖单个字段并重置过期时间
func (c *LocalCache) SetField(ctx context.Context, key, field, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fields := make(map[string]string)
	if entry, ok := c.data[key]; ok && c.now().Before(entry.expiresAt) {
		fields = copyFields(entry.fields)
	}
	fields[field] = value
	c.storeLocked(key, fields, ttl)
	return nil
}

// Delete 删除缓存值
func (c *LocalCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

// TTL 返回剩余生存时间，不存在时返回 0
func (c *LocalCache) TTL(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok {
		return 0
	}
	remaining := entry.expiresAt.Sub(c.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Len 当前条目数（含未清理的过期条目）
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Clear 清空所有缓存
func (c *LocalCache) Clear() {
	c.mu.Lock()
	c.data = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Ping 本地缓存总是可用
func (c *LocalCache) Ping(ctx context.Context) error {
	return nil
}

// Close 停止后台清理
func (c *LocalCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *LocalCache) storeLocked(key string, fields map[string]string, ttl time.Duration) {
	if _, exists := c.data[key]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictLocked()
	}
	c.data[key] = &cacheEntry{
		fields:    fields,
		expiresAt: c.now().Add(ttl),
	}
}

// evictLocked 淘汰一个条目
func (c *LocalCache) evictLocked() {
	now := c.now()
	var victim string
	var earliest time.Time
	for k, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, k)
			return
		}
		if victim == "" || e.expiresAt.Before(earliest) {
			victim = k
			earliest = e.expiresAt
		}
	}
	delete(c.data, victim)
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *LocalCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, k)
		}
	}
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
