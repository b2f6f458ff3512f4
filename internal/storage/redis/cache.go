package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"keyguard/backend/internal/storage"
)

// Cache Redis 缓存实现
//
// 每个 API Key 对应一个哈希 <namespace>:<key>，限流计数使用 <namespace>:rl:<bucket>。
type Cache struct {
	client    *goredis.Client
	namespace string
}

// NewCache 基于已有连接创建缓存
func NewCache(client *goredis.Client, namespace string) *Cache {
	if namespace == "" {
		namespace = "api_key"
	}
	return &Cache{
		client:    client,
		namespace: namespace,
	}
}

func (c *Cache) entryKey(key string) string {
	return fmt.Sprintf("%s:%s", c.namespace, key)
}

func (c *Cache) counterKey(bucket string) string {
	return fmt.Sprintf("%s:rl:%s", c.namespace, bucket)
}

// Get 读取缓存条目的全部字段
func (c *Cache) Get(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.client.HGetAll(ctx, c.entryKey(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrCacheMiss
		}
		return nil, err
	}
	// 不存在的哈希返回空 map
	if len(fields) == 0 {
		return nil, storage.ErrCacheMiss
	}
	return fields, nil
}

// Set 整体替换缓存条目
func (c *Cache) Set(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	k := c.entryKey(key)
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, fields)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	return err
}

// SetField 覆盖单个字段并重置过期时间
func (c *Cache) SetField(ctx context.Context, key, field, value string, ttl time.Duration) error {
	k := c.entryKey(key)
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, k, field, value)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	return err
}

// Delete 删除缓存条目
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.entryKey(key)).Err()
}

// IncrementWindow 增加限流计数
func (c *Cache) IncrementWindow(ctx context.Context, bucket string, window time.Duration) (int64, error) {
	k := c.counterKey(bucket)
	pipe := c.client.Pipeline()

	// 增加计数
	incr := pipe.Incr(ctx, k)

	// 设置过期时间
	pipe.Expire(ctx, k, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return incr.Val(), nil
}

// Ping 测试连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *Cache) Close() error {
	return c.client.Close()
}
