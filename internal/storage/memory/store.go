package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/storage"
)

// Store 使用内存保存 API Key，主要用于开发验证和测试。
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*domain.APIKey // apiKeyID -> apiKey
	byKey  map[string]string         // key -> apiKeyID
	byName map[string]string         // name -> apiKeyID

	// 速率限制相关
	rateLimits        map[string]*rateLimitEntry
	rateLimitsCleanup time.Time // 下次清理过期计数的时间
}

// rateLimitEntry 速率限制条目
type rateLimitEntry struct {
	Count     int64
	ExpiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		byID:              make(map[string]*domain.APIKey),
		byKey:             make(map[string]string),
		byName:            make(map[string]string),
		rateLimits:        make(map[string]*rateLimitEntry),
		rateLimitsCleanup: time.Now().Add(5 * time.Minute),
	}
}

// FindByKey 根据 Key 字符串获取记录。
func (s *Store) FindByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return s.byID[id].Clone(), nil
}

// FindByName 根据名称获取记录。
func (s *Store) FindByName(ctx context.Context, name string) (*domain.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return s.byID[id].Clone(), nil
}

// Save 按 ID 插入或更新记录。
//
// 名称和 Key 都必须唯一，冲突时分别返回 ErrKeyNameExists / ErrDuplicateKey。
func (s *Store) Save(ctx context.Context, apiKey *domain.APIKey) (*domain.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byName[apiKey.Name]; ok && id != apiKey.ID {
		return nil, storage.ErrKeyNameExists
	}
	if id, ok := s.byKey[apiKey.Key]; ok && id != apiKey.ID {
		return nil, storage.ErrDuplicateKey
	}

	if old, ok := s.byID[apiKey.ID]; ok {
		delete(s.byKey, old.Key)
		delete(s.byName, old.Name)
	}

	stored := apiKey.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.byID[stored.ID] = stored
	s.byKey[stored.Key] = stored.ID
	s.byName[stored.Name] = stored.ID
	return stored.Clone(), nil
}

// ListAPIKeys 按创建时间倒序列出所有记录。
func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	keys := make([]*domain.APIKey, 0, len(s.byID))
	for _, k := range s.byID {
		keys = append(keys, k.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// IncrementWindow 增加限流计数
func (s *Store) IncrementWindow(ctx context.Context, bucket string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// 定期清理过期条目
	if now.After(s.rateLimitsCleanup) {
		for k, v := range s.rateLimits {
			if now.After(v.ExpiresAt) {
				delete(s.rateLimits, k)
			}
		}
		s.rateLimitsCleanup = now.Add(5 * time.Minute)
	}

	entry, exists := s.rateLimits[bucket]
	if !exists || now.After(entry.ExpiresAt) {
		s.rateLimits[bucket] = &rateLimitEntry{
			Count:     1,
			ExpiresAt: now.Add(window),
		}
		return 1, nil
	}

	entry.Count++
	return entry.Count, nil
}

// Close 内存存储不需要关闭连接
func (s *Store) Close() error {
	return nil
}

// Health 内存存储总是健康的
func (s *Store) Health(ctx context.Context) error {
	return nil
}
