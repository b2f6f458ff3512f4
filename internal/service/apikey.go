package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/monitoring"
	"keyguard/backend/internal/pool"
	"keyguard/backend/internal/storage"
)

var (
	ErrAPIKeyNotFound  = errors.New("API key not found")
	ErrAPIKeyNameTaken = errors.New("API key name already in use")
	ErrAmbiguousExpiry = errors.New("only one of expiresAt and expiresIn may be set")
	// ErrKeyGeneration 连续多次生成的 Key 都与已有记录冲突
	ErrKeyGeneration = errors.New("failed to generate a unique API key")
)

// 生成 Key 冲突时的最大重试次数
const maxGenerateAttempts = 3

// APIKeyService API Key 签发与吊销
//
// 所有写操作先落持久化存储，再同步快速缓存；缓存失败只记录日志。
type APIKeyService struct {
	store   storage.Store
	cache   storage.KeyCache
	opts    Options
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewAPIKeyService 创建 API Key 服务
func NewAPIKeyService(store storage.Store, cache storage.KeyCache, opts Options, metrics *monitoring.Metrics, log *zap.Logger) *APIKeyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyService{
		store:   store,
		cache:   cache,
		opts:    opts.withDefaults(),
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// IssueAPIKeyInput 签发参数
type IssueAPIKeyInput struct {
	Name      string
	ExpiresAt *time.Time        // 绝对过期时间（可选）
	ExpiresIn *time.Duration    // 相对过期时间（可选），与 ExpiresAt 互斥
	RateLimit *domain.RateLimit // 为空时使用默认策略
}

// RevokeResult 吊销结果
type RevokeResult struct {
	Revoked        bool `json:"revoked"`
	AlreadyRevoked bool `json:"alreadyRevoked"`
}

// IssueAPIKey 签发新的 API Key
//
// 参数:
//   - ctx: 上下文
//   - input: 签发参数
//
// 返回值:
//   - *domain.APIKey: 新记录，Key 明文只在此时返回
//   - error: 参数错误、名称冲突或存储错误
func (s *APIKeyService) IssueAPIKey(ctx context.Context, input IssueAPIKeyInput) (*domain.APIKey, error) {
	name := strings.TrimSpace(input.Name)
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}

	now := s.now().UTC()

	// 计算过期时间
	if input.ExpiresAt != nil && input.ExpiresIn != nil {
		return nil, ErrAmbiguousExpiry
	}
	var expiresAt *time.Time
	switch {
	case input.ExpiresAt != nil:
		t := input.ExpiresAt.UTC()
		expiresAt = &t
	case input.ExpiresIn != nil:
		t := now.Add(*input.ExpiresIn)
		expiresAt = &t
	}
	if err := domain.ValidateExpiresAt(expiresAt, now); err != nil {
		return nil, err
	}

	rateLimit := domain.DefaultRateLimit()
	if input.RateLimit != nil {
		if err := domain.ValidateRateLimit(*input.RateLimit); err != nil {
			return nil, err
		}
		rateLimit = *input.RateLimit
	}

	// 检查名称是否已存在
	err := s.storeCall(ctx, "find_by_name", func(ctx context.Context) error {
		_, err := s.store.FindByName(ctx, name)
		return err
	})
	switch {
	case err == nil:
		return nil, ErrAPIKeyNameTaken
	case !errors.Is(err, storage.ErrKeyNotFound):
		return nil, fmt.Errorf("%w: %v", domain.ErrBackingStoreUnavailable, err)
	}

	var saved *domain.APIKey
	for attempt := 0; attempt < maxGenerateAttempts && saved == nil; attempt++ {
		key, err := generateAPIKey()
		if err != nil {
			return nil, err
		}

		record := &domain.APIKey{
			ID:        uuid.New().String(),
			Key:       key,
			Name:      name,
			Status:    domain.KeyStatusActive,
			CreatedAt: now,
			ExpiresAt: expiresAt,
			RateLimit: rateLimit,
		}

		err = s.storeCall(ctx, "save", func(ctx context.Context) error {
			var err error
			saved, err = s.store.Save(ctx, record)
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrDuplicateKey):
			saved = nil
			s.log.Warn("Generated API key collided, retrying", zap.Int("attempt", attempt+1))
		case errors.Is(err, storage.ErrKeyNameExists):
			return nil, ErrAPIKeyNameTaken
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrBackingStoreUnavailable, err)
		}
	}
	if saved == nil {
		return nil, ErrKeyGeneration
	}

	s.populate(ctx, saved, now)
	s.metrics.RecordKeyIssued()
	s.log.Info("API key issued",
		zap.String("id", saved.ID),
		zap.String("name", saved.Name),
	)

	return saved, nil
}

// RevokeAPIKey 吊销 API Key（幂等）
//
// 已吊销时直接返回成功且不重复写入；首次吊销先持久化，再删除缓存条目。
func (s *APIKeyService) RevokeAPIKey(ctx context.Context, key string) (*RevokeResult, error) {
	var record *domain.APIKey
	err := s.storeCall(ctx, "find_by_key", func(ctx context.Context) error {
		var err error
		record, err = s.store.FindByKey(ctx, key)
		return err
	})
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackingStoreUnavailable, err)
	}

	if record.Status == domain.KeyStatusRevoked {
		return &RevokeResult{Revoked: true, AlreadyRevoked: true}, nil
	}

	revoked := record.Clone()
	revoked.Status = domain.KeyStatusRevoked
	if err := s.storeCall(ctx, "save", func(ctx context.Context) error {
		_, err := s.store.Save(ctx, revoked)
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackingStoreUnavailable, err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.CacheTimeout)
	defer cancel()
	if err := s.cache.Delete(cctx, key); err != nil {
		s.log.Warn("Failed to invalidate cache after revoke",
			zap.String("id", record.ID),
			zap.Error(err),
		)
	}

	s.metrics.RecordKeyRevoked()
	s.log.Info("API key revoked",
		zap.String("id", record.ID),
		zap.String("name", record.Name),
	)

	return &RevokeResult{Revoked: true}, nil
}

// ListAPIKeys 列出所有 API Key（按创建时间倒序）
func (s *APIKeyService) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	var keys []*domain.APIKey
	err := s.storeCall(ctx, "list", func(ctx context.Context) error {
		var err error
		keys, err = s.store.ListAPIKeys(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackingStoreUnavailable, err)
	}
	return keys, nil
}

// GetAPIKeyByName 按名称查询
func (s *APIKeyService) GetAPIKeyByName(ctx context.Context, name string) (*domain.APIKey, error) {
	var record *domain.APIKey
	err := s.storeCall(ctx, "find_by_name", func(ctx context.Context) error {
		var err error
		record, err = s.store.FindByName(ctx, strings.TrimSpace(name))
		return err
	})
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackingStoreUnavailable, err)
	}
	return record, nil
}

// WarmCache 为所有有效 Key 预填充缓存
//
// 参数:
//   - ctx: 上下文，取消后停止提交新任务
//   - workers: 并发数
//
// 返回值:
//   - int: 成功写入缓存的条目数
//   - error: 列表查询失败或 ctx 被取消
func (s *APIKeyService) WarmCache(ctx context.Context, workers int) (int, error) {
	keys, err := s.ListAPIKeys(ctx)
	if err != nil {
		return 0, err
	}

	p := pool.NewWorkerPool(workers, workers*2, s.log)
	p.Start(ctx)

	var (
		warmed    atomic.Int64
		submitErr error
	)
	now := s.now()
	for _, k := range keys {
		if !k.IsActiveAt(now) {
			continue
		}
		record := k
		if err := p.Submit(ctx, func() {
			if s.populate(ctx, record, now) {
				warmed.Add(1)
			}
		}); err != nil {
			submitErr = err
			break
		}
	}
	p.Stop()

	n := int(warmed.Load())
	s.metrics.RecordKeysWarmed(n)
	s.log.Info("Cache warm-up finished",
		zap.Int("total", len(keys)),
		zap.Int("warmed", n),
	)
	return n, submitErr
}

// storeCall 在 StoreTimeout 内执行一次存储调用并记录耗时
//
// 未找到、名称或 Key 冲突属于业务结果，不计入存储错误。
func (s *APIKeyService) storeCall(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	failed := err != nil &&
		!errors.Is(err, storage.ErrKeyNotFound) &&
		!errors.Is(err, storage.ErrDuplicateKey) &&
		!errors.Is(err, storage.ErrKeyNameExists)
	s.metrics.RecordStoreCall(op, time.Since(start), failed)
	if failed {
		s.log.Error("Store call failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

// populate 写入有效条目的缓存投影，失败只记录日志
func (s *APIKeyService) populate(ctx context.Context, record *domain.APIKey, now time.Time) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CacheTimeout)
	defer cancel()

	ttl := CacheTTL(record, now, s.opts.DefaultTTL)
	if err := s.cache.Set(ctx, record.Key, domain.NewCacheEntry(record).Fields(), ttl); err != nil {
		s.log.Warn("Failed to populate cache",
			zap.String("id", record.ID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// generateAPIKey 生成 32 字节随机数的十六进制编码（64 字符）
func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
