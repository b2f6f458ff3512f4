// Package breaker 为持久化存储加上熔断保护。
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/storage"
)

// Settings 熔断参数
type Settings struct {
	Name             string
	MaxRequests      uint32        // 半开状态放行的请求数
	Interval         time.Duration // 闭合状态计数清零周期
	Timeout          time.Duration // 打开状态持续时间
	FailureThreshold uint32        // 连续失败次数阈值
}

// StateFunc 状态变化回调，state 取值 0=closed 1=half-open 2=open
type StateFunc func(name string, state int)

// Store 带熔断的存储包装
type Store struct {
	next storage.Store
	cb   *gobreaker.CircuitBreaker
	log  *zap.Logger
}

// New 包装一个存储实现
func New(next storage.Store, s Settings, log *zap.Logger, onState StateFunc) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if s.Name == "" {
		s.Name = "durable-store"
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	threshold := s.FailureThreshold

	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 业务层面的“不存在”“重名”不算故障
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, storage.ErrKeyNotFound) ||
				errors.Is(err, storage.ErrKeyNameExists) ||
				errors.Is(err, storage.ErrDuplicateKey)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if onState != nil {
				onState(name, int(to))
			}
		},
	}

	return &Store{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
		log:  log,
	}
}

// State 当前熔断状态
func (s *Store) State() gobreaker.State {
	return s.cb.State()
}

// Name 熔断器名称
func (s *Store) Name() string {
	return s.cb.Name()
}

func (s *Store) execKey(fn func() (*domain.APIKey, error)) (*domain.APIKey, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	k, _ := out.(*domain.APIKey)
	return k, nil
}

// FindByKey 查询记录
func (s *Store) FindByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	return s.execKey(func() (*domain.APIKey, error) {
		return s.next.FindByKey(ctx, key)
	})
}

// FindByName 按名称查询
func (s *Store) FindByName(ctx context.Context, name string) (*domain.APIKey, error) {
	return s.execKey(func() (*domain.APIKey, error) {
		return s.next.FindByName(ctx, name)
	})
}

// Save 写入记录
func (s *Store) Save(ctx context.Context, apiKey *domain.APIKey) (*domain.APIKey, error) {
	return s.execKey(func() (*domain.APIKey, error) {
		return s.next.Save(ctx, apiKey)
	})
}

// ListAPIKeys 列出记录
func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.ListAPIKeys(ctx)
	})
	if err != nil {
		return nil, err
	}
	keys, _ := out.([]*domain.APIKey)
	return keys, nil
}

// Health 健康检查不经过熔断，打开状态直接报告不健康
func (s *Store) Health(ctx context.Context) error {
	if s.cb.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	return s.next.Health(ctx)
}

// Close 关闭底层存储
func (s *Store) Close() error {
	return s.next.Close()
}
