package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"keyguard/backend/internal/domain"
)

// 空闲限流器的清理周期
const localCleanupInterval = 5 * time.Minute

type localEntry struct {
	limiter  *rate.Limiter
	policy   domain.RateLimit
	lastSeen time.Time
}

// LocalLimiter 进程内令牌桶限流
//
// 速率为 MaxRequests/WindowSeconds，突发上限为 MaxRequests。只在单实例内生效。
type LocalLimiter struct {
	mu          sync.Mutex
	entries     map[string]*localEntry
	nextCleanup time.Time
	now         func() time.Time
}

// NewLocalLimiter 创建进程内限流器
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		entries:     make(map[string]*localEntry),
		nextCleanup: time.Now().Add(localCleanupInterval),
		now:         time.Now,
	}
}

// Allow 从 Key 对应的令牌桶取一个令牌
func (l *LocalLimiter) Allow(ctx context.Context, key string, policy domain.RateLimit) (*Result, error) {
	if err := domain.ValidateRateLimit(policy); err != nil {
		return nil, err
	}

	now := l.now()
	perSecond := rate.Limit(float64(policy.MaxRequests) / float64(policy.WindowSeconds))

	l.mu.Lock()
	l.cleanupLocked(now)
	entry, ok := l.entries[key]
	if !ok || entry.policy != policy {
		// 策略变化时重建令牌桶
		entry = &localEntry{
			limiter: rate.NewLimiter(perSecond, policy.MaxRequests),
			policy:  policy,
		}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	allowed := entry.limiter.AllowN(now, 1)
	tokens := entry.limiter.TokensAt(now)

	res := &Result{
		Allowed:   allowed,
		Limit:     policy.MaxRequests,
		Remaining: int(tokens),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}

	// 补满令牌桶所需时间
	missing := float64(policy.MaxRequests) - tokens
	if missing > 0 {
		res.ResetAfter = time.Duration(missing / float64(perSecond) * float64(time.Second))
	}
	if !allowed {
		res.RetryAfter = time.Duration((1 - tokens) / float64(perSecond) * float64(time.Second))
	}
	return res, nil
}

// Len 当前跟踪的 Key 数量
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// cleanupLocked 删除一个清理周期内未使用的令牌桶
func (l *LocalLimiter) cleanupLocked(now time.Time) {
	if now.Before(l.nextCleanup) {
		return
	}
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) > localCleanupInterval {
			delete(l.entries, key)
		}
	}
	l.nextCleanup = now.Add(localCleanupInterval)
}
