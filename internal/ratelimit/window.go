package ratelimit

import (
	"context"
	"fmt"
	"time"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/storage"
)

// WindowLimiter 固定窗口限流，计数保存在共享的 RateCounter 中
//
// 多个实例共享同一个 Redis 时，配额在实例之间全局生效。
type WindowLimiter struct {
	counter storage.RateCounter
	now     func() time.Time
}

// NewWindowLimiter 创建固定窗口限流器
func NewWindowLimiter(counter storage.RateCounter) *WindowLimiter {
	return &WindowLimiter{counter: counter, now: time.Now}
}

// Allow 对当前窗口计数加一并判断是否超限
func (l *WindowLimiter) Allow(ctx context.Context, key string, policy domain.RateLimit) (*Result, error) {
	if err := domain.ValidateRateLimit(policy); err != nil {
		return nil, err
	}

	now := l.now()
	window := policy.Window()
	windowStart := now.Truncate(window)

	count, err := l.counter.IncrementWindow(ctx, fmt.Sprintf("%s:%d", key, windowStart.Unix()), window)
	if err != nil {
		return nil, fmt.Errorf("increment rate window: %w", err)
	}

	resetAfter := windowStart.Add(window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	res := &Result{
		Allowed:    count <= int64(policy.MaxRequests),
		Limit:      policy.MaxRequests,
		Remaining:  policy.MaxRequests - int(count),
		ResetAfter: resetAfter,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = resetAfter
	}
	return res, nil
}
