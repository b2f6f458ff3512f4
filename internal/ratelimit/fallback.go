package ratelimit

import (
	"context"

	"go.uber.org/zap"

	"keyguard/backend/internal/domain"
)

// FallbackLimiter 主限流器出错时改用本地限流
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
	log      *zap.Logger
}

// NewFallbackLimiter 创建带降级的限流器
func NewFallbackLimiter(primary, fallback Limiter, log *zap.Logger) *FallbackLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackLimiter{primary: primary, fallback: fallback, log: log}
}

// Allow 优先使用主限流器
func (l *FallbackLimiter) Allow(ctx context.Context, key string, policy domain.RateLimit) (*Result, error) {
	res, err := l.primary.Allow(ctx, key, policy)
	if err == nil {
		return res, nil
	}

	l.log.Warn("Primary rate limiter failed, using local fallback", zap.Error(err))
	return l.fallback.Allow(ctx, key, policy)
}
