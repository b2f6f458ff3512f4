package ratelimit

import (
	"context"
	"time"

	"keyguard/backend/internal/domain"
)

// Result 单次限流判定结果
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration // 距离配额恢复的时间
	RetryAfter time.Duration // 被拒绝时建议的重试间隔
}

// Limiter 按 Key 限流
//
// 限流策略来自 API Key 记录本身，不同 Key 可以有不同的窗口和配额。
type Limiter interface {
	Allow(ctx context.Context, key string, policy domain.RateLimit) (*Result, error)
}
