package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// 缓存哈希字段名
const (
	CacheFieldStatus        = "status"
	CacheFieldMaxRequests   = "rate_limit_per_window"
	CacheFieldWindowSeconds = "rate_limit_window_seconds"
	CacheFieldExpiresAt     = "expires_at_timestamp"
)

// CacheEntry 缓存中的 API Key 投影
//
// 只包含鉴权判定所需的字段，完整记录始终以持久化存储为准。
type CacheEntry struct {
	Status    KeyStatus
	RateLimit *RateLimit
	ExpiresAt *time.Time
}

// NewCacheEntry 根据完整记录构造缓存投影
func NewCacheEntry(k *APIKey) CacheEntry {
	rl := k.RateLimit
	entry := CacheEntry{
		Status:    k.Status,
		RateLimit: &rl,
	}
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		entry.ExpiresAt = &t
	}
	return entry
}

// Fields 编码为字符串字段（数值以十进制字符串保存）
func (e CacheEntry) Fields() map[string]string {
	fields := map[string]string{
		CacheFieldStatus: string(e.Status),
	}
	if e.RateLimit != nil {
		fields[CacheFieldMaxRequests] = strconv.Itoa(e.RateLimit.MaxRequests)
		fields[CacheFieldWindowSeconds] = strconv.Itoa(e.RateLimit.WindowSeconds)
	}
	if e.ExpiresAt != nil {
		fields[CacheFieldExpiresAt] = formatEpoch(*e.ExpiresAt)
	}
	return fields
}

// IsExpiredAt 判断投影中的过期时间是否已过
func (e CacheEntry) IsExpiredAt(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// ToAPIKey 由投影还原出精简的记录摘要
func (e CacheEntry) ToAPIKey(key string) *APIKey {
	out := &APIKey{
		Key:       key,
		Status:    e.Status,
		ExpiresAt: e.ExpiresAt,
	}
	if e.RateLimit != nil {
		out.RateLimit = *e.RateLimit
	}
	return out
}

// DecodeCacheEntry 解析缓存字段
//
// 任何结构问题都返回包装了 ErrCacheCorruption 的错误。
func DecodeCacheEntry(fields map[string]string) (*CacheEntry, error) {
	raw, ok := fields[CacheFieldStatus]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrCacheCorruption, CacheFieldStatus)
	}
	status := KeyStatus(raw)
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrCacheCorruption, raw)
	}

	entry := &CacheEntry{Status: status}

	maxRaw, hasMax := fields[CacheFieldMaxRequests]
	windowRaw, hasWindow := fields[CacheFieldWindowSeconds]
	switch {
	case hasMax && hasWindow:
		maxRequests, err := parsePositiveInt(maxRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorruption, CacheFieldMaxRequests, err)
		}
		window, err := parsePositiveInt(windowRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorruption, CacheFieldWindowSeconds, err)
		}
		rl := RateLimit{MaxRequests: maxRequests, WindowSeconds: window}
		if err := ValidateRateLimit(rl); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheCorruption, err)
		}
		entry.RateLimit = &rl
	case hasMax || hasWindow:
		return nil, fmt.Errorf("%w: incomplete rate limit", ErrCacheCorruption)
	case status == KeyStatusActive:
		return nil, fmt.Errorf("%w: active entry without rate limit", ErrCacheCorruption)
	}

	if rawExp, ok := fields[CacheFieldExpiresAt]; ok {
		t, err := parseEpoch(rawExp)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorruption, CacheFieldExpiresAt, err)
		}
		entry.ExpiresAt = &t
	}

	return entry, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

// formatEpoch 以秒为单位、保留微秒精度
func formatEpoch(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1e6, 'f', 6, 64)
}

// 缓存中过期时间戳的合法范围：1970-01-01 至 9999-12-31
const maxEpochSeconds = 253402300799

func parseEpoch(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("not a finite timestamp: %q", s)
	}
	if f < 0 || f > maxEpochSeconds {
		return time.Time{}, fmt.Errorf("timestamp out of range: %q", s)
	}
	return time.UnixMicro(int64(math.Round(f * 1e6))).UTC(), nil
}
