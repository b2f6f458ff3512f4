package domain

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// 验证相关的错误定义
var (
	ErrNameRequired     = errors.New("api key name is required")
	ErrNameTooLong      = errors.New("api key name too long (max 255 chars)")
	ErrInvalidRateLimit = errors.New("rate limit must have max requests in 1..2147483647 and window in 1..31622400 seconds")
	ErrExpiresAtInPast  = errors.New("expiration time must be in the future")
	ErrInvalidKeyFormat = errors.New("api key format invalid")
)

// 验证常量
const (
	MaxNameLength = 255
	KeyLength     = 64 // 32 字节随机数的十六进制编码

	// 限流字段上限，与数据库 INT 列一致；窗口最长 366 天
	MaxRateLimitRequests      = math.MaxInt32
	MaxRateLimitWindowSeconds = 366 * 24 * 3600
)

// ValidateName 校验 API Key 名称
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrNameRequired
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// ValidateRateLimit 校验限流策略
func ValidateRateLimit(rl RateLimit) error {
	if rl.MaxRequests <= 0 || rl.MaxRequests > MaxRateLimitRequests {
		return ErrInvalidRateLimit
	}
	if rl.WindowSeconds <= 0 || rl.WindowSeconds > MaxRateLimitWindowSeconds {
		return ErrInvalidRateLimit
	}
	return nil
}

// ValidateExpiresAt 过期时间必须晚于当前时间
func ValidateExpiresAt(expiresAt *time.Time, now time.Time) error {
	if expiresAt != nil && !expiresAt.After(now) {
		return ErrExpiresAtInPast
	}
	return nil
}

// ValidateKeyFormat 判断字符串是否可能是本服务签发的 Key
//
// 只用于管理接口的参数校验；鉴权路径不做格式预判，统一走查询流程。
func ValidateKeyFormat(key string) error {
	if len(key) != KeyLength {
		return ErrInvalidKeyFormat
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return ErrInvalidKeyFormat
		}
	}
	return nil
}

// MaskKey 日志和列表中只保留前 8 个字符
func MaskKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
