package domain

import "time"

// KeyStatus API Key 状态
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
	KeyStatusExpired KeyStatus = "expired"
)

// Valid 判断状态值是否合法
func (s KeyStatus) Valid() bool {
	switch s {
	case KeyStatusActive, KeyStatusRevoked, KeyStatusExpired:
		return true
	default:
		return false
	}
}

// 默认限流策略：每小时 1000 次
const (
	DefaultRateLimitMaxRequests   = 1000
	DefaultRateLimitWindowSeconds = 3600
)

// RateLimit 单个 API Key 的限流策略
type RateLimit struct {
	MaxRequests   int `json:"rateLimitPerWindow" gorm:"column:rate_limit_per_window;not null;default:1000"`
	WindowSeconds int `json:"rateLimitWindowSeconds" gorm:"column:rate_limit_window_seconds;not null;default:3600"`
}

// DefaultRateLimit 返回默认限流策略
func DefaultRateLimit() RateLimit {
	return RateLimit{
		MaxRequests:   DefaultRateLimitMaxRequests,
		WindowSeconds: DefaultRateLimitWindowSeconds,
	}
}

// Window 限流窗口时长
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// APIKey API密钥实体
//
// Key 由服务端生成且创建后不可变；Status 只会被吊销操作或惰性过期流程修改。
type APIKey struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Key       string     `json:"key" gorm:"column:api_key;type:varchar(64);uniqueIndex;not null"`
	Name      string     `json:"name" gorm:"type:varchar(255);uniqueIndex;not null"`
	Status    KeyStatus  `json:"status" gorm:"type:varchar(10);not null;default:active"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	RateLimit RateLimit  `json:"rateLimit" gorm:"embedded"`
}

// TableName 指定表名
func (APIKey) TableName() string {
	return "api_keys"
}

// IsExpiredAt 判断在给定时间点是否已过期（与存储的状态无关）
func (k *APIKey) IsExpiredAt(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}

// IsActiveAt 状态为 active 且未过期
func (k *APIKey) IsActiveAt(now time.Time) bool {
	return k.Status == KeyStatusActive && !k.IsExpiredAt(now)
}

// Clone 返回深拷贝，存储层用它避免共享指针
func (k *APIKey) Clone() *APIKey {
	if k == nil {
		return nil
	}
	out := *k
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}
