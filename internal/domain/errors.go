package domain

import (
	"errors"
	"fmt"
)

// 鉴权拒绝原因（面向调用方的最终结果）
var (
	ErrMissingKey  = errors.New("API key is missing")
	ErrInvalidKey  = errors.New("invalid API key")
	ErrInactiveKey = errors.New("API key is not active or has been revoked")
	ErrExpiredKey  = errors.New("API key has expired")

	// ErrInconsistentKey 缓存认为有效但存储中不存在，归类为无效 Key
	ErrInconsistentKey = fmt.Errorf("%w (store mismatch)", ErrInvalidKey)

	// ErrBackingStoreUnavailable 持久化存储故障，必须与无效 Key 区分
	ErrBackingStoreUnavailable = errors.New("backing store unavailable")

	// ErrCacheCorruption 缓存条目无法解析，只在校验器内部处理
	ErrCacheCorruption = errors.New("cache entry corrupted")
)

// DenyReason 拒绝原因代码
type DenyReason string

const (
	ReasonNone             DenyReason = ""
	ReasonMissing          DenyReason = "missing"
	ReasonInvalid          DenyReason = "invalid"
	ReasonInconsistent     DenyReason = "inconsistent"
	ReasonInactive         DenyReason = "inactive"
	ReasonExpired          DenyReason = "expired"
	ReasonStoreUnavailable DenyReason = "store_unavailable"
)

// ReasonFor 将鉴权错误映射为拒绝原因代码
//
// 未知错误按存储不可用处理，避免被误判为无效 Key。
func ReasonFor(err error) DenyReason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrMissingKey):
		return ReasonMissing
	case errors.Is(err, ErrInconsistentKey):
		return ReasonInconsistent
	case errors.Is(err, ErrInvalidKey):
		return ReasonInvalid
	case errors.Is(err, ErrInactiveKey):
		return ReasonInactive
	case errors.Is(err, ErrExpiredKey):
		return ReasonExpired
	default:
		return ReasonStoreUnavailable
	}
}
