package httptransport

import (
	"errors"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/service"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	service.ErrAPIKeyNotFound:  "API Key不存在",
	service.ErrAPIKeyNameTaken: "API Key名称已被使用",
	service.ErrAmbiguousExpiry: "expiresAt 与 expiresIn 只能设置一个",

	domain.ErrNameRequired:     "名称不能为空",
	domain.ErrNameTooLong:      "名称过长（最多255个字符）",
	domain.ErrInvalidRateLimit: "限流参数必须为正整数",
	domain.ErrExpiresAtInPast:  "过期时间必须晚于当前时间",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidExpiresIn = "过期时间格式无效"

	// 认证相关
	MsgAPIKeyRequired   = "需要API Key认证"
	MsgStoreUnavailable = "存储服务暂不可用，请稍后重试"

	// API Key相关
	MsgAPIKeyCreateFailed = "创建API Key失败"
	MsgAPIKeyRevokeFailed = "吊销API Key失败"
	MsgAPIKeyListFailed   = "获取API Key列表失败"
	MsgAPIKeyGetFailed    = "获取API Key详情失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
