package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected error
	}{
		{"Valid name", "billing-service", nil},
		{"Valid unicode name", "订单服务", nil},
		{"Valid maximum length", strings.Repeat("a", MaxNameLength), nil},
		{"Invalid - empty", "", ErrNameRequired},
		{"Invalid - only spaces", "   ", ErrNameRequired},
		{"Invalid - too long", strings.Repeat("a", MaxNameLength+1), ErrNameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateName(tt.input))
		})
	}
}

func TestValidateRateLimit(t *testing.T) {
	tests := []struct {
		name     string
		rl       RateLimit
		expected error
	}{
		{"Default policy", DefaultRateLimit(), nil},
		{"Single request per second", RateLimit{MaxRequests: 1, WindowSeconds: 1}, nil},
		{"Invalid - zero requests", RateLimit{MaxRequests: 0, WindowSeconds: 60}, ErrInvalidRateLimit},
		{"Invalid - negative window", RateLimit{MaxRequests: 10, WindowSeconds: -1}, ErrInvalidRateLimit},
		{"Upper bounds", RateLimit{MaxRequests: MaxRateLimitRequests, WindowSeconds: MaxRateLimitWindowSeconds}, nil},
		{"Invalid - window overflows duration", RateLimit{MaxRequests: 1, WindowSeconds: 1e10}, ErrInvalidRateLimit},
		{"Invalid - window beyond a year", RateLimit{MaxRequests: 1, WindowSeconds: MaxRateLimitWindowSeconds + 1}, ErrInvalidRateLimit},
		{"Invalid - requests beyond int32", RateLimit{MaxRequests: MaxRateLimitRequests + 1, WindowSeconds: 60}, ErrInvalidRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateRateLimit(tt.rl))
		})
	}
}

func TestValidateExpiresAt(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Second)

	assert.NoError(t, ValidateExpiresAt(nil, now))
	assert.NoError(t, ValidateExpiresAt(&future, now))
	assert.ErrorIs(t, ValidateExpiresAt(&past, now), ErrExpiresAtInPast)
	assert.ErrorIs(t, ValidateExpiresAt(&now, now), ErrExpiresAtInPast)
}

func TestValidateKeyFormat(t *testing.T) {
	assert.NoError(t, ValidateKeyFormat(strings.Repeat("ab", 32)))
	assert.ErrorIs(t, ValidateKeyFormat("short"), ErrInvalidKeyFormat)
	assert.ErrorIs(t, ValidateKeyFormat(strings.Repeat("AB", 32)), ErrInvalidKeyFormat)
	assert.ErrorIs(t, ValidateKeyFormat(strings.Repeat("zz", 32)), ErrInvalidKeyFormat)
}

func TestAPIKeyExpiry(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	k := &APIKey{Status: KeyStatusActive, RateLimit: DefaultRateLimit()}
	assert.False(t, k.IsExpiredAt(now))
	assert.True(t, k.IsActiveAt(now))

	k.ExpiresAt = &past
	assert.True(t, k.IsExpiredAt(now))
	assert.False(t, k.IsActiveAt(now), "过期时间已过的记录在逻辑上已失效")

	k.ExpiresAt = &future
	assert.True(t, k.IsActiveAt(now))

	k.Status = KeyStatusRevoked
	assert.False(t, k.IsActiveAt(now))
}

func TestAPIKeyClone(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	k := &APIKey{Key: "k", ExpiresAt: &exp}

	c := k.Clone()
	c.ExpiresAt = nil
	c.Key = "other"

	assert.Equal(t, "k", k.Key)
	assert.NotNil(t, k.ExpiresAt)
	assert.Nil(t, (*APIKey)(nil).Clone())
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err      error
		expected DenyReason
	}{
		{nil, ReasonNone},
		{ErrMissingKey, ReasonMissing},
		{ErrInvalidKey, ReasonInvalid},
		{ErrInconsistentKey, ReasonInconsistent},
		{ErrInactiveKey, ReasonInactive},
		{ErrExpiredKey, ReasonExpired},
		{ErrBackingStoreUnavailable, ReasonStoreUnavailable},
		{assert.AnError, ReasonStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.expected), func(t *testing.T) {
			assert.Equal(t, tt.expected, ReasonFor(tt.err))
		})
	}

	assert.ErrorIs(t, ErrInconsistentKey, ErrInvalidKey)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "abcdef01...", MaskKey("abcdef0123456789"))
	assert.Equal(t, "short", MaskKey("short"))
	assert.Equal(t, "", MaskKey(""))
}
