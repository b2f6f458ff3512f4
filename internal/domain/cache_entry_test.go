package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheEntryRoundTrip(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 123456000, time.UTC)
	key := &APIKey{
		Key:       "abc",
		Status:    KeyStatusActive,
		ExpiresAt: &exp,
		RateLimit: RateLimit{MaxRequests: 50, WindowSeconds: 60},
	}

	fields := NewCacheEntry(key).Fields()
	assert.Equal(t, "active", fields[CacheFieldStatus])
	assert.Equal(t, "50", fields[CacheFieldMaxRequests])
	assert.Equal(t, "60", fields[CacheFieldWindowSeconds])
	assert.Equal(t, "1893553445.123456", fields[CacheFieldExpiresAt])

	entry, err := DecodeCacheEntry(fields)
	require.NoError(t, err)
	assert.Equal(t, KeyStatusActive, entry.Status)
	require.NotNil(t, entry.RateLimit)
	assert.Equal(t, 50, entry.RateLimit.MaxRequests)
	require.NotNil(t, entry.ExpiresAt)
	assert.True(t, exp.Equal(*entry.ExpiresAt))

	summary := entry.ToAPIKey("abc")
	assert.Equal(t, "abc", summary.Key)
	assert.Equal(t, 60, summary.RateLimit.WindowSeconds)
}

func TestCacheEntryWithoutExpiry(t *testing.T) {
	key := &APIKey{Status: KeyStatusActive, RateLimit: DefaultRateLimit()}
	fields := NewCacheEntry(key).Fields()
	_, ok := fields[CacheFieldExpiresAt]
	assert.False(t, ok)

	entry, err := DecodeCacheEntry(fields)
	require.NoError(t, err)
	assert.Nil(t, entry.ExpiresAt)
	assert.False(t, entry.IsExpiredAt(time.Now()))
}

func TestDecodeCacheEntryNegativeEntry(t *testing.T) {
	// 惰性过期只写入 status 字段
	entry, err := DecodeCacheEntry(map[string]string{CacheFieldStatus: "expired"})
	require.NoError(t, err)
	assert.Equal(t, KeyStatusExpired, entry.Status)
	assert.Nil(t, entry.RateLimit)
}

func TestDecodeCacheEntryCorruption(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"empty map", map[string]string{}},
		{"unknown status", map[string]string{CacheFieldStatus: "paused", CacheFieldMaxRequests: "1", CacheFieldWindowSeconds: "1"}},
		{"active without rate limit", map[string]string{CacheFieldStatus: "active"}},
		{"only max requests", map[string]string{CacheFieldStatus: "revoked", CacheFieldMaxRequests: "10"}},
		{"non numeric max", map[string]string{CacheFieldStatus: "active", CacheFieldMaxRequests: "ten", CacheFieldWindowSeconds: "60"}},
		{"zero window", map[string]string{CacheFieldStatus: "active", CacheFieldMaxRequests: "10", CacheFieldWindowSeconds: "0"}},
		{"bad expiry", map[string]string{CacheFieldStatus: "active", CacheFieldMaxRequests: "10", CacheFieldWindowSeconds: "60", CacheFieldExpiresAt: "soon"}},
		{"infinite expiry", map[string]string{CacheFieldStatus: "active", CacheFieldMaxRequests: "10", CacheFieldWindowSeconds: "60", CacheFieldExpiresAt: "+Inf"}},
		{"nan expiry", map[string]string{CacheFieldStatus: "active", CacheFieldMaxRequests: "10", CacheFieldWindowSeconds: "60", CacheFieldExpiresAt: "NaN"}},
		{"expiry beyond year 9999", map[string]string{CacheFieldStatus: "active", CacheFieldMaxRequests: "10", CacheFieldWindowSeconds: "60", CacheFieldExpiresAt: "1e300"}},
		{"negative expiry", map[string]string{CacheFieldStatus: "active", CacheFieldMaxRequests: "10", CacheFieldWindowSeconds: "60", CacheFieldExpiresAt: "-1"}},
		{"window overflows duration", map[string]string{CacheFieldStatus: "active", CacheFieldMaxRequests: "10", CacheFieldWindowSeconds: "10000000000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCacheEntry(tt.fields)
			assert.ErrorIs(t, err, ErrCacheCorruption)
		})
	}
}

func TestCacheEntryIsExpiredAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Millisecond)
	entry := CacheEntry{Status: KeyStatusActive, ExpiresAt: &past}
	assert.True(t, entry.IsExpiredAt(now))
}
