package memory

import (
	"context"
	"testing"
	"time"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(id, key, name string) *domain.APIKey {
	return &domain.APIKey{
		ID:        id,
		Key:       key,
		Name:      name,
		Status:    domain.KeyStatusActive,
		CreatedAt: time.Now(),
		RateLimit: domain.DefaultRateLimit(),
	}
}

func TestMemoryStore_APIKeyOperations(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	// Test Save
	saved, err := store.Save(ctx, newKey("id-1", "key-1", "billing"))
	require.NoError(t, err)
	assert.Equal(t, "key-1", saved.Key)

	// Test FindByKey
	found, err := store.FindByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "billing", found.Name)
	assert.Equal(t, domain.KeyStatusActive, found.Status)

	// Test FindByName
	found, err = store.FindByName(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "id-1", found.ID)

	// Test update
	found.Status = domain.KeyStatusRevoked
	_, err = store.Save(ctx, found)
	require.NoError(t, err)

	found, err = store.FindByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.KeyStatusRevoked, found.Status)

	// Test not found
	_, err = store.FindByKey(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
	_, err = store.FindByName(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestMemoryStore_Uniqueness(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.Save(ctx, newKey("id-1", "key-1", "billing"))
	require.NoError(t, err)

	_, err = store.Save(ctx, newKey("id-2", "key-2", "billing"))
	assert.ErrorIs(t, err, storage.ErrKeyNameExists)

	_, err = store.Save(ctx, newKey("id-3", "key-1", "search"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.Save(ctx, newKey("id-1", "key-1", "billing"))
	require.NoError(t, err)

	found, err := store.FindByKey(ctx, "key-1")
	require.NoError(t, err)
	found.Status = domain.KeyStatusRevoked

	again, err := store.FindByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.KeyStatusActive, again.Status, "外部修改不应影响存储内容")
}

func TestMemoryStore_ListAPIKeys(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	older := newKey("id-1", "key-1", "older")
	older.CreatedAt = time.Now().Add(-time.Hour)
	_, err := store.Save(ctx, older)
	require.NoError(t, err)
	_, err = store.Save(ctx, newKey("id-2", "key-2", "newer"))
	require.NoError(t, err)

	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "newer", keys[0].Name)
}

func TestMemoryStore_IncrementWindow(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := store.IncrementWindow(ctx, "key-1:0", 50*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	time.Sleep(80 * time.Millisecond)

	count, err := store.IncrementWindow(ctx, "key-1:0", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "窗口过期后计数应重置")
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.FindByKey(ctx, "key-1")
	assert.ErrorIs(t, err, context.Canceled)
}
