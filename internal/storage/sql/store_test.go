package sql

import (
	"context"
	"testing"
	"time"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("sqlite", ":memory:", 1, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newKey(id, key, name string) *domain.APIKey {
	return &domain.APIKey{
		ID:        id,
		Key:       key,
		Name:      name,
		Status:    domain.KeyStatusActive,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		RateLimit: domain.RateLimit{MaxRequests: 10, WindowSeconds: 60},
	}
}

func TestSQLStore_SaveAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	k := newKey("id-1", "key-1", "billing")
	k.ExpiresAt = &exp

	_, err := store.Save(ctx, k)
	require.NoError(t, err)

	found, err := store.FindByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", found.ID)
	assert.Equal(t, "billing", found.Name)
	assert.Equal(t, domain.KeyStatusActive, found.Status)
	assert.Equal(t, 10, found.RateLimit.MaxRequests)
	assert.Equal(t, 60, found.RateLimit.WindowSeconds)
	require.NotNil(t, found.ExpiresAt)
	assert.True(t, exp.Equal(*found.ExpiresAt))

	found, err = store.FindByName(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, "key-1", found.Key)

	_, err = store.FindByKey(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)
}

func TestSQLStore_SaveUpdatesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	k := newKey("id-1", "key-1", "billing")
	_, err := store.Save(ctx, k)
	require.NoError(t, err)

	k.Status = domain.KeyStatusRevoked
	_, err = store.Save(ctx, k)
	require.NoError(t, err)

	found, err := store.FindByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.KeyStatusRevoked, found.Status)
	assert.Nil(t, found.ExpiresAt)

	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestSQLStore_Conflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, newKey("id-1", "key-1", "billing"))
	require.NoError(t, err)

	_, err = store.Save(ctx, newKey("id-2", "key-2", "billing"))
	assert.ErrorIs(t, err, storage.ErrKeyNameExists)

	_, err = store.Save(ctx, newKey("id-3", "key-1", "search"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestSQLStore_Health(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Health(context.Background()))
}

func TestSchema(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		statements, err := Schema(driver)
		require.NoError(t, err, driver)
		assert.NotEmpty(t, statements)
		assert.Contains(t, statements[0], "api_keys")
	}

	_, err := Schema("oracle")
	assert.Error(t, err)
}
