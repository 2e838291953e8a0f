package clientid

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/db"
	"github.com/patrickwarner/rtcadserve/internal/macros"
	"github.com/patrickwarner/rtcadserve/internal/observability"
)

// setupTestRedis spins up an in-memory Redis behind a RedisStore.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *db.RedisStore) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return s, &db.RedisStore{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}
}

func TestGetOrCreate_CreatesAndReuses(t *testing.T) {
	mr, store := setupTestRedis(t)
	metrics := observability.NewCountingRegistry()
	svc := NewService(store, 24*time.Hour, 16, time.Minute, zap.NewNop(), metrics)
	ctx := context.Background()

	id, err := svc.GetOrCreate(ctx, "user-1", macros.AdCIDScope, macros.AdCIDCookie)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "amp-"), id)
	assert.Equal(t, 1, metrics.Count("client_id", "created"))

	stored, err := mr.Get("cid:AMP_ECID_GOOGLE:_ga:user-1")
	require.NoError(t, err)
	assert.Equal(t, id, stored)
	assert.Greater(t, mr.TTL("cid:AMP_ECID_GOOGLE:_ga:user-1"), time.Duration(0))

	again, err := svc.GetOrCreate(ctx, "user-1", macros.AdCIDScope, macros.AdCIDCookie)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, metrics.Count("client_id", "cache"))

	// a fresh service reads the stored id instead of creating a new one
	other := NewService(store, 24*time.Hour, 16, time.Minute, zap.NewNop(), metrics)
	fromStore, err := other.For("user-1").GetOrCreate(ctx, macros.AdCIDScope, macros.AdCIDCookie)
	require.NoError(t, err)
	assert.Equal(t, id, fromStore)
	assert.Equal(t, 1, metrics.Count("client_id", "store"))
}

func TestGetOrCreate_ScopesAreIndependent(t *testing.T) {
	_, store := setupTestRedis(t)
	svc := NewService(store, 0, 16, time.Minute, zap.NewNop(), observability.NewNoOpRegistry())
	ctx := context.Background()

	a, err := svc.GetOrCreate(ctx, "user-1", "SCOPE_A", "_ga")
	require.NoError(t, err)
	b, err := svc.GetOrCreate(ctx, "user-1", "SCOPE_B", "_ga")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGetOrCreate_EmptyUserKey(t *testing.T) {
	mr, store := setupTestRedis(t)
	svc := NewService(store, 0, 16, time.Minute, zap.NewNop(), observability.NewNoOpRegistry())

	id, err := svc.GetOrCreate(context.Background(), "", macros.AdCIDScope, macros.AdCIDCookie)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Empty(t, mr.Keys())
}

func TestGetOrCreate_StoreDown(t *testing.T) {
	mr, store := setupTestRedis(t)
	mr.Close()
	svc := NewService(store, 0, 16, time.Minute, zap.NewNop(), observability.NewNoOpRegistry())

	_, err := svc.GetOrCreate(context.Background(), "user-1", macros.AdCIDScope, macros.AdCIDCookie)
	assert.Error(t, err)
}

func TestGetOrCreate_NilStore(t *testing.T) {
	var store *db.RedisStore
	svc := NewService(store, 0, 16, time.Minute, zap.NewNop(), observability.NewNoOpRegistry())

	_, err := svc.GetOrCreate(context.Background(), "user-1", macros.AdCIDScope, macros.AdCIDCookie)
	assert.ErrorIs(t, err, db.ErrNilRedisStore)
}
