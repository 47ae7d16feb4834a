package registry

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
)

// setupRedis 连接本地 Redis 并清空测试库, 不可用时跳过
func setupRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 11})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}
	rdb.FlushDB(context.Background())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisExpiryIndex_Claim(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	idx := NewRedisExpiryIndex(rdb, "")

	require.NoError(t, idx.Add(ctx, 2, t0.Add(2*time.Hour)))
	require.NoError(t, idx.Add(ctx, 1, t0.Add(time.Hour)))
	require.NoError(t, idx.Add(ctx, 5, t0.Add(5*time.Hour)))

	ids, err := idx.Due(ctx, t0.Add(3*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	// 已认领的不会再出现
	ids, err = idx.Due(ctx, t0.Add(3*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, idx.Remove(ctx, 5))
	n, err = idx.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCachedRepository_CacheAside(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	base := NewMemoryRepository()
	repo := NewCachedRepository(base, rdb)

	rec := record(1, option.StatusSold, t0)
	require.NoError(t, repo.Save(ctx, rec))

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rec.Status, got.Status)
	exists, err := rdb.Exists(ctx, cacheKeyID+"1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	sold, err := repo.ListByStatus(ctx, string(option.StatusSold))
	require.NoError(t, err)
	assert.Len(t, sold, 1)

	// 写入后缓存失效
	rec.Status = string(option.StatusExercised)
	require.NoError(t, repo.Save(ctx, rec))
	exists, err = rdb.Exists(ctx, cacheKeyID+"1", cacheKeySoldList).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	got, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, string(option.StatusExercised), got.Status)

	sold, err = repo.ListByStatus(ctx, string(option.StatusSold))
	require.NoError(t, err)
	assert.Empty(t, sold)
}
