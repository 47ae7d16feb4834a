// 文件: pkg/registry/expiry.go
// 到期索引
//
// 按到期时间排序的期权 ID 集合, Watcher 定时取出已到期的 ID
// Due 会把取出的 ID 从索引里移除 (认领), 多个节点共用 Redis 时每个 ID 只会被一个节点处理

package registry

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ExpiryIndex 到期索引
type ExpiryIndex interface {
	Add(ctx context.Context, optionID int64, expiry time.Time) error
	// Due 认领到期时间 <= now 的 ID (按到期先后), limit <= 0 不限
	Due(ctx context.Context, now time.Time, limit int) ([]int64, error)
	Remove(ctx context.Context, optionID int64) error
	Len(ctx context.Context) (int64, error)
}

// =============================================================================
// MemoryExpiryIndex
// =============================================================================

var _ ExpiryIndex = (*MemoryExpiryIndex)(nil)

// MemoryExpiryIndex 内存实现
type MemoryExpiryIndex struct {
	mu      sync.Mutex
	entries map[int64]time.Time
}

// NewMemoryExpiryIndex 创建
func NewMemoryExpiryIndex() *MemoryExpiryIndex {
	return &MemoryExpiryIndex{entries: make(map[int64]time.Time)}
}

func (m *MemoryExpiryIndex) Add(_ context.Context, optionID int64, expiry time.Time) error {
	m.mu.Lock()
	m.entries[optionID] = expiry
	m.mu.Unlock()
	return nil
}

func (m *MemoryExpiryIndex) Due(_ context.Context, now time.Time, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type item struct {
		id     int64
		expiry time.Time
	}
	due := make([]item, 0)
	for id, exp := range m.entries {
		if !exp.After(now) {
			due = append(due, item{id, exp})
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].expiry.Equal(due[j].expiry) {
			return due[i].id < due[j].id
		}
		return due[i].expiry.Before(due[j].expiry)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]int64, len(due))
	for i, it := range due {
		ids[i] = it.id
		delete(m.entries, it.id)
	}
	return ids, nil
}

func (m *MemoryExpiryIndex) Remove(_ context.Context, optionID int64) error {
	m.mu.Lock()
	delete(m.entries, optionID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryExpiryIndex) Len(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

// =============================================================================
// RedisExpiryIndex
// =============================================================================

// DefaultExpiryKey ZSET key, score = 到期毫秒
const DefaultExpiryKey = "options:expiry"

// luaClaimDue 原子地取出并删除到期成员
// KEYS[1]: ZSET key
// ARGV[1]: now (毫秒)
// ARGV[2]: limit
const luaClaimDue = `
	local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	if #ids > 0 then
		redis.call('ZREM', KEYS[1], unpack(ids))
	end
	return ids
`

var claimDueScript = redis.NewScript(luaClaimDue)

var _ ExpiryIndex = (*RedisExpiryIndex)(nil)

// RedisExpiryIndex Redis ZSET 实现
type RedisExpiryIndex struct {
	client redis.UniversalClient
	key    string
}

// NewRedisExpiryIndex key 为空时用 DefaultExpiryKey
func NewRedisExpiryIndex(client redis.UniversalClient, key string) *RedisExpiryIndex {
	if key == "" {
		key = DefaultExpiryKey
	}
	return &RedisExpiryIndex{client: client, key: key}
}

func (r *RedisExpiryIndex) Add(ctx context.Context, optionID int64, expiry time.Time) error {
	return r.client.ZAdd(ctx, r.key, redis.Z{
		Score:  float64(expiry.UnixMilli()),
		Member: strconv.FormatInt(optionID, 10),
	}).Err()
}

func (r *RedisExpiryIndex) Due(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = -1 // ZRANGEBYSCORE LIMIT 0 -1 表示不限
	}
	members, err := claimDueScript.Run(ctx, r.client, []string{r.key},
		now.UnixMilli(), limit).StringSlice()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *RedisExpiryIndex) Remove(ctx context.Context, optionID int64) error {
	return r.client.ZRem(ctx, r.key, strconv.FormatInt(optionID, 10)).Err()
}

func (r *RedisExpiryIndex) Len(ctx context.Context) (int64, error) {
	return r.client.ZCard(ctx, r.key).Result()
}
