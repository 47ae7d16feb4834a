// 文件: pkg/registry/cache_repo.go
// 期权记录 Redis 缓存层
//
// 装饰器: 包装底层 Repository, 调用方只看到 Repository 接口
//
// 缓存策略:
// - 读: 先查 Redis, miss 则查底层并回填
// - 写: 先写底层, 成功后删除缓存 (Cache Aside)
// - 只缓存单条记录和 SOLD 列表, 到期扫描直接查底层
// - 标的登记与挂单只在启动时读, 直接走底层

package registry

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
)

var _ Repository = (*CachedRepository)(nil)

const (
	cacheKeyPrefix = "options:record:"

	// 单条: options:record:id:{option_id}
	cacheKeyID = cacheKeyPrefix + "id:"

	// 已售出列表: options:record:sold
	cacheKeySoldList = cacheKeyPrefix + "sold"

	cacheTTL     = 24 * time.Hour
	listCacheTTL = time.Minute
)

// CachedRepository Redis 缓存装饰器
type CachedRepository struct {
	repo  Repository
	redis redis.UniversalClient
}

// NewCachedRepository 创建
//
//	gormRepo, _ := NewGormRepository(db)
//	repo := NewCachedRepository(gormRepo, rdb)
func NewCachedRepository(repo Repository, rdb redis.UniversalClient) *CachedRepository {
	return &CachedRepository{repo: repo, redis: rdb}
}

// =============================================================================
// 读
// =============================================================================

// Get 带缓存
func (r *CachedRepository) Get(ctx context.Context, optionID int64) (*OptionRecord, error) {
	key := cacheKeyID + strconv.FormatInt(optionID, 10)

	data, err := r.redis.Get(ctx, key).Bytes()
	if err == nil {
		var rec OptionRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := r.repo.Get(ctx, optionID)
	if err != nil {
		return nil, err
	}
	r.setCache(ctx, key, rec, cacheTTL)
	return rec, nil
}

// ListByStatus 只缓存 SOLD 列表
func (r *CachedRepository) ListByStatus(ctx context.Context, status string) ([]*OptionRecord, error) {
	if status != string(option.StatusSold) {
		return r.repo.ListByStatus(ctx, status)
	}

	data, err := r.redis.Get(ctx, cacheKeySoldList).Bytes()
	if err == nil {
		var recs []*OptionRecord
		if json.Unmarshal(data, &recs) == nil {
			return recs, nil
		}
	}

	recs, err := r.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	r.setCache(ctx, cacheKeySoldList, recs, listCacheTTL)
	return recs, nil
}

func (r *CachedRepository) List(ctx context.Context) ([]*OptionRecord, error) {
	return r.repo.List(ctx)
}

func (r *CachedRepository) ListExpiredBefore(ctx context.Context, t time.Time, limit int) ([]*OptionRecord, error) {
	return r.repo.ListExpiredBefore(ctx, t, limit)
}

// =============================================================================
// 写
// =============================================================================

// Save 写穿 + 删缓存
func (r *CachedRepository) Save(ctx context.Context, rec *OptionRecord) error {
	if err := r.repo.Save(ctx, rec); err != nil {
		return err
	}
	r.invalidate(ctx, rec.OptionID)
	return nil
}

func (r *CachedRepository) SaveAsset(ctx context.Context, rec *AssetRecord) error {
	return r.repo.SaveAsset(ctx, rec)
}

func (r *CachedRepository) ListAssets(ctx context.Context) ([]*AssetRecord, error) {
	return r.repo.ListAssets(ctx)
}

func (r *CachedRepository) SaveOffer(ctx context.Context, rec *OfferRecord) error {
	return r.repo.SaveOffer(ctx, rec)
}

func (r *CachedRepository) ListOffers(ctx context.Context) ([]*OfferRecord, error) {
	return r.repo.ListOffers(ctx)
}

// =============================================================================
// 缓存操作
// =============================================================================

func (r *CachedRepository) setCache(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	r.redis.Set(ctx, key, data, ttl)
}

func (r *CachedRepository) invalidate(ctx context.Context, optionID int64) {
	r.redis.Del(ctx, cacheKeyID+strconv.FormatInt(optionID, 10), cacheKeySoldList)
}
