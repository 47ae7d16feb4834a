// 文件: pkg/registry/repository.go
// 记录存储接口 (期权 / 标的登记 / 挂单)
//
// 实现:
// - MemoryRepository: 默认, 进程内
// - GormRepository:   MySQL / SQLite
// - CachedRepository: Redis 缓存装饰器, 包在任意实现外面

package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository 期权记录存储
type Repository interface {
	// Save 按 option_id 插入或更新
	Save(ctx context.Context, rec *OptionRecord) error

	// Get 不存在返回 ErrOptionNotFound
	Get(ctx context.Context, optionID int64) (*OptionRecord, error)

	// List 按 option_id 升序 (即创建顺序)
	List(ctx context.Context) ([]*OptionRecord, error)

	ListByStatus(ctx context.Context, status string) ([]*OptionRecord, error)

	// ListExpiredBefore 到期时间 <= t 且未终结的记录 (按到期先后), limit <= 0 不限
	ListExpiredBefore(ctx context.Context, t time.Time, limit int) ([]*OptionRecord, error)

	// SaveAsset 按符号插入或更新
	SaveAsset(ctx context.Context, rec *AssetRecord) error

	// ListAssets 按符号升序
	ListAssets(ctx context.Context) ([]*AssetRecord, error)

	// SaveOffer 按 offer_id 插入或更新
	SaveOffer(ctx context.Context, rec *OfferRecord) error

	// ListOffers 按 offer_id 升序 (即创建顺序)
	ListOffers(ctx context.Context) ([]*OfferRecord, error)
}

// =============================================================================
// MemoryRepository
// =============================================================================

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository 内存实现
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[int64]*OptionRecord
	assets  map[string]*AssetRecord
	offers  map[int64]*OfferRecord
}

// NewMemoryRepository 创建
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[int64]*OptionRecord),
		assets:  make(map[string]*AssetRecord),
		offers:  make(map[int64]*OfferRecord),
	}
}

func (m *MemoryRepository) Save(_ context.Context, rec *OptionRecord) error {
	cp := *rec
	cp.UpdatedAt = time.Now().UnixMilli()
	m.mu.Lock()
	m.records[rec.OptionID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, optionID int64) (*OptionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[optionID]
	if !ok {
		return nil, ErrOptionNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRepository) List(_ context.Context) ([]*OptionRecord, error) {
	return m.filter(func(*OptionRecord) bool { return true }), nil
}

func (m *MemoryRepository) ListByStatus(_ context.Context, status string) ([]*OptionRecord, error) {
	return m.filter(func(r *OptionRecord) bool { return r.Status == status }), nil
}

func (m *MemoryRepository) ListExpiredBefore(_ context.Context, t time.Time, limit int) ([]*OptionRecord, error) {
	ms := t.UnixMilli()
	out := m.filter(func(r *OptionRecord) bool {
		return r.Expiry <= ms && !r.Terminal()
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Expiry < out[j].Expiry })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) filter(keep func(*OptionRecord) bool) []*OptionRecord {
	m.mu.RLock()
	out := make([]*OptionRecord, 0, len(m.records))
	for _, r := range m.records {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OptionID < out[j].OptionID })
	return out
}

func (m *MemoryRepository) SaveAsset(_ context.Context, rec *AssetRecord) error {
	cp := *rec
	cp.UpdatedAt = time.Now().UnixMilli()
	m.mu.Lock()
	m.assets[rec.Symbol] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) ListAssets(_ context.Context) ([]*AssetRecord, error) {
	m.mu.RLock()
	out := make([]*AssetRecord, 0, len(m.assets))
	for _, a := range m.assets {
		cp := *a
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemoryRepository) SaveOffer(_ context.Context, rec *OfferRecord) error {
	cp := *rec
	cp.UpdatedAt = time.Now().UnixMilli()
	m.mu.Lock()
	m.offers[rec.OfferID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) ListOffers(_ context.Context) ([]*OfferRecord, error) {
	m.mu.RLock()
	out := make([]*OfferRecord, 0, len(m.offers))
	for _, o := range m.offers {
		cp := *o
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OfferID < out[j].OfferID })
	return out, nil
}
