// 文件: pkg/registry/registry.go
// 期权注册表
//
// 职责:
// 1. 每个标的资产一个预言机 (只有 admin 能设置)
// 2. 创建期权实例, 绑定预言机和进程共用的报价资产
// 3. 按 ID/地址 查询已创建的期权
//
// 注册表本身不参与任何结算

package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/asset"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/event"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/ident"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/logx"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/oracle"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/settle"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrNotAdmin          = settle.New(settle.ClassAuthorization, "caller is not the registry admin")
	ErrNoOracle          = settle.New(settle.ClassState, "no oracle set for asset")
	ErrOptionNotFound    = settle.New(settle.ClassValue, "option not found")
	ErrMissingLedger     = settle.New(settle.ClassValue, "underlying ledger is required")
	ErrMissingOracle     = settle.New(settle.ClassValue, "oracle is required")
	ErrQuoteAsUnderlying = settle.New(settle.ClassValue, "quote asset cannot be an underlying")
)

// =============================================================================
// 配置
// =============================================================================

// Config 注册表配置
type Config struct {
	Address common.Address // 注册表自身地址, 派生期权托管地址
	Admin   common.Address
	NodeID  int64 // 雪花节点

	Clock      settle.Clock
	Publisher  event.Publisher // 透传给每个期权
	Repository Repository      // 可选, 默认内存
	Index      ExpiryIndex     // 可选, 默认内存
	Logger     *logrus.Entry
}

// CreateOptionRequest 创建期权参数
type CreateOptionRequest struct {
	Kind        option.Kind
	Asset       string // 标的资产符号
	Premium     decimal.Decimal
	StrikePrice decimal.Decimal
	Quantity    decimal.Decimal
	Expiry      time.Time
}

// assetEntry 标的资产 + 预言机
type assetEntry struct {
	ledger asset.Ledger
	oracle oracle.PriceOracle
}

// Registry 期权注册表
type Registry struct {
	admin     common.Address
	quote     asset.Ledger
	ids       *ident.Generator
	clock     settle.Clock
	publisher event.Publisher
	repo      Repository
	index     ExpiryIndex
	log       *logrus.Entry

	createMu sync.Mutex

	mu      sync.RWMutex
	assets  map[string]*assetEntry
	options []*option.Option
	byID    map[int64]*option.Option
	byAddr  map[common.Address]*option.Option
}

// New 创建注册表; quote 为进程共用的报价资产
func New(cfg Config, quote asset.Ledger) (*Registry, error) {
	if quote == nil {
		return nil, ErrMissingLedger
	}
	if cfg.Admin == (common.Address{}) || cfg.Address == (common.Address{}) {
		return nil, settle.ErrZeroAddress
	}
	ids, err := ident.NewGenerator(cfg.NodeID, cfg.Address)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	repo := cfg.Repository
	if repo == nil {
		repo = NewMemoryRepository()
	}
	index := cfg.Index
	if index == nil {
		index = NewMemoryExpiryIndex()
	}
	r := &Registry{
		admin:  cfg.Admin,
		quote:  quote,
		ids:    ids,
		clock:  clock,
		repo:   repo,
		index:  index,
		log:    logx.OrDiscard(cfg.Logger).WithField("component", "registry"),
		assets: make(map[string]*assetEntry),
		byID:   make(map[int64]*option.Option),
		byAddr: make(map[common.Address]*option.Option),
	}
	// 期权事件先写回记录, 再交给外部发布者
	r.publisher = event.Multi{
		NewRecordSyncer(r.Get, repo, index, r.log),
		event.OrNop(cfg.Publisher),
	}
	return r, nil
}

// LedgerOpener 重启时按登记重建标的账本及其预言机
type LedgerOpener func(symbol string, decimals int32) (asset.Ledger, oracle.PriceOracle, error)

// Resume 进程重启后按持久化记录恢复
//
//  1. 按标的登记重建账本与预言机 (open 为 nil 时要求调用方已 SetOracle)
//  2. 按期权记录重建实例, strikeValue 取自记录, 不重新定价
//  3. 未终结且未到期的期权重新进入到期索引
//  4. 地址 nonce 推进到已用地址之后
//
// 重复调用只补齐缺少的部分
func (r *Registry) Resume(ctx context.Context, open LedgerOpener) error {
	if open != nil {
		assets, err := r.repo.ListAssets(ctx)
		if err != nil {
			return err
		}
		for _, a := range assets {
			if _, ok := r.Ledger(a.Symbol); ok {
				continue
			}
			l, o, err := open(a.Symbol, a.Decimals)
			if err != nil {
				return fmt.Errorf("open asset %s: %w", a.Symbol, err)
			}
			if err := r.bind(l, o); err != nil {
				return fmt.Errorf("bind asset %s: %w", a.Symbol, err)
			}
		}
	}

	records, err := r.repo.List(ctx)
	if err != nil {
		return err
	}
	now := r.clock()
	used := make([]common.Address, 0, len(records))
	for _, rec := range records {
		o, err := r.restore(rec)
		if err != nil {
			return fmt.Errorf("restore option %d: %w", rec.OptionID, err)
		}
		used = append(used, o.Address())
		if !rec.Terminal() && o.Expiry().After(now) {
			if err := r.index.Add(ctx, o.ID(), o.Expiry()); err != nil {
				r.log.WithError(err).WithField("option_id", o.ID()).Error("[Registry] index expiry failed")
			}
		}
	}
	if err := r.ids.ResumeFrom(used); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"options": len(records),
		"nonce":   r.ids.Nonce(),
	}).Info("[Registry] resumed")
	return nil
}

// restore 重建一条记录对应的期权并登记; 已登记过的返回现有实例
func (r *Registry) restore(rec *OptionRecord) (*option.Option, error) {
	if o, err := r.Get(rec.OptionID); err == nil {
		return o, nil
	}
	snap, err := rec.Snapshot()
	if err != nil {
		return nil, err
	}
	underlying, ok := r.Ledger(snap.Underlying)
	if !ok || symbolKey(snap.Underlying) == symbolKey(r.quote.Symbol()) {
		return nil, fmt.Errorf("%w: %s", ErrNoOracle, snap.Underlying)
	}
	o, err := option.Restore(option.RestoreParams{
		Snapshot:   snap,
		Underlying: underlying,
		Quote:      r.quote,
		Clock:      r.clock,
		Publisher:  r.publisher,
		Logger:     r.log,
	})
	if err != nil {
		return nil, err
	}
	r.add(o)
	return o, nil
}

func (r *Registry) add(o *option.Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.options = append(r.options, o)
	r.byID[o.ID()] = o
	r.byAddr[o.Address()] = o
}

// =============================================================================
// 预言机
// =============================================================================

// SetOracle 设置标的资产的预言机 (同时登记标的账本), 重复设置会覆盖
func (r *Registry) SetOracle(ctx context.Context, caller common.Address, underlying asset.Ledger, o oracle.PriceOracle) error {
	if caller != r.admin {
		return ErrNotAdmin
	}
	if err := r.bind(underlying, o); err != nil {
		return err
	}

	// 登记失败只影响重启恢复
	rec := &AssetRecord{Symbol: underlying.Symbol(), Decimals: underlying.Decimals()}
	if err := r.repo.SaveAsset(ctx, rec); err != nil {
		r.log.WithError(err).WithField("asset", rec.Symbol).Error("[Registry] save asset failed")
	}

	r.log.WithFields(logrus.Fields{
		"asset":    underlying.Symbol(),
		"decimals": underlying.Decimals(),
	}).Info("[Registry] oracle set")
	return nil
}

func (r *Registry) bind(underlying asset.Ledger, o oracle.PriceOracle) error {
	if underlying == nil {
		return ErrMissingLedger
	}
	if o == nil {
		return ErrMissingOracle
	}
	key := symbolKey(underlying.Symbol())
	if key == symbolKey(r.quote.Symbol()) {
		return ErrQuoteAsUnderlying
	}
	r.mu.Lock()
	r.assets[key] = &assetEntry{ledger: underlying, oracle: o}
	r.mu.Unlock()
	return nil
}

// Oracle 查询标的资产的预言机
func (r *Registry) Oracle(symbol string) (oracle.PriceOracle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.assets[symbolKey(symbol)]
	if !ok {
		return nil, false
	}
	return e.oracle, true
}

// Ledger 按符号查询账本 (标的或报价资产)
func (r *Registry) Ledger(symbol string) (asset.Ledger, bool) {
	key := symbolKey(symbol)
	if key == symbolKey(r.quote.Symbol()) {
		return r.quote, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.assets[key]
	if !ok {
		return nil, false
	}
	return e.ledger, true
}

// Quote 报价资产
func (r *Registry) Quote() asset.Ledger { return r.quote }

// Admin 管理员地址
func (r *Registry) Admin() common.Address { return r.admin }

// =============================================================================
// 创建期权
// =============================================================================

// CreateOption 创建期权, caller 成为 writer
//
// 检查顺序: 预言机 -> 数值 -> 到期时间; 数值与时间由 option.New 校验
func (r *Registry) CreateOption(ctx context.Context, caller common.Address, req CreateOptionRequest) (*option.Option, error) {
	r.mu.RLock()
	entry, ok := r.assets[symbolKey(req.Asset)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNoOracle
	}

	// 创建失败时退回 nonce, 已用地址保持连续
	r.createMu.Lock()
	defer r.createMu.Unlock()
	nonce := r.ids.Nonce()
	id, addr := r.ids.Next()
	o, err := option.New(ctx, option.Params{
		ID:          id,
		Address:     addr,
		Kind:        req.Kind,
		Underlying:  entry.ledger,
		Quote:       r.quote,
		Oracle:      entry.oracle,
		Writer:      caller,
		Premium:     req.Premium,
		StrikePrice: req.StrikePrice,
		Quantity:    req.Quantity,
		Expiry:      req.Expiry,
		Clock:       r.clock,
		Publisher:   r.publisher,
		Logger:      r.log,
	})
	if err != nil {
		r.ids.Rollback(nonce)
		return nil, err
	}
	r.add(o)

	// 持久化/到期索引失败不影响期权本身
	if err := r.repo.Save(ctx, NewRecord(o.Snapshot())); err != nil {
		r.log.WithError(err).WithField("option_id", id).Error("[Registry] save record failed")
	}
	if err := r.index.Add(ctx, id, req.Expiry); err != nil {
		r.log.WithError(err).WithField("option_id", id).Error("[Registry] index expiry failed")
	}

	r.log.WithFields(logrus.Fields{
		"option_id":    id,
		"option":       addr.Hex(),
		"kind":         req.Kind.String(),
		"asset":        entry.ledger.Symbol(),
		"writer":       caller.Hex(),
		"strike_value": o.StrikeValue().String(),
		"expiry":       req.Expiry.UTC().Format(time.RFC3339),
	}).Info("[Registry] option created")
	return o, nil
}

// =============================================================================
// 查询
// =============================================================================

// Get 按 ID 查询
func (r *Registry) Get(id int64) (*option.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, ErrOptionNotFound
	}
	return o, nil
}

// GetByAddress 按托管地址查询
func (r *Registry) GetByAddress(addr common.Address) (*option.Option, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byAddr[addr]
	if !ok {
		return nil, ErrOptionNotFound
	}
	return o, nil
}

// List 全部期权 (创建顺序)
func (r *Registry) List() []*option.Option {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*option.Option, len(r.options))
	copy(out, r.options)
	return out
}

// Repository 持久化仓库
func (r *Registry) Repository() Repository { return r.repo }

// Index 到期索引
func (r *Registry) Index() ExpiryIndex { return r.index }

func symbolKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
