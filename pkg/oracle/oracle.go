// 文件: pkg/oracle/oracle.go
// 价格预言机
//
// 期权只在构造时查询一次价格精度，之后不再重新定价

package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNoPrice      = errors.New("oracle: no price")
	ErrInvalidPrice = errors.New("oracle: price must be a positive integer")
)

// PriceOracle 返回 underlying 以报价资产计价的最新价格及其精度
type PriceOracle interface {
	LatestPrice(ctx context.Context) (price decimal.Decimal, decimals int32, err error)
}

func validate(price decimal.Decimal, decimals int32) error {
	if price.Sign() <= 0 || !price.IsInteger() || decimals < 0 {
		return ErrInvalidPrice
	}
	return nil
}

// =============================================================================
// Fixed - 常量价格
// =============================================================================

// Fixed 固定价格
type Fixed struct {
	Price    decimal.Decimal
	Decimals int32
}

// NewFixed 创建固定价格预言机
func NewFixed(price decimal.Decimal, decimals int32) Fixed {
	return Fixed{Price: price, Decimals: decimals}
}

// LatestPrice 实现 PriceOracle
func (f Fixed) LatestPrice(context.Context) (decimal.Decimal, int32, error) {
	if err := validate(f.Price, f.Decimals); err != nil {
		return decimal.Zero, 0, err
	}
	return f.Price, f.Decimals, nil
}

// =============================================================================
// Feed - 多品种内存报价
// =============================================================================

// Quote 一条报价
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Decimals  int32
	UpdatedAt time.Time
}

// Feed 内存报价表
//
// 外部推送价格 (API / 喂价进程), 期权注册时通过 Oracle(symbol) 绑定
type Feed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	now    func() time.Time

	onUpdate func(q Quote)
}

// NewFeed 创建
func NewFeed() *Feed {
	return &Feed{
		quotes: make(map[string]Quote),
		now:    time.Now,
	}
}

// Set 更新报价
func (f *Feed) Set(symbol string, price decimal.Decimal, decimals int32) error {
	if err := validate(price, decimals); err != nil {
		return err
	}
	q := Quote{Symbol: symbol, Price: price, Decimals: decimals}

	f.mu.Lock()
	q.UpdatedAt = f.now()
	f.quotes[symbol] = q
	cb := f.onUpdate
	f.mu.Unlock()

	if cb != nil {
		cb(q)
	}
	return nil
}

// Get 查询报价
func (f *Feed) Get(symbol string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[symbol]
	return q, ok
}

// All 所有报价
func (f *Feed) All() map[string]Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Quote, len(f.quotes))
	for k, v := range f.quotes {
		out[k] = v
	}
	return out
}

// OnUpdate 设置更新回调
func (f *Feed) OnUpdate(cb func(q Quote)) {
	f.mu.Lock()
	f.onUpdate = cb
	f.mu.Unlock()
}

// Oracle 绑定单一品种
func (f *Feed) Oracle(symbol string) PriceOracle {
	return feedOracle{feed: f, symbol: symbol}
}

type feedOracle struct {
	feed   *Feed
	symbol string
}

func (o feedOracle) LatestPrice(context.Context) (decimal.Decimal, int32, error) {
	q, ok := o.feed.Get(o.symbol)
	if !ok {
		return decimal.Zero, 0, ErrNoPrice
	}
	return q.Price, q.Decimals, nil
}
