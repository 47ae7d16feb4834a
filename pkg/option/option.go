// 文件: pkg/option/option.go
// 期权合约 - 单实例状态机
//
// 状态流转:
//
//	Created -> Inited -> Sold -> Exercised
//	   |          |        \--> LapsedWithdrawn (到期后 writer 取回)
//	   \----------+--> Cancelled (未售出时 writer 撤销)
//
// 规则:
// 1. 每个操作显式传入 caller, 与 writer/holder 比较
// 2. 状态标志先于任何对外划转修改, 划转失败时恢复
//    划转在锁外执行, 期间的重入变更返回 ErrSettling
// 3. 多腿结算走 settle.Plan, 要么全部完成, 要么全部不发生
// 4. 实例之间不共享可变状态, 实例内部用自己的锁串行化

package option

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
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/logx"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/oracle"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/settle"
)

// Params 构造参数
type Params struct {
	ID      int64
	Address common.Address // 托管地址, writer/holder 对它授权
	Kind    Kind

	Underlying asset.Ledger
	Quote      asset.Ledger
	Oracle     oracle.PriceOracle

	Writer      common.Address
	Premium     decimal.Decimal // 报价资产最小单位
	StrikePrice decimal.Decimal // 预言机精度
	Quantity    decimal.Decimal // 标的最小单位
	Expiry      time.Time

	Clock     settle.Clock
	Publisher event.Publisher
	Logger    *logrus.Entry
}

// Option 期权合约
type Option struct {
	id      int64
	address common.Address
	kind    Kind

	underlying asset.Ledger
	quote      asset.Ledger

	writer         common.Address
	strikePrice    decimal.Decimal
	quantity       decimal.Decimal
	strikeValue    decimal.Decimal
	oracleDecimals int32
	expiry         time.Time
	createdAt      time.Time

	mu       sync.Mutex
	holder   common.Address
	premium  decimal.Decimal
	inited   bool
	executed bool
	outcome  Status // executed 之后的终态
	settling bool   // 锁外划转进行中

	now       settle.Clock
	publisher event.Publisher
	log       *logrus.Entry
}

// New 创建期权
//
// 查询一次预言机精度并缓存 strikeValue, 之后不再重新定价
func New(ctx context.Context, p Params) (*Option, error) {
	if !p.Kind.Valid() {
		return nil, ErrInvalidKind
	}
	if p.Underlying == nil || p.Quote == nil {
		return nil, ErrMissingLedger
	}
	if p.Oracle == nil {
		return nil, ErrMissingOracle
	}
	if p.Writer == (common.Address{}) || p.Address == (common.Address{}) {
		return nil, settle.ErrZeroAddress
	}
	if p.Premium.Sign() <= 0 || !p.Premium.IsInteger() {
		return nil, ErrZeroPremium
	}
	if p.StrikePrice.Sign() <= 0 || !p.StrikePrice.IsInteger() {
		return nil, ErrZeroStrikePrice
	}
	if p.Quantity.Sign() <= 0 || !p.Quantity.IsInteger() {
		return nil, ErrZeroQuantity
	}

	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	if !p.Expiry.After(now) {
		return nil, ErrExpiryInPast
	}

	_, oracleDec, err := p.Oracle.LatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	sv, err := StrikeValue(p.Quantity, p.StrikePrice, p.Underlying.Decimals(), p.Quote.Decimals(), oracleDec)
	if err != nil {
		return nil, err
	}

	o := &Option{
		id:             p.ID,
		address:        p.Address,
		kind:           p.Kind,
		underlying:     p.Underlying,
		quote:          p.Quote,
		writer:         p.Writer,
		strikePrice:    p.StrikePrice,
		quantity:       p.Quantity,
		strikeValue:    sv,
		oracleDecimals: oracleDec,
		expiry:         p.Expiry,
		createdAt:      now,
		premium:        p.Premium,
		now:            clock,
		publisher:      event.OrNop(p.Publisher),
	}
	o.log = logx.OrDiscard(p.Logger).WithFields(logrus.Fields{
		"option_id": p.ID,
		"option":    p.Address.Hex(),
		"kind":      p.Kind.String(),
	})

	o.finish(ctx, "create", p.Writer, o.newEvent(event.OptionCreated, p.Writer).
		With("strike_value", sv.String()).
		With("premium", p.Premium.String()), nil)
	return o, nil
}

// RestoreParams 重建参数
type RestoreParams struct {
	Snapshot   Snapshot
	Underlying asset.Ledger
	Quote      asset.Ledger
	Clock      settle.Clock
	Publisher  event.Publisher
	Logger     *logrus.Entry
}

// Restore 按持久化快照重建期权 (进程重启)
//
// strikeValue 与预言机精度取自快照, 不查询预言机, 不发事件
func Restore(p RestoreParams) (*Option, error) {
	s := p.Snapshot
	if !s.Kind.Valid() {
		return nil, ErrInvalidKind
	}
	if p.Underlying == nil || p.Quote == nil {
		return nil, ErrMissingLedger
	}
	if !strings.EqualFold(p.Underlying.Symbol(), s.Underlying) || p.Underlying.Decimals() != s.UnderlyingDecimals ||
		!strings.EqualFold(p.Quote.Symbol(), s.Quote) || p.Quote.Decimals() != s.QuoteDecimals {
		return nil, ErrLedgerMismatch
	}
	if s.Writer == (common.Address{}) || s.Address == (common.Address{}) {
		return nil, settle.ErrZeroAddress
	}
	if s.StrikeValue.Sign() <= 0 || s.Quantity.Sign() <= 0 {
		return nil, ErrZeroStrikeValue
	}
	var outcome Status
	if s.Executed {
		if !s.Status.Terminal() {
			return nil, fmt.Errorf("%w: executed with status %q", ErrInvalidSnapshot, s.Status)
		}
		outcome = s.Status
	}

	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	o := &Option{
		id:             s.ID,
		address:        s.Address,
		kind:           s.Kind,
		underlying:     p.Underlying,
		quote:          p.Quote,
		writer:         s.Writer,
		strikePrice:    s.StrikePrice,
		quantity:       s.Quantity,
		strikeValue:    s.StrikeValue,
		oracleDecimals: s.OracleDecimals,
		expiry:         s.Expiry,
		createdAt:      s.CreatedAt,
		holder:         s.Holder,
		premium:        s.Premium,
		inited:         s.Inited,
		executed:       s.Executed,
		outcome:        outcome,
		now:            clock,
		publisher:      event.OrNop(p.Publisher),
	}
	o.log = logx.OrDiscard(p.Logger).WithFields(logrus.Fields{
		"option_id": s.ID,
		"option":    s.Address.Hex(),
		"kind":      s.Kind.String(),
	})
	return o, nil
}

// =============================================================================
// 资产角色
// =============================================================================

// collateral writer 存入、由本合约托管的资产
func (o *Option) collateral() (asset.Ledger, decimal.Decimal) {
	if o.kind == Call {
		return o.underlying, o.quantity
	}
	return o.quote, o.strikeValue
}

// delivery 行权时 holder 交付给 writer 的资产
func (o *Option) delivery() (asset.Ledger, decimal.Decimal) {
	if o.kind == Call {
		return o.quote, o.strikeValue
	}
	return o.underlying, o.quantity
}

// =============================================================================
// 操作
// =============================================================================

// Init writer 存入抵押品 (只能一次)
func (o *Option) Init(ctx context.Context, caller common.Address) error {
	ev, err := o.init(caller)
	return o.finish(ctx, "init", caller, ev, err)
}

func (o *Option) init(caller common.Address) (*event.Event, error) {
	err := o.begin(func() error {
		if caller != o.writer {
			return ErrNotWriter
		}
		if o.executed {
			return ErrAlreadyExecuted
		}
		if o.inited {
			return ErrAlreadyInitialized
		}
		o.inited = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	l, amt := o.collateral()
	err = o.commit(settle.NewPlan().
		Pull("deposit collateral", l, o.address, o.writer, amt),
		func() { o.inited = false })
	if err != nil {
		return nil, err
	}
	return o.newEvent(event.OptionInited, caller).
		With("collateral_asset", l.Symbol()).
		With("collateral", amt.String()), nil
}

// Buy 任何人支付 premium 成为 holder (premium 直接付给 writer, 不托管)
func (o *Option) Buy(ctx context.Context, caller common.Address) error {
	ev, err := o.buy(caller)
	return o.finish(ctx, "buy", caller, ev, err)
}

func (o *Option) buy(caller common.Address) (*event.Event, error) {
	var premium decimal.Decimal
	err := o.begin(func() error {
		if !o.inited {
			return ErrNotInited
		}
		if o.executed {
			return ErrAlreadyExecuted
		}
		if o.holder != (common.Address{}) {
			return ErrAlreadyBought
		}
		if o.now().After(o.expiry) {
			return ErrExpired
		}
		if caller == (common.Address{}) {
			return settle.ErrZeroAddress
		}
		o.holder, premium = caller, o.premium
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.commit(settle.NewPlan().
		Add("pay premium", func() error {
			return settle.Transfer("pay premium", o.quote.TransferFrom(o.address, caller, o.writer, premium))
		}, nil),
		func() { o.holder = common.Address{} })
	if err != nil {
		return nil, err
	}
	return o.newEvent(event.OptionBought, caller).
		With("holder", caller.Hex()).
		With("premium", premium.String()), nil
}

// AdjustPremium writer 在售出前修改 premium
func (o *Option) AdjustPremium(ctx context.Context, caller common.Address, premium decimal.Decimal) error {
	ev, err := o.adjustPremium(caller, premium)
	return o.finish(ctx, "adjust premium", caller, ev, err)
}

func (o *Option) adjustPremium(caller common.Address, premium decimal.Decimal) (*event.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.settling {
		return nil, ErrSettling
	}
	if caller != o.writer {
		return nil, ErrNotWriter
	}
	if o.executed {
		return nil, ErrAlreadyExecuted
	}
	if o.holder != (common.Address{}) {
		return nil, ErrAlreadySold
	}
	if premium.Sign() <= 0 || !premium.IsInteger() {
		return nil, ErrZeroPremium
	}

	old := o.premium
	o.premium = premium
	return o.newEvent(event.OptionPremiumAdjusted, caller).
		With("old_premium", old.String()).
		With("premium", premium.String()), nil
}

// Transfer holder 把行权权转给 to (无对价; 挂单托管也走这里)
func (o *Option) Transfer(ctx context.Context, caller, to common.Address) error {
	ev, err := o.transfer(caller, to)
	return o.finish(ctx, "transfer", caller, ev, err)
}

func (o *Option) transfer(caller, to common.Address) (*event.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.settling {
		return nil, ErrSettling
	}
	if o.holder == (common.Address{}) || caller != o.holder {
		return nil, ErrNotHolder
	}
	if o.executed {
		return nil, ErrAlreadyExecuted
	}
	if to == (common.Address{}) {
		return nil, settle.ErrZeroAddress
	}

	from := o.holder
	o.holder = to
	return o.newEvent(event.OptionTransferred, caller).
		With("from", from.Hex()).
		With("to", to.Hex()), nil
}

// Cancel 未售出时 writer 撤销, 退回抵押品 (与时间无关)
func (o *Option) Cancel(ctx context.Context, caller common.Address) error {
	ev, err := o.cancel(caller)
	return o.finish(ctx, "cancel", caller, ev, err)
}

func (o *Option) cancel(caller common.Address) (*event.Event, error) {
	var inited bool
	err := o.begin(func() error {
		// 已售出/已终结时无论谁调用都是状态错误
		if o.executed {
			return ErrAlreadyExecuted
		}
		if o.holder != (common.Address{}) {
			return ErrAlreadySold
		}
		if caller != o.writer {
			return ErrNotWriter
		}
		o.executed, o.outcome = true, StatusCancelled
		inited = o.inited
		return nil
	})
	if err != nil {
		return nil, err
	}

	plan := settle.NewPlan()
	l, amt := o.collateral()
	if inited {
		plan.Release("return collateral", l, o.address, o.writer, amt)
	}
	if err := o.commit(plan, func() { o.executed, o.outcome = false, "" }); err != nil {
		return nil, err
	}
	ev := o.newEvent(event.OptionCancelled, caller)
	if inited {
		ev.With("returned", amt.String())
	}
	return ev, nil
}

// Execute holder 在到期前 (含到期时刻) 行权
//
// CALL: holder 付 strikeValue 报价资产给 writer, 合约放出 quantity 标的给 holder
// PUT:  holder 交 quantity 标的给 writer, 合约放出 strikeValue 报价资产给 holder
func (o *Option) Execute(ctx context.Context, caller common.Address) error {
	ev, err := o.execute(caller)
	return o.finish(ctx, "execute", caller, ev, err)
}

func (o *Option) execute(caller common.Address) (*event.Event, error) {
	var holder common.Address
	err := o.begin(func() error {
		if o.holder == (common.Address{}) || caller != o.holder {
			return ErrNotHolder
		}
		if o.executed {
			return ErrAlreadyExecuted
		}
		if o.now().After(o.expiry) {
			return ErrExpired
		}
		o.executed, o.outcome = true, StatusExercised
		holder = o.holder
		return nil
	})
	if err != nil {
		return nil, err
	}

	colLedger, colAmt := o.collateral()
	delLedger, delAmt := o.delivery()

	// holder 交付先进托管, 失败原路退回; 之后两笔放款都从托管地址出
	err = o.commit(settle.NewPlan().
		Pull("collect delivery", delLedger, o.address, holder, delAmt).
		Release("pay out collateral", colLedger, o.address, holder, colAmt).
		Release("settle writer", delLedger, o.address, o.writer, delAmt),
		func() { o.executed, o.outcome = false, "" })
	if err != nil {
		return nil, err
	}
	return o.newEvent(event.OptionExercised, caller).
		With("holder", holder.Hex()).
		With("delivered", delAmt.String()).
		With("paid_out", colAmt.String()), nil
}

// Withdraw 到期后 holder 未行权, writer 取回抵押品
func (o *Option) Withdraw(ctx context.Context, caller common.Address) error {
	ev, err := o.withdraw(caller)
	return o.finish(ctx, "withdraw", caller, ev, err)
}

func (o *Option) withdraw(caller common.Address) (*event.Event, error) {
	err := o.begin(func() error {
		if caller != o.writer {
			return ErrNotWriter
		}
		if o.executed {
			return ErrAlreadyExecuted
		}
		if !o.now().After(o.expiry) {
			return ErrNotExpiredYet
		}
		if o.holder == (common.Address{}) {
			return ErrNoHolder
		}
		o.executed, o.outcome = true, StatusLapsedWithdrawn
		return nil
	})
	if err != nil {
		return nil, err
	}

	l, amt := o.collateral()
	err = o.commit(settle.NewPlan().
		Release("return collateral", l, o.address, o.writer, amt),
		func() { o.executed, o.outcome = false, "" })
	if err != nil {
		return nil, err
	}
	return o.newEvent(event.OptionWithdrawn, caller).
		With("returned", amt.String()), nil
}

// begin 加锁检查并翻转状态; 成功后进入结算中, 直到 commit
func (o *Option) begin(flip func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.settling {
		return ErrSettling
	}
	if err := flip(); err != nil {
		return err
	}
	o.settling = true
	return nil
}

// commit 锁外执行划转, 失败时加锁回滚
//
// 划转期间账本回调可以重入查询, 看到的是已翻转的状态; 变更操作返回 ErrSettling
func (o *Option) commit(plan *settle.Plan, rollback func()) error {
	err := plan.Run()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settling = false
	if err != nil {
		rollback()
	}
	return err
}

// =============================================================================
// 事件 / 日志
// =============================================================================

func (o *Option) newEvent(typ event.Type, actor common.Address) *event.Event {
	return event.New(typ, o.id, o.address, actor, o.now())
}

// finish 在锁外记录日志并发布事件; 发布失败不影响已完成的状态变化
func (o *Option) finish(ctx context.Context, op string, caller common.Address, ev *event.Event, err error) error {
	entry := o.log.WithFields(logrus.Fields{"op": op, "caller": caller.Hex()})
	if err != nil {
		entry.WithError(err).Warn("[Option] rejected")
		return err
	}
	entry.Info("[Option] ok")
	if ev != nil {
		if perr := o.publisher.Publish(ctx, ev); perr != nil {
			entry.WithError(perr).Error("[Option] publish event failed")
		}
	}
	return nil
}

// =============================================================================
// 查询
// =============================================================================

func (o *Option) ID() int64                    { return o.id }
func (o *Option) Address() common.Address      { return o.address }
func (o *Option) Kind() Kind                   { return o.kind }
func (o *Option) Writer() common.Address       { return o.writer }
func (o *Option) Underlying() asset.Ledger     { return o.underlying }
func (o *Option) Quote() asset.Ledger          { return o.quote }
func (o *Option) StrikePrice() decimal.Decimal { return o.strikePrice }
func (o *Option) Quantity() decimal.Decimal    { return o.quantity }
func (o *Option) StrikeValue() decimal.Decimal { return o.strikeValue }
func (o *Option) Expiry() time.Time            { return o.expiry }
func (o *Option) CreatedAt() time.Time         { return o.createdAt }

// Holder 当前 holder, 零地址表示尚未售出
func (o *Option) Holder() common.Address {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.holder
}

// Premium 当前 premium
func (o *Option) Premium() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.premium
}

// Inited 是否已存入抵押品
func (o *Option) Inited() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inited
}

// Executed 是否已终结
func (o *Option) Executed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.executed
}

// Status 当前状态
func (o *Option) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Option) statusLocked() Status {
	switch {
	case o.executed:
		return o.outcome
	case o.holder != (common.Address{}):
		return StatusSold
	case o.inited:
		return StatusInited
	default:
		return StatusCreated
	}
}

// Collateral 抵押资产及数量
func (o *Option) Collateral() (asset.Ledger, decimal.Decimal) {
	return o.collateral()
}

// Snapshot 只读快照 (持久化/接口输出)
type Snapshot struct {
	ID                 int64           `json:"id"`
	Address            common.Address  `json:"address"`
	Kind               Kind            `json:"kind"`
	Underlying         string          `json:"underlying"`
	UnderlyingDecimals int32           `json:"underlying_decimals"`
	Quote              string          `json:"quote"`
	QuoteDecimals      int32           `json:"quote_decimals"`
	OracleDecimals     int32           `json:"oracle_decimals"`
	Writer             common.Address  `json:"writer"`
	Holder             common.Address  `json:"holder"`
	Premium            decimal.Decimal `json:"premium"`
	StrikePrice        decimal.Decimal `json:"strike_price"`
	Quantity           decimal.Decimal `json:"quantity"`
	StrikeValue        decimal.Decimal `json:"strike_value"`
	Expiry             time.Time       `json:"expiry"`
	CreatedAt          time.Time       `json:"created_at"`
	Inited             bool            `json:"inited"`
	Executed           bool            `json:"executed"`
	Status             Status          `json:"status"`
}

// Snapshot 取快照
func (o *Option) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		ID:                 o.id,
		Address:            o.address,
		Kind:               o.kind,
		Underlying:         o.underlying.Symbol(),
		UnderlyingDecimals: o.underlying.Decimals(),
		Quote:              o.quote.Symbol(),
		QuoteDecimals:      o.quote.Decimals(),
		OracleDecimals:     o.oracleDecimals,
		Writer:             o.writer,
		Holder:             o.holder,
		Premium:            o.premium,
		StrikePrice:        o.strikePrice,
		Quantity:           o.quantity,
		StrikeValue:        o.strikeValue,
		Expiry:             o.expiry,
		CreatedAt:          o.createdAt,
		Inited:             o.inited,
		Executed:           o.executed,
		Status:             o.statusLocked(),
	}
}
