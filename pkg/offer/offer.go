// 文件: pkg/offer/offer.go
// 行权权转售挂单 - 单实例托管
//
// 流程:
//  1. holder 通过 Registry 挂单 (记录 seller, ask)
//  2. seller 另行调用 Option.Transfer(挂单地址), 挂单成为托管人
//  3. 任何人 Accept: 付 ask -> 拿到行权权; 或 seller Cancel: 行权权退回
//
// Accept 与 Cancel 互斥且各只能成功一次; 结算在锁外进行, 期间重入返回 ErrSettling

package offer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/asset"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/event"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/logx"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/settle"
)

var (
	ErrNotSeller        = settle.New(settle.ClassAuthorization, "caller is not the seller")
	ErrNotHolder        = settle.New(settle.ClassAuthorization, "caller is not the option holder")
	ErrAlreadyExecuted  = settle.New(settle.ClassState, "offer already executed")
	ErrAlreadyCancelled = settle.New(settle.ClassState, "offer already cancelled")
	ErrOfferCancelled   = settle.New(settle.ClassState, "offer is cancelled")
	ErrNotCustodian     = settle.New(settle.ClassState, "offer does not hold the option right")
	ErrOptionExecuted   = settle.New(settle.ClassState, "option already executed")
	ErrSettling         = settle.New(settle.ClassState, "offer settlement in progress")
	ErrOptionExpired    = settle.New(settle.ClassTiming, "option expired")
	ErrZeroAsk          = settle.New(settle.ClassValue, "ask must be a positive integer")
	ErrMissingRight     = settle.New(settle.ClassValue, "option is required")
)

// Right 可转让的行权权 (*option.Option 实现)
type Right interface {
	ID() int64
	Address() common.Address
	Holder() common.Address
	Executed() bool
	Expiry() time.Time
	Transfer(ctx context.Context, caller, to common.Address) error
}

// Status 挂单状态
type Status string

const (
	StatusListed    Status = "LISTED"
	StatusSold      Status = "SOLD"
	StatusCancelled Status = "CANCELLED"
)

// Params 构造参数
type Params struct {
	ID        int64
	Address   common.Address
	Right     Right
	Seller    common.Address
	Ask       decimal.Decimal
	Quote     asset.Ledger
	Clock     settle.Clock
	Publisher event.Publisher
	Logger    *logrus.Entry
}

// Offer 挂单
type Offer struct {
	id        int64
	address   common.Address
	right     Right
	seller    common.Address
	ask       decimal.Decimal
	quote     asset.Ledger
	createdAt time.Time

	mu        sync.Mutex
	executed  bool
	cancelled bool
	settling  bool // 锁外结算进行中
	buyer     common.Address

	now       settle.Clock
	publisher event.Publisher
	log       *logrus.Entry
}

// New 创建挂单 (一般由 Registry 调用)
func New(p Params) (*Offer, error) {
	if p.Right == nil {
		return nil, ErrMissingRight
	}
	if p.Quote == nil {
		return nil, settle.New(settle.ClassValue, "quote ledger is required")
	}
	if p.Seller == (common.Address{}) || p.Address == (common.Address{}) {
		return nil, settle.ErrZeroAddress
	}
	if p.Ask.Sign() <= 0 || !p.Ask.IsInteger() {
		return nil, ErrZeroAsk
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	o := &Offer{
		id:        p.ID,
		address:   p.Address,
		right:     p.Right,
		seller:    p.Seller,
		ask:       p.Ask,
		quote:     p.Quote,
		createdAt: clock(),
		now:       clock,
		publisher: event.OrNop(p.Publisher),
	}
	o.log = logx.OrDiscard(p.Logger).WithFields(logrus.Fields{
		"offer_id":  p.ID,
		"offer":     p.Address.Hex(),
		"option_id": p.Right.ID(),
	})
	return o, nil
}

// RestoreParams 重建参数
type RestoreParams struct {
	Snapshot  Snapshot
	Right     Right
	Quote     asset.Ledger
	Clock     settle.Clock
	Publisher event.Publisher
	Logger    *logrus.Entry
}

// Restore 按持久化快照重建挂单 (进程重启)
func Restore(p RestoreParams) (*Offer, error) {
	s := p.Snapshot
	if p.Right == nil || p.Right.ID() != s.OptionID {
		return nil, ErrMissingRight
	}
	if p.Quote == nil || !strings.EqualFold(p.Quote.Symbol(), s.Quote) {
		return nil, settle.New(settle.ClassValue, "quote ledger does not match the offer")
	}
	o, err := New(Params{
		ID:        s.ID,
		Address:   s.Address,
		Right:     p.Right,
		Seller:    s.Seller,
		Ask:       s.Ask,
		Quote:     p.Quote,
		Clock:     p.Clock,
		Publisher: p.Publisher,
		Logger:    p.Logger,
	})
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case StatusSold:
		o.executed, o.buyer = true, s.Buyer
	case StatusCancelled:
		o.cancelled = true
	case StatusListed:
	default:
		return nil, settle.New(settle.ClassValue, "unknown offer status "+string(s.Status))
	}
	o.createdAt = s.CreatedAt
	return o, nil
}

// Accept 支付 ask, 取得行权权
//
// 原子: ask 先拉进挂单托管 -> 行权权转给 caller -> ask 放给 seller;
// 行权权转移失败时 ask 原路退回
func (o *Offer) Accept(ctx context.Context, caller common.Address) error {
	ev, err := o.accept(ctx, caller)
	return o.finish(ctx, "accept", caller, ev, err)
}

func (o *Offer) accept(ctx context.Context, caller common.Address) (*event.Event, error) {
	err := o.begin(func() error {
		if o.executed {
			return ErrAlreadyExecuted
		}
		if o.cancelled {
			return ErrOfferCancelled
		}
		if o.right.Executed() {
			return ErrOptionExecuted
		}
		if o.now().After(o.right.Expiry()) {
			return ErrOptionExpired
		}
		if o.right.Holder() != o.address {
			return ErrNotCustodian
		}
		if caller == (common.Address{}) {
			return settle.ErrZeroAddress
		}
		o.executed, o.buyer = true, caller
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.commit(settle.NewPlan().
		Pull("collect ask", o.quote, o.address, caller, o.ask).
		Add("hand over right", func() error {
			return o.right.Transfer(ctx, o.address, caller)
		}, nil).
		Release("pay seller", o.quote, o.address, o.seller, o.ask),
		func() { o.executed, o.buyer = false, common.Address{} })
	if err != nil {
		return nil, err
	}
	return o.newEvent(event.OfferAccepted, caller).
		With("buyer", caller.Hex()).
		With("seller", o.seller.Hex()).
		With("ask", o.ask.String()), nil
}

// Cancel seller 撤单; 若挂单持有行权权则退回 seller
func (o *Offer) Cancel(ctx context.Context, caller common.Address) error {
	ev, err := o.cancel(ctx, caller)
	return o.finish(ctx, "cancel", caller, ev, err)
}

func (o *Offer) cancel(ctx context.Context, caller common.Address) (*event.Event, error) {
	var custody bool
	err := o.begin(func() error {
		// 成交后无论谁调用都是状态错误
		if o.executed {
			return ErrAlreadyExecuted
		}
		if o.cancelled {
			return ErrAlreadyCancelled
		}
		if caller != o.seller {
			return ErrNotSeller
		}
		o.cancelled = true
		custody = o.right.Holder() == o.address && !o.right.Executed()
		return nil
	})
	if err != nil {
		return nil, err
	}

	plan := settle.NewPlan()
	if custody {
		plan.Add("return right", func() error {
			return o.right.Transfer(ctx, o.address, o.seller)
		}, nil)
	}
	if err := o.commit(plan, func() { o.cancelled = false }); err != nil {
		return nil, err
	}
	ev := o.newEvent(event.OfferCancelled, caller)
	if custody {
		ev.With("returned_to", o.seller.Hex())
	}
	return ev, nil
}

// begin 加锁检查并翻转状态; 成功后进入结算中, 直到 commit
func (o *Offer) begin(flip func() error) error {
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

// commit 锁外执行划转与行权权转移, 失败时加锁回滚
func (o *Offer) commit(plan *settle.Plan, rollback func()) error {
	err := plan.Run()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settling = false
	if err != nil {
		rollback()
	}
	return err
}

func (o *Offer) newEvent(typ event.Type, actor common.Address) *event.Event {
	return event.New(typ, o.id, o.address, actor, o.now()).
		With("option_id", formatID(o.right.ID()))
}

func (o *Offer) finish(ctx context.Context, op string, caller common.Address, ev *event.Event, err error) error {
	entry := o.log.WithFields(logrus.Fields{"op": op, "caller": caller.Hex()})
	if err != nil {
		entry.WithError(err).Warn("[Offer] rejected")
		return err
	}
	entry.Info("[Offer] ok")
	if ev != nil {
		if perr := o.publisher.Publish(ctx, ev); perr != nil {
			entry.WithError(perr).Error("[Offer] publish event failed")
		}
	}
	return nil
}

// =============================================================================
// 查询
// =============================================================================

func (o *Offer) ID() int64               { return o.id }
func (o *Offer) Address() common.Address { return o.address }
func (o *Offer) Right() Right            { return o.right }
func (o *Offer) Seller() common.Address  { return o.seller }
func (o *Offer) Ask() decimal.Decimal    { return o.ask }

// Status 当前状态
func (o *Offer) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *Offer) statusLocked() Status {
	switch {
	case o.executed:
		return StatusSold
	case o.cancelled:
		return StatusCancelled
	default:
		return StatusListed
	}
}

// Executed 是否已成交
func (o *Offer) Executed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.executed
}

// Snapshot 只读快照
type Snapshot struct {
	ID        int64           `json:"id"`
	Address   common.Address  `json:"address"`
	OptionID  int64           `json:"option_id"`
	Option    common.Address  `json:"option"`
	Seller    common.Address  `json:"seller"`
	Buyer     common.Address  `json:"buyer"`
	Ask       decimal.Decimal `json:"ask"`
	Quote     string          `json:"quote"`
	InCustody bool            `json:"in_custody"` // 挂单当前是否持有行权权
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Snapshot 取快照
func (o *Offer) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Snapshot{
		ID:        o.id,
		Address:   o.address,
		OptionID:  o.right.ID(),
		Option:    o.right.Address(),
		Seller:    o.seller,
		Buyer:     o.buyer,
		Ask:       o.ask,
		Quote:     o.quote.Symbol(),
		InCustody: o.right.Holder() == o.address,
		Status:    o.statusLocked(),
		CreatedAt: o.createdAt,
	}
}
