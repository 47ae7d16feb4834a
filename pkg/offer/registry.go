// 文件: pkg/offer/registry.go
// 挂单注册表: 创建与枚举挂单, 本身不参与结算

package offer

import (
	"context"
	"fmt"
	"strconv"
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
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/settle"
)

// ErrOfferNotFound 挂单不存在
var ErrOfferNotFound = settle.New(settle.ClassValue, "offer not found")

// Store 挂单持久化 (可选)
type Store interface {
	// SaveOffer 按 ID 插入或更新
	SaveOffer(ctx context.Context, s Snapshot) error

	// ListOffers 按 ID 升序
	ListOffers(ctx context.Context) ([]Snapshot, error)
}

// RegistryConfig 注册表配置
type RegistryConfig struct {
	Quote     asset.Ledger // 进程共用的报价资产
	IDs       *ident.Generator
	Clock     settle.Clock
	Publisher event.Publisher
	Store     Store // 可选, 为空时只在内存
	Logger    *logrus.Entry
}

// Registry 挂单注册表
type Registry struct {
	quote     asset.Ledger
	ids       *ident.Generator
	clock     settle.Clock
	publisher event.Publisher
	store     Store
	log       *logrus.Entry

	createMu sync.Mutex // 串行化地址分配与回退

	mu       sync.RWMutex
	offers   []*Offer // 插入顺序
	byID     map[int64]*Offer
	byAddr   map[common.Address]*Offer
	byOption map[int64][]*Offer
}

// NewRegistry 创建
func NewRegistry(cfg RegistryConfig) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	r := &Registry{
		quote:    cfg.Quote,
		ids:      cfg.IDs,
		clock:    clock,
		store:    cfg.Store,
		log:      logx.OrDiscard(cfg.Logger).WithField("component", "offer-registry"),
		byID:     make(map[int64]*Offer),
		byAddr:   make(map[common.Address]*Offer),
		byOption: make(map[int64][]*Offer),
	}
	r.publisher = event.OrNop(cfg.Publisher)
	if r.store != nil {
		// 挂单事件先写回存储, 再交给外部发布者
		r.publisher = event.Multi{event.PublisherFunc(r.persist), r.publisher}
	}
	return r
}

// persist 挂单事件 -> 最新快照
func (r *Registry) persist(ctx context.Context, e *event.Event) error {
	if !strings.HasPrefix(string(e.Type), "OFFER_") {
		return nil
	}
	o, err := r.Get(e.SubjectID)
	if err != nil {
		return nil
	}
	return r.store.SaveOffer(ctx, o.Snapshot())
}

// Resume 进程重启后按存储重建挂单, 并把地址 nonce 推进到已用地址之后
//
// lookup 按期权 ID 找回行权权
func (r *Registry) Resume(ctx context.Context, lookup func(optionID int64) (Right, error)) error {
	if r.store == nil {
		return nil
	}
	snaps, err := r.store.ListOffers(ctx)
	if err != nil {
		return err
	}

	used := make([]common.Address, 0, len(snaps))
	restored := 0
	for _, s := range snaps {
		used = append(used, s.Address)
		if _, err := r.Get(s.ID); err == nil {
			continue
		}
		right, err := lookup(s.OptionID)
		if err != nil {
			return fmt.Errorf("restore offer %d: %w", s.ID, err)
		}
		o, err := Restore(RestoreParams{
			Snapshot:  s,
			Right:     right,
			Quote:     r.quote,
			Clock:     r.clock,
			Publisher: r.publisher,
			Logger:    r.log,
		})
		if err != nil {
			return fmt.Errorf("restore offer %d: %w", s.ID, err)
		}
		r.add(o)
		restored++
	}
	if err := r.ids.ResumeFrom(used); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"offers": restored,
		"nonce":  r.ids.Nonce(),
	}).Info("[OfferRegistry] resumed")
	return nil
}

// CreateOffer 当前 holder 挂单出售行权权
//
// 挂单本身不转移行权权, seller 需另行 Transfer 给挂单地址
func (r *Registry) CreateOffer(ctx context.Context, caller common.Address, right Right, ask decimal.Decimal) (*Offer, error) {
	if right == nil {
		return nil, ErrMissingRight
	}
	if ask.Sign() <= 0 || !ask.IsInteger() {
		return nil, ErrZeroAsk
	}
	if right.Executed() {
		return nil, ErrOptionExecuted
	}
	if r.clock().After(right.Expiry()) {
		return nil, ErrOptionExpired
	}
	if holder := right.Holder(); holder == (common.Address{}) || holder != caller {
		return nil, ErrNotHolder
	}

	r.createMu.Lock()
	nonce := r.ids.Nonce()
	id, addr := r.ids.Next()
	o, err := New(Params{
		ID:        id,
		Address:   addr,
		Right:     right,
		Seller:    caller,
		Ask:       ask,
		Quote:     r.quote,
		Clock:     r.clock,
		Publisher: r.publisher,
		Logger:    r.log,
	})
	if err != nil {
		r.ids.Rollback(nonce)
		r.createMu.Unlock()
		return nil, err
	}
	r.add(o)
	r.createMu.Unlock()

	r.log.WithFields(logrus.Fields{
		"offer_id":  id,
		"option_id": right.ID(),
		"seller":    caller.Hex(),
		"ask":       ask.String(),
	}).Info("[OfferRegistry] offer created")

	ev := o.newEvent(event.OfferCreated, caller).
		With("seller", caller.Hex()).
		With("ask", ask.String())
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.log.WithError(err).Error("[OfferRegistry] publish event failed")
	}
	return o, nil
}

func (r *Registry) add(o *Offer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, o)
	r.byID[o.id] = o
	r.byAddr[o.address] = o
	optionID := o.right.ID()
	r.byOption[optionID] = append(r.byOption[optionID], o)
}

// ListOffers 全部挂单 (插入顺序)
func (r *Registry) ListOffers() []*Offer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Offer, len(r.offers))
	copy(out, r.offers)
	return out
}

// Get 按 ID 查询
func (r *Registry) Get(id int64) (*Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return o, nil
}

// GetByAddress 按托管地址查询
func (r *Registry) GetByAddress(addr common.Address) (*Offer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byAddr[addr]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return o, nil
}

// ListByOption 某期权的所有挂单 (插入顺序)
func (r *Registry) ListByOption(optionID int64) []*Offer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.byOption[optionID]
	out := make([]*Offer, len(src))
	copy(out, src)
	return out
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
