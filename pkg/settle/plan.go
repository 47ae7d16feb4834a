// 文件: pkg/settle/plan.go
// 托管结算计划 (多腿原子结算)
//
// 期权行权、挂单成交都要跨两个独立账本完成多笔划转，
// 账本之间没有事务，只能靠"补偿"实现全有或全无:
//
//  1. Pull:    从对手方拉入托管地址 (失败回滚时原路退回)
//  2. Step:    其它可能失败的动作 (如转移持有权)，最多一个不可补偿
//  3. 预检:    检查托管地址余额覆盖所有 Release
//  4. Release: 从托管地址放款
//
// 托管地址从不对外授权，预检通过后只有本实例能动它的余额，
// 因此 Release 不会失败。

package settle

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/asset"
)

// Clock 时间源 (测试注入假时钟)
type Clock func() time.Time

// =============================================================================
// Plan
// =============================================================================

type stepKind uint8

const (
	kindStep stepKind = iota
	kindRelease
)

// Step 计划中的一步
type Step struct {
	Name string
	Do   func() error
	Undo func() error // 可为 nil (不可补偿)

	kind      stepKind
	ledger    asset.Ledger
	custodian common.Address
	amount    decimal.Decimal
}

// Plan 有序结算步骤
type Plan struct {
	steps []Step
}

// NewPlan 创建空计划
func NewPlan() *Plan {
	return &Plan{}
}

// Add 添加普通步骤
func (p *Plan) Add(name string, do, undo func() error) *Plan {
	p.steps = append(p.steps, Step{Name: name, Do: do, Undo: undo, kind: kindStep})
	return p
}

// Pull 从 owner 拉取 amount 到托管地址 (需要 owner 事先授权给 custodian)
func (p *Plan) Pull(name string, l asset.Ledger, custodian, owner common.Address, amount decimal.Decimal) *Plan {
	return p.Add(name,
		func() error {
			return Transfer(name, l.TransferFrom(custodian, owner, custodian, amount))
		},
		func() error {
			return l.Transfer(custodian, owner, amount)
		},
	)
}

// Release 从托管地址放款给 to
func (p *Plan) Release(name string, l asset.Ledger, custodian, to common.Address, amount decimal.Decimal) *Plan {
	p.steps = append(p.steps, Step{
		Name: name,
		Do: func() error {
			return Transfer(name, l.Transfer(custodian, to, amount))
		},
		kind:      kindRelease,
		ledger:    l,
		custodian: custodian,
		amount:    amount,
	})
	return p
}

// Len 步骤数
func (p *Plan) Len() int {
	return len(p.steps)
}

// Run 执行计划
//
// 任一步失败: 逆序执行已完成步骤的 Undo，返回原始错误 (补偿失败会一并 Join)
func (p *Plan) Run() error {
	checked := false
	for i, s := range p.steps {
		if s.kind == kindRelease && !checked {
			if err := p.preflight(); err != nil {
				return p.rollback(i, err)
			}
			checked = true
		}
		if err := s.Do(); err != nil {
			return p.rollback(i, err)
		}
	}
	return nil
}

// rollback 逆序补偿 [0, failedAt)
func (p *Plan) rollback(failedAt int, cause error) error {
	errs := []error{cause}
	for i := failedAt - 1; i >= 0; i-- {
		undo := p.steps[i].Undo
		if undo == nil {
			continue
		}
		if err := undo(); err != nil {
			errs = append(errs, fmt.Errorf("undo %s: %w", p.steps[i].Name, err))
		}
	}
	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}

// preflight 汇总每个 (账本, 托管地址) 的放款总额并检查余额
func (p *Plan) preflight() error {
	type need struct {
		ledger    asset.Ledger
		custodian common.Address
		total     decimal.Decimal
	}
	var needs []*need

	for _, s := range p.steps {
		if s.kind != kindRelease {
			continue
		}
		var found *need
		for _, n := range needs {
			if n.ledger == s.ledger && n.custodian == s.custodian {
				found = n
				break
			}
		}
		if found == nil {
			found = &need{ledger: s.ledger, custodian: s.custodian, total: decimal.Zero}
			needs = append(needs, found)
		}
		found.total = found.total.Add(s.amount)
	}

	for _, n := range needs {
		if bal := n.ledger.BalanceOf(n.custodian); bal.LessThan(n.total) {
			return fmt.Errorf("%w: %s custody %s holds %s, needs %s",
				ErrCustodyShortfall, n.ledger.Symbol(), n.custodian.Hex(), bal, n.total)
		}
	}
	return nil
}
