// 文件: pkg/asset/asset.go
// 资产账本 - 可替代代币 (approve/transferFrom 语义)
//
// 期权/挂单从不自己实现托管逻辑，只通过 Ledger 接口划转资产:
// - TransferFrom: 需要 owner 事先 Approve 给 spender
// - Transfer:     from 直接转给 recipient
//
// 所有金额为资产最小单位的非负整数 (18 位精度的代币会超出 int64，因此用 decimal)

package asset

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrZeroAddress           = errors.New("zero address")
)

// =============================================================================
// Ledger 接口
// =============================================================================

// Ledger 单一资产的账本
type Ledger interface {
	Symbol() string
	Decimals() int32
	BalanceOf(owner common.Address) decimal.Decimal
	TransferFrom(spender, owner, recipient common.Address, amount decimal.Decimal) error
	Transfer(from, recipient common.Address, amount decimal.Decimal) error
}

// Movement 一次余额变动 (用于流水/事件)
type Movement struct {
	Seq     uint64
	Type    WALEntryType
	Symbol  string
	Spender common.Address
	From    common.Address
	To      common.Address
	Amount  decimal.Decimal
}

// =============================================================================
// Token - 内存账本实现
// =============================================================================

// TokenConfig 账本配置
type TokenConfig struct {
	Symbol   string
	Decimals int32
	WAL      *WAL             // 可选，启用后先写 WAL 再改内存
	OnChange func(m Movement) // 可选，变动回调 (在锁外调用)
}

// Token 代币账本
type Token struct {
	symbol   string
	decimals int32

	mu         sync.RWMutex
	balances   map[common.Address]decimal.Decimal
	allowances map[common.Address]map[common.Address]decimal.Decimal // owner -> spender -> amount
	supply     decimal.Decimal
	seq        uint64

	wal      *WAL
	onChange func(m Movement)
}

var _ Ledger = (*Token)(nil)

// NewToken 创建账本
func NewToken(cfg TokenConfig) *Token {
	return &Token{
		symbol:     cfg.Symbol,
		decimals:   cfg.Decimals,
		balances:   make(map[common.Address]decimal.Decimal),
		allowances: make(map[common.Address]map[common.Address]decimal.Decimal),
		supply:     decimal.Zero,
		wal:        cfg.WAL,
		onChange:   cfg.OnChange,
	}
}

// Symbol 资产符号
func (t *Token) Symbol() string { return t.symbol }

// Decimals 资产精度
func (t *Token) Decimals() int32 { return t.decimals }

// Unit 一个完整单位对应的最小单位数量 (10^decimals)
func (t *Token) Unit() decimal.Decimal {
	return decimal.New(1, t.decimals)
}

// BalanceOf 查询余额
func (t *Token) BalanceOf(owner common.Address) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceLocked(owner)
}

// Allowance 查询授权额度
func (t *Token) Allowance(owner, spender common.Address) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowanceLocked(owner, spender)
}

// TotalSupply 总发行量
func (t *Token) TotalSupply() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply
}

// =============================================================================
// 写操作
// =============================================================================

// Mint 增发 (充值入账)
func (t *Token) Mint(to common.Address, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	return t.apply(&WALEntry{Type: WALMint, To: to, Amount: amount})
}

// Approve 设置 spender 可从 owner 划走的额度 (覆盖旧值，0 表示撤销)
func (t *Token) Approve(owner, spender common.Address, amount decimal.Decimal) error {
	if amount.Sign() < 0 || !amount.IsInteger() {
		return ErrInvalidAmount
	}
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	return t.apply(&WALEntry{Type: WALApprove, From: owner, Spender: spender, Amount: amount})
}

// Transfer 直接转账 from -> recipient
func (t *Token) Transfer(from, recipient common.Address, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	return t.apply(&WALEntry{Type: WALTransfer, From: from, To: recipient, Amount: amount})
}

// TransferFrom 授权转账: spender 从 owner 划 amount 给 recipient
func (t *Token) TransferFrom(spender, owner, recipient common.Address, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	return t.apply(&WALEntry{Type: WALTransferFrom, Spender: spender, From: owner, To: recipient, Amount: amount})
}

// apply 校验 -> 写 WAL -> 改内存 -> 回调
func (t *Token) apply(entry *WALEntry) error {
	t.mu.Lock()
	if err := t.check(entry); err != nil {
		t.mu.Unlock()
		return err
	}
	if t.wal != nil {
		entry.Symbol = t.symbol
		if err := t.wal.Write(entry); err != nil {
			t.mu.Unlock()
			return err
		}
	}
	t.mutate(entry)
	t.seq++
	m := Movement{
		Seq:     t.seq,
		Type:    entry.Type,
		Symbol:  t.symbol,
		Spender: entry.Spender,
		From:    entry.From,
		To:      entry.To,
		Amount:  entry.Amount,
	}
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(m)
	}
	return nil
}

// check 只读校验，不修改状态
func (t *Token) check(e *WALEntry) error {
	switch e.Type {
	case WALTransfer:
		if t.balanceLocked(e.From).LessThan(e.Amount) {
			return ErrInsufficientBalance
		}
	case WALTransferFrom:
		if t.allowanceLocked(e.From, e.Spender).LessThan(e.Amount) {
			return ErrInsufficientAllowance
		}
		if t.balanceLocked(e.From).LessThan(e.Amount) {
			return ErrInsufficientBalance
		}
	}
	return nil
}

// mutate 修改内存状态 (调用前已 check)
func (t *Token) mutate(e *WALEntry) {
	switch e.Type {
	case WALMint:
		t.balances[e.To] = t.balanceLocked(e.To).Add(e.Amount)
		t.supply = t.supply.Add(e.Amount)
	case WALApprove:
		spenders, ok := t.allowances[e.From]
		if !ok {
			spenders = make(map[common.Address]decimal.Decimal)
			t.allowances[e.From] = spenders
		}
		spenders[e.Spender] = e.Amount
	case WALTransfer:
		t.move(e.From, e.To, e.Amount)
	case WALTransferFrom:
		t.allowances[e.From][e.Spender] = t.allowanceLocked(e.From, e.Spender).Sub(e.Amount)
		t.move(e.From, e.To, e.Amount)
	}
}

func (t *Token) move(from, to common.Address, amount decimal.Decimal) {
	t.balances[from] = t.balanceLocked(from).Sub(amount)
	t.balances[to] = t.balanceLocked(to).Add(amount)
}

func (t *Token) balanceLocked(owner common.Address) decimal.Decimal {
	if bal, ok := t.balances[owner]; ok {
		return bal
	}
	return decimal.Zero
}

func (t *Token) allowanceLocked(owner, spender common.Address) decimal.Decimal {
	if spenders, ok := t.allowances[owner]; ok {
		if amt, ok := spenders[spender]; ok {
			return amt
		}
	}
	return decimal.Zero
}

// =============================================================================
// 恢复
// =============================================================================

// Recover 从 WAL 重放 (启动时调用，不触发回调)
func (t *Token) Recover() (uint64, error) {
	if t.wal == nil {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.wal.Recover(func(e *WALEntry) error {
		if e.Symbol != "" && e.Symbol != t.symbol {
			return nil
		}
		if err := t.check(e); err != nil {
			return err
		}
		t.mutate(e)
		t.seq++
		return nil
	})
}

// =============================================================================
// 辅助
// =============================================================================

func validAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 || !amount.IsInteger() {
		return ErrInvalidAmount
	}
	return nil
}
