// 文件: pkg/settle/settle_test.go

package settle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/asset"
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000C0570")
	payer   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	payee   = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// =============================================================================
// 错误分类
// =============================================================================

func TestError_ClassMatching(t *testing.T) {
	errNotWriter := New(ClassAuthorization, "caller is not the writer")

	assert.ErrorIs(t, errNotWriter, ErrAuthorization)
	assert.NotErrorIs(t, errNotWriter, ErrState)
	assert.Equal(t, ClassAuthorization, ClassOf(errNotWriter))

	wrapped := fmt.Errorf("buy: %w", errNotWriter)
	assert.ErrorIs(t, wrapped, errNotWriter)
	assert.ErrorIs(t, wrapped, ErrAuthorization)
	assert.Equal(t, ClassAuthorization, ClassOf(wrapped))

	// 同类别的两个具体错误互不匹配
	other := New(ClassAuthorization, "caller is not the holder")
	assert.NotErrorIs(t, errNotWriter, other)

	assert.Equal(t, ClassUnknown, ClassOf(errors.New("plain")))
	assert.Equal(t, "TIMING", ClassTiming.String())
}

func TestTransfer_WrapsLedgerError(t *testing.T) {
	assert.NoError(t, Transfer("pay", nil))

	err := Transfer("pay premium", asset.ErrInsufficientAllowance)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, ErrTransfer)
	assert.ErrorIs(t, err, asset.ErrInsufficientAllowance)
	assert.Contains(t, err.Error(), "pay premium")
}

// =============================================================================
// Plan
// =============================================================================

func newLedger(t *testing.T) *asset.Token {
	t.Helper()
	tok := asset.NewToken(asset.TokenConfig{Symbol: "USDT", Decimals: 18})
	require.NoError(t, tok.Mint(payer, d(100)))
	require.NoError(t, tok.Approve(payer, custody, d(100)))
	return tok
}

func TestPlan_PullThenRelease(t *testing.T) {
	tok := newLedger(t)

	err := NewPlan().
		Pull("collect", tok, custody, payer, d(30)).
		Release("pay", tok, custody, payee, d(30)).
		Run()
	require.NoError(t, err)

	assert.True(t, tok.BalanceOf(payer).Equal(d(70)))
	assert.True(t, tok.BalanceOf(payee).Equal(d(30)))
	assert.True(t, tok.BalanceOf(custody).IsZero())
}

func TestPlan_FailedStepRefundsPull(t *testing.T) {
	tok := newLedger(t)
	boom := errors.New("boom")

	err := NewPlan().
		Pull("collect", tok, custody, payer, d(30)).
		Add("hand over", func() error { return boom }, nil).
		Release("pay", tok, custody, payee, d(30)).
		Run()
	require.ErrorIs(t, err, boom)

	assert.True(t, tok.BalanceOf(payer).Equal(d(100)))
	assert.True(t, tok.BalanceOf(custody).IsZero())
	assert.True(t, tok.BalanceOf(payee).IsZero())
}

func TestPlan_SecondPullFailureRefundsFirst(t *testing.T) {
	usdt := newLedger(t)
	weth := asset.NewToken(asset.TokenConfig{Symbol: "WETH", Decimals: 18})
	require.NoError(t, weth.Mint(payee, d(5)))
	// payee 没有授权

	err := NewPlan().
		Pull("collect usdt", usdt, custody, payer, d(30)).
		Pull("collect weth", weth, custody, payee, d(5)).
		Run()
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, asset.ErrInsufficientAllowance)

	assert.True(t, usdt.BalanceOf(payer).Equal(d(100)))
	assert.True(t, usdt.BalanceOf(custody).IsZero())
	assert.True(t, weth.BalanceOf(payee).Equal(d(5)))
}

func TestPlan_PreflightShortfall(t *testing.T) {
	tok := newLedger(t)
	undone := false

	err := NewPlan().
		Add("flag", func() error { return nil }, func() error { undone = true; return nil }).
		Release("pay a", tok, custody, payee, d(1)).
		Run()
	require.ErrorIs(t, err, ErrCustodyShortfall)
	assert.ErrorIs(t, err, ErrState)
	assert.True(t, undone)
	assert.True(t, tok.BalanceOf(payee).IsZero())
}

func TestPlan_PreflightSumsReleasesPerCustodian(t *testing.T) {
	tok := newLedger(t)
	require.NoError(t, tok.Transfer(payer, custody, d(10)))

	// 单笔都够，合计不够: 一笔都不放
	err := NewPlan().
		Release("a", tok, custody, payee, d(6)).
		Release("b", tok, custody, payer, d(6)).
		Run()
	require.ErrorIs(t, err, ErrCustodyShortfall)
	assert.True(t, tok.BalanceOf(custody).Equal(d(10)))
	assert.True(t, tok.BalanceOf(payee).IsZero())
}

func TestPlan_UndoFailureIsJoined(t *testing.T) {
	cause := errors.New("cause")
	undoErr := errors.New("undo broke")

	err := NewPlan().
		Add("first", func() error { return nil }, func() error { return undoErr }).
		Add("second", func() error { return cause }, nil).
		Run()
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, undoErr)
	assert.Contains(t, err.Error(), "undo first")
}
