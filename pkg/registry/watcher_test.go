package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/event"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
)

func TestWatcher_NotifiesOnceAndMovesNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.setOracle(t)

	// sold: 买入后过期
	sold, err := f.reg.CreateOption(f.ctx, writer, f.request())
	require.NoError(t, err)
	require.NoError(t, f.weth.Approve(writer, sold.Address(), sold.Quantity()))
	require.NoError(t, sold.Init(f.ctx, writer))
	require.NoError(t, f.usdt.Approve(buyer, sold.Address(), e18(2)))
	require.NoError(t, sold.Buy(f.ctx, buyer))

	// unsold: 只 init
	unsold, err := f.reg.CreateOption(f.ctx, writer, f.request())
	require.NoError(t, err)
	require.NoError(t, f.weth.Approve(writer, unsold.Address(), unsold.Quantity()))
	require.NoError(t, unsold.Init(f.ctx, writer))

	// later: 一个月后才到期
	req := f.request()
	req.Expiry = t0.Add(30 * 24 * time.Hour)
	later, err := f.reg.CreateOption(f.ctx, writer, req)
	require.NoError(t, err)

	w := NewWatcher(WatcherConfig{BatchSize: 1}, f.reg)

	// 未到期
	res, err := w.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{}, res)

	wethSold := f.weth.BalanceOf(sold.Address())
	f.clock.Advance(7*24*time.Hour + time.Second)
	f.events.Reset()

	res, err = w.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Lapsed: 1, Unsold: 1}, res)
	assert.Equal(t, 1, f.events.Count(event.OptionLapsed))
	assert.Equal(t, 1, f.events.Count(event.OptionExpiredUnsold))

	for _, e := range f.events.Events() {
		if e.Type == event.OptionLapsed {
			assert.Equal(t, sold.ID(), e.SubjectID)
			assert.Equal(t, buyer.Hex(), e.Data["holder"])
		}
	}

	// 第二次扫描不会重复通知
	res, err = w.Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{}, res)
	assert.Equal(t, 1, f.events.Count(event.OptionLapsed))

	// 不划转资产, 状态不变
	assert.True(t, f.weth.BalanceOf(sold.Address()).Equal(wethSold))
	assert.Equal(t, option.StatusSold, sold.Status())
	assert.Equal(t, option.StatusInited, unsold.Status())
	assert.Equal(t, option.StatusCreated, later.Status())

	// writer 现在可以取回
	require.NoError(t, sold.Withdraw(f.ctx, writer))
	require.NoError(t, unsold.Cancel(f.ctx, writer))
}

func TestWatcher_DropsTerminalAndUnknown(t *testing.T) {
	f := newFixture(t, nil)
	f.setOracle(t)

	o, err := f.reg.CreateOption(f.ctx, writer, f.request())
	require.NoError(t, err)
	require.NoError(t, o.Cancel(f.ctx, writer))
	// 取消后 syncer 已移出索引, 手动放回模拟残留
	require.NoError(t, f.reg.Index().Add(f.ctx, o.ID(), o.Expiry()))
	require.NoError(t, f.reg.Index().Add(f.ctx, 777, t0))

	f.clock.Advance(8 * 24 * time.Hour)
	f.events.Reset()

	res, err := NewWatcher(WatcherConfig{}, f.reg).Scan(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Dropped: 2}, res)
	assert.Empty(t, f.events.Events())
}

func TestWatcher_StartStop(t *testing.T) {
	f := newFixture(t, nil)
	w := NewWatcher(WatcherConfig{ScanInterval: 5 * time.Millisecond}, f.reg)

	require.NoError(t, w.Start())
	assert.Error(t, w.Start())
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	w.Stop()
}

func TestMemoryExpiryIndex_DueOrderAndClaim(t *testing.T) {
	idx := NewMemoryExpiryIndex()
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, 3, t0.Add(3*time.Hour)))
	require.NoError(t, idx.Add(ctx, 1, t0.Add(time.Hour)))
	require.NoError(t, idx.Add(ctx, 2, t0.Add(2*time.Hour)))
	require.NoError(t, idx.Add(ctx, 9, t0.Add(9*time.Hour)))

	ids, err := idx.Due(ctx, t0.Add(3*time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	ids, err = idx.Due(ctx, t0.Add(3*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids)

	require.NoError(t, idx.Remove(ctx, 9))
	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
