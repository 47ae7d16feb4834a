package main

import (
	"context"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/asset"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/event"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/ident"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/logx"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/offer"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/oracle"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/quote"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/registry"
)

// =============================================================================
// 参与方
// =============================================================================

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000AD")
	regAddr  = common.HexToAddress("0x00000000000000000000000000000000000000F0")
	offAddr  = common.HexToAddress("0x00000000000000000000000000000000000000F1")
	writer   = common.HexToAddress("0x000000000000000000000000000000000000A11c")
	buyer    = common.HexToAddress("0x000000000000000000000000000000000000B0b0")
	reseller = common.HexToAddress("0x000000000000000000000000000000000000CA01")
)

// simClock 可拨动的时钟
type simClock struct{ now time.Time }

func (c *simClock) Now() time.Time { return c.now }

func (c *simClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func e18(n int64) decimal.Decimal { return decimal.New(n, 18) }

func must(log *logrus.Entry, err error, step string) {
	if err != nil {
		log.WithError(err).Fatalf("❌ %s", step)
	}
}

// =============================================================================
// 主程序
// =============================================================================

func main() {
	logger := logx.New(logx.Config{Level: "info", Format: "text", Output: os.Stdout})
	log := logx.Component(logger, "simulation")
	log.Info("🚀 Starting options simulation...")

	ctx := context.Background()
	clock := &simClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	// 事件直接打日志
	events := event.PublisherFunc(func(_ context.Context, e *event.Event) error {
		log.WithFields(logrus.Fields{"id": e.SubjectID, "actor": e.Actor.Hex()}).Infof("[Event] %s %v", e.Type, e.Data)
		return nil
	})

	// 1. 账本 / 喂价 / 注册表
	// -------------------------------------------------------------------------
	weth := asset.NewToken(asset.TokenConfig{Symbol: "WETH", Decimals: 18})
	usdt := asset.NewToken(asset.TokenConfig{Symbol: "USDT", Decimals: 18})
	must(log, weth.Mint(writer, e18(1)), "mint WETH")
	must(log, usdt.Mint(buyer, e18(100)), "mint USDT")
	must(log, usdt.Mint(reseller, e18(100)), "mint USDT")

	feed := oracle.NewFeed()
	must(log, feed.Set("WETH", decimal.NewFromInt(2000_00000000), 8), "set price")

	reg, err := registry.New(registry.Config{
		Address:   regAddr,
		Admin:     admin,
		NodeID:    1,
		Clock:     clock.Now,
		Publisher: events,
		Logger:    logx.Component(logger, "registry"),
	}, usdt)
	must(log, err, "create registry")
	must(log, reg.SetOracle(ctx, admin, weth, feed.Oracle("WETH")), "set oracle")

	ids, err := ident.NewGenerator(2, offAddr)
	must(log, err, "create offer ids")
	offers := offer.NewRegistry(offer.RegistryConfig{
		Quote:     usdt,
		IDs:       ids,
		Clock:     clock.Now,
		Publisher: events,
		Logger:    logx.Component(logger, "offer"),
	})

	// 2. writer 卖出看涨期权: 0.01 WETH @ 1500, 权利金 2 USDT, 7 天
	// -------------------------------------------------------------------------
	call, err := reg.CreateOption(ctx, writer, registry.CreateOptionRequest{
		Kind:        option.Call,
		Asset:       "WETH",
		Premium:     e18(2),
		StrikePrice: decimal.NewFromInt(1500_00000000),
		Quantity:    decimal.New(1, 16),
		Expiry:      clock.Now().Add(7 * 24 * time.Hour),
	})
	must(log, err, "create option")
	log.WithFields(logrus.Fields{
		"id":           call.ID(),
		"address":      call.Address().Hex(),
		"strike_value": call.StrikeValue().String(),
	}).Info("✅ Option created")

	must(log, weth.Approve(writer, call.Address(), call.Quantity()), "approve collateral")
	must(log, call.Init(ctx, writer), "init")

	q, err := quote.NewQuoter(quote.DefaultParams()).Quote(call.Snapshot(), decimal.NewFromInt(2000_00000000), 8, quote.Params{}, clock.Now())
	must(log, err, "quote")
	log.WithFields(logrus.Fields{"fair_premium": q.Premium.String(), "delta": q.Delta}).Info("📈 Fair value")

	must(log, usdt.Approve(buyer, call.Address(), call.Premium()), "approve premium")
	must(log, call.Buy(ctx, buyer), "buy")

	// 3. buyer 挂单转卖
	// -------------------------------------------------------------------------
	of, err := offers.CreateOffer(ctx, buyer, call, e18(5))
	must(log, err, "create offer")
	must(log, call.Transfer(ctx, buyer, of.Address()), "escrow right")
	must(log, usdt.Approve(reseller, of.Address(), of.Ask()), "approve ask")
	must(log, of.Accept(ctx, reseller), "accept offer")

	// 4. 新 holder 行权
	// -------------------------------------------------------------------------
	clock.Advance(3 * 24 * time.Hour)
	must(log, usdt.Approve(reseller, call.Address(), call.StrikeValue()), "approve strike")
	must(log, call.Execute(ctx, reseller), "execute")

	// 5. 看跌期权无人购买, 到期后由扫描器通知, writer 取消取回
	// -------------------------------------------------------------------------
	must(log, usdt.Mint(writer, e18(15)), "mint USDT")
	put, err := reg.CreateOption(ctx, writer, registry.CreateOptionRequest{
		Kind:        option.Put,
		Asset:       "WETH",
		Premium:     e18(1),
		StrikePrice: decimal.NewFromInt(1500_00000000),
		Quantity:    decimal.New(1, 16),
		Expiry:      clock.Now().Add(24 * time.Hour),
	})
	must(log, err, "create put")
	_, amt := put.Collateral()
	must(log, usdt.Approve(writer, put.Address(), amt), "approve put collateral")
	must(log, put.Init(ctx, writer), "init put")

	clock.Advance(25 * time.Hour)
	res, err := registry.NewWatcher(registry.DefaultWatcherConfig(), reg).Scan(ctx)
	must(log, err, "scan expiries")
	log.WithFields(logrus.Fields{"lapsed": res.Lapsed, "unsold": res.Unsold}).Info("⏰ Expiry scan")
	must(log, put.Cancel(ctx, writer), "cancel put")

	// 6. 结算结果
	// -------------------------------------------------------------------------
	for _, p := range []struct {
		name string
		addr common.Address
	}{{"writer", writer}, {"buyer", buyer}, {"reseller", reseller}} {
		log.WithFields(logrus.Fields{
			"WETH": weth.BalanceOf(p.addr).String(),
			"USDT": usdt.BalanceOf(p.addr).String(),
		}).Infof("💰 %s", p.name)
	}
	log.Info("🛑 Simulation finished")
}
