package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
)

func newSQLiteRepo(t *testing.T) *GormRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := OpenDB("sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	repo, err := NewGormRepository(db)
	require.NoError(t, err)
	return repo
}

func record(id int64, status option.Status, expiry time.Time) *OptionRecord {
	return &OptionRecord{
		OptionID:    id,
		Address:     "0x" + strings.Repeat("0", 39) + string(rune('0'+id%10)),
		Kind:        "CALL",
		Underlying:  "WETH",
		Quote:       "USDT",
		Writer:      writer.Hex(),
		Premium:     "2000000000000000000",
		StrikePrice: "150000000000",
		Quantity:    "10000000000000000",
		StrikeValue: "15000000000000000000",
		Expiry:      expiry.UnixMilli(),
		Status:      string(status),
	}
}

// 两种实现跑同一组用例
func repoImpls(t *testing.T) map[string]Repository {
	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": newSQLiteRepo(t),
	}
}

func TestRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repoImpls(t) {
		t.Run(name, func(t *testing.T) {
			rec := record(1, option.StatusCreated, t0)
			require.NoError(t, repo.Save(ctx, rec))

			got, err := repo.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, rec.StrikeValue, got.StrikeValue)
			assert.Equal(t, rec.Status, got.Status)

			// upsert 只改可变列
			rec.Holder = buyer.Hex()
			rec.Status = string(option.StatusSold)
			rec.Inited = true
			require.NoError(t, repo.Save(ctx, rec))

			got, err = repo.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, buyer.Hex(), got.Holder)
			assert.Equal(t, string(option.StatusSold), got.Status)
			assert.True(t, got.Inited)

			all, err := repo.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)

			_, err = repo.Get(ctx, 99)
			assert.ErrorIs(t, err, ErrOptionNotFound)
		})
	}
}

func TestRepository_Queries(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repoImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.Save(ctx, record(3, option.StatusSold, t0.Add(time.Hour))))
			require.NoError(t, repo.Save(ctx, record(1, option.StatusInited, t0)))
			require.NoError(t, repo.Save(ctx, record(2, option.StatusExercised, t0)))
			require.NoError(t, repo.Save(ctx, record(4, option.StatusSold, t0.Add(48*time.Hour))))

			all, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 4)
			for i, r := range all {
				assert.Equal(t, int64(i+1), r.OptionID)
			}

			sold, err := repo.ListByStatus(ctx, string(option.StatusSold))
			require.NoError(t, err)
			require.Len(t, sold, 2)
			assert.Equal(t, int64(3), sold[0].OptionID)

			// 已终结的 2 不算
			due, err := repo.ListExpiredBefore(ctx, t0.Add(2*time.Hour), 0)
			require.NoError(t, err)
			require.Len(t, due, 2)
			assert.Equal(t, int64(1), due[0].OptionID)
			assert.Equal(t, int64(3), due[1].OptionID)

			due, err = repo.ListExpiredBefore(ctx, t0.Add(2*time.Hour), 1)
			require.NoError(t, err)
			assert.Len(t, due, 1)
		})
	}
}

func TestNewRecord_FromSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.setOracle(t)
	o, err := f.reg.CreateOption(f.ctx, writer, f.request())
	require.NoError(t, err)

	rec := NewRecord(o.Snapshot())
	assert.Equal(t, o.ID(), rec.OptionID)
	assert.Equal(t, o.Address().Hex(), rec.Address)
	assert.Equal(t, int32(8), rec.OracleDecimals)
	assert.Equal(t, o.Expiry().UnixMilli(), rec.Expiry)

	sv, err := rec.StrikeValueAmount()
	require.NoError(t, err)
	assert.True(t, sv.Equal(o.StrikeValue()))
	p, err := rec.PremiumAmount()
	require.NoError(t, err)
	assert.True(t, p.Equal(e18(2)))
	assert.False(t, rec.Terminal())
}

func TestOpenDB_UnknownDriver(t *testing.T) {
	_, err := OpenDB("oracle", "")
	assert.Error(t, err)
}

func TestRepository_AssetsAndOffers(t *testing.T) {
	ctx := context.Background()
	for name, repo := range repoImpls(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.SaveAsset(ctx, &AssetRecord{Symbol: "WETH", Decimals: 18}))
			require.NoError(t, repo.SaveAsset(ctx, &AssetRecord{Symbol: "WBTC", Decimals: 8}))
			require.NoError(t, repo.SaveAsset(ctx, &AssetRecord{Symbol: "WETH", Decimals: 18}))

			assets, err := repo.ListAssets(ctx)
			require.NoError(t, err)
			require.Len(t, assets, 2)
			assert.Equal(t, "WBTC", assets[0].Symbol)
			assert.Equal(t, int32(8), assets[0].Decimals)

			listed := &OfferRecord{
				OfferID:  7,
				Address:  "0x00000000000000000000000000000000000000C7",
				OptionID: 1,
				Seller:   buyer.Hex(),
				Ask:      "15000000000000000000",
				Quote:    "USDT",
				Status:   "LISTED",
				OpenedAt: t0.UnixMilli(),
			}
			require.NoError(t, repo.SaveOffer(ctx, listed))
			require.NoError(t, repo.SaveOffer(ctx, &OfferRecord{OfferID: 5, Address: "0x00000000000000000000000000000000000000C5", Ask: "1", Status: "CANCELLED"}))

			sold := *listed
			sold.Buyer = writer.Hex()
			sold.Status = "SOLD"
			require.NoError(t, repo.SaveOffer(ctx, &sold))

			offers, err := repo.ListOffers(ctx)
			require.NoError(t, err)
			require.Len(t, offers, 2)
			assert.Equal(t, int64(5), offers[0].OfferID)
			assert.Equal(t, "SOLD", offers[1].Status)
			assert.Equal(t, writer.Hex(), offers[1].Buyer)

			snap, err := offers[1].Snapshot()
			require.NoError(t, err)
			assert.Equal(t, writer, snap.Buyer)
			assert.True(t, snap.Ask.Equal(e18(15)))
			assert.True(t, t0.Equal(snap.CreatedAt))
		})
	}
}

func TestOptionRecord_SnapshotRestores(t *testing.T) {
	f := newFixture(t, nil)
	f.setOracle(t)
	o, err := f.reg.CreateOption(f.ctx, writer, f.request())
	require.NoError(t, err)
	require.NoError(t, f.weth.Approve(writer, o.Address(), decimal.New(1, 16)))
	require.NoError(t, o.Init(f.ctx, writer))

	rec, err := f.reg.Repository().Get(f.ctx, o.ID())
	require.NoError(t, err)
	snap, err := rec.Snapshot()
	require.NoError(t, err)

	want := o.Snapshot()
	assert.Equal(t, want.Address, snap.Address)
	assert.Equal(t, want.Kind, snap.Kind)
	assert.Empty(t, snap.Holder)
	assert.True(t, snap.StrikeValue.Equal(want.StrikeValue))
	assert.True(t, snap.Quantity.Equal(want.Quantity))
	assert.True(t, snap.Inited)
	assert.Equal(t, option.StatusInited, snap.Status)
	assert.True(t, snap.Expiry.Equal(want.Expiry))

	rec.StrikeValue = "abc"
	_, err = rec.Snapshot()
	assert.Error(t, err)
}
