package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/asset"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/ident"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/offer"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/oracle"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/registry"
)

var (
	t0      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000AD")
	regAddr = common.HexToAddress("0x00000000000000000000000000000000000000F0")
	offAddr = common.HexToAddress("0x00000000000000000000000000000000000000F1")
	writer  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	buyer   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	third   = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

func e18(n int64) decimal.Decimal { return decimal.New(n, 18) }

type testServer struct {
	router http.Handler
	usdt   *asset.Token
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := func() time.Time { return t0 }
	usdt := asset.NewToken(asset.TokenConfig{Symbol: "USDT", Decimals: 18})
	reg, err := registry.New(registry.Config{
		Address: regAddr,
		Admin:   admin,
		NodeID:  1,
		Clock:   clock,
	}, usdt)
	require.NoError(t, err)

	ids, err := ident.NewGenerator(2, offAddr)
	require.NoError(t, err)
	offers := offer.NewRegistry(offer.RegistryConfig{Quote: usdt, IDs: ids, Clock: clock})

	srv := NewServer(Config{
		Registry: reg,
		Offers:   offers,
		Feed:     oracle.NewFeed(),
		NewToken: func(symbol string, decimals int32) (asset.Ledger, error) {
			return asset.NewToken(asset.TokenConfig{Symbol: symbol, Decimals: decimals}), nil
		},
		EnableMint: true,
		Clock:      clock,
	})
	return &testServer{router: srv.Router(), usdt: usdt}
}

func (s *testServer) do(t *testing.T, method, path string, who common.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who != (common.Address{}) {
		req.Header.Set(HeaderCaller, who.Hex())
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) ok(t *testing.T, method, path string, who common.Address, body any, out any) {
	t.Helper()
	w := s.do(t, method, path, who, body)
	require.Less(t, w.Code, 300, w.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (s *testServer) balance(t *testing.T, symbol string, owner common.Address) decimal.Decimal {
	t.Helper()
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	s.ok(t, http.MethodGet, "/assets/"+symbol+"/balance/"+owner.Hex(), common.Address{}, nil, &resp)
	return resp.Balance
}

// setup 登记 WETH, 喂价 2000, 给各方发币
func (s *testServer) setup(t *testing.T) {
	t.Helper()
	s.ok(t, http.MethodPost, "/assets", admin, gin.H{"symbol": "weth", "decimals": 18}, nil)
	s.ok(t, http.MethodPut, "/oracle/WETH", admin, gin.H{"price": "200000000000", "decimals": 8}, nil)
	s.ok(t, http.MethodPost, "/assets/WETH/mint", writer, gin.H{"to": writer.Hex(), "amount": e18(1).String()}, nil)
	s.ok(t, http.MethodPost, "/assets/USDT/mint", buyer, gin.H{"to": buyer.Hex(), "amount": e18(100).String()}, nil)
	s.ok(t, http.MethodPost, "/assets/USDT/mint", third, gin.H{"to": third.Hex(), "amount": e18(100).String()}, nil)
}

// writeCall 创建并 init 一张 0.01 WETH / 1500 的看涨期权
func (s *testServer) writeCall(t *testing.T) option.Snapshot {
	t.Helper()
	var snap option.Snapshot
	s.ok(t, http.MethodPost, "/options", writer, gin.H{
		"kind":         "call",
		"asset":        "WETH",
		"premium":      e18(2).String(),
		"strike_price": "150000000000",
		"quantity":     decimal.New(1, 16).String(),
		"expiry":       t0.Add(7 * 24 * time.Hour),
	}, &snap)
	require.Equal(t, option.StatusCreated, snap.Status)

	s.ok(t, http.MethodPost, "/assets/WETH/approve", writer, gin.H{"spender": snap.Address.Hex(), "amount": snap.Quantity.String()}, nil)
	s.ok(t, http.MethodPost, "/options/"+strconv.FormatInt(snap.ID, 10)+"/init", writer, nil, &snap)
	require.Equal(t, option.StatusInited, snap.Status)
	return snap
}

func TestAPI_OptionLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.setup(t)
	snap := s.writeCall(t)
	id := strconv.FormatInt(snap.ID, 10)

	// buy
	s.ok(t, http.MethodPost, "/assets/USDT/approve", buyer, gin.H{"spender": snap.Address.Hex(), "amount": e18(2).String()}, nil)
	s.ok(t, http.MethodPost, "/options/"+id+"/buy", buyer, nil, &snap)
	assert.Equal(t, option.StatusSold, snap.Status)
	assert.Equal(t, buyer, snap.Holder)
	assert.True(t, s.balance(t, "USDT", writer).Equal(e18(2)))

	// 按地址也能查
	var byAddr option.Snapshot
	s.ok(t, http.MethodGet, "/options/"+snap.Address.Hex(), common.Address{}, nil, &byAddr)
	assert.Equal(t, snap.ID, byAddr.ID)

	// execute
	s.ok(t, http.MethodPost, "/assets/USDT/approve", buyer, gin.H{"spender": snap.Address.Hex(), "amount": e18(15).String()}, nil)
	s.ok(t, http.MethodPost, "/options/"+id+"/execute", buyer, nil, &snap)
	assert.Equal(t, option.StatusExercised, snap.Status)

	assert.True(t, s.balance(t, "WETH", buyer).Equal(decimal.New(1, 16)))
	assert.True(t, s.balance(t, "USDT", writer).Equal(e18(17)))
	assert.True(t, s.balance(t, "USDT", buyer).Equal(e18(83)))

	var list []option.Snapshot
	s.ok(t, http.MethodGet, "/options?status=exercised", common.Address{}, nil, &list)
	require.Len(t, list, 1)
	assert.Equal(t, snap.ID, list[0].ID)
	s.ok(t, http.MethodGet, "/options?status=sold", common.Address{}, nil, &list)
	assert.Empty(t, list)
}

func TestAPI_OfferResale(t *testing.T) {
	s := newTestServer(t)
	s.setup(t)
	snap := s.writeCall(t)
	id := strconv.FormatInt(snap.ID, 10)

	s.ok(t, http.MethodPost, "/assets/USDT/approve", buyer, gin.H{"spender": snap.Address.Hex(), "amount": e18(2).String()}, nil)
	s.ok(t, http.MethodPost, "/options/"+id+"/buy", buyer, nil, nil)

	var of offer.Snapshot
	s.ok(t, http.MethodPost, "/offers", buyer, gin.H{"option": id, "ask": e18(5).String()}, &of)
	assert.False(t, of.InCustody)
	s.ok(t, http.MethodPost, "/options/"+id+"/transfer", buyer, gin.H{"to": of.Address.Hex()}, nil)

	oid := strconv.FormatInt(of.ID, 10)
	s.ok(t, http.MethodGet, "/offers/"+oid, common.Address{}, nil, &of)
	assert.True(t, of.InCustody)

	s.ok(t, http.MethodPost, "/assets/USDT/approve", third, gin.H{"spender": of.Address.Hex(), "amount": e18(5).String()}, nil)
	s.ok(t, http.MethodPost, "/offers/"+oid+"/accept", third, nil, &of)
	assert.Equal(t, third, of.Buyer)

	var opt option.Snapshot
	s.ok(t, http.MethodGet, "/options/"+id, common.Address{}, nil, &opt)
	assert.Equal(t, third, opt.Holder)
	assert.True(t, s.balance(t, "USDT", buyer).Equal(e18(103)))

	var list []offer.Snapshot
	s.ok(t, http.MethodGet, "/offers?option="+snap.Address.Hex(), common.Address{}, nil, &list)
	require.Len(t, list, 1)
	assert.Equal(t, of.ID, list[0].ID)

	// 已成交的挂单不能再取消
	w := s.do(t, http.MethodPost, "/offers/"+oid+"/cancel", buyer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "STATE", errorBody(t, w)["class"])
}

func TestAPI_CustodianCannotActAsCaller(t *testing.T) {
	s := newTestServer(t)
	s.setup(t)
	snap := s.writeCall(t)
	id := strconv.FormatInt(snap.ID, 10)

	s.ok(t, http.MethodPost, "/assets/USDT/approve", buyer, gin.H{"spender": snap.Address.Hex(), "amount": e18(2).String()}, nil)
	s.ok(t, http.MethodPost, "/options/"+id+"/buy", buyer, nil, nil)
	var of offer.Snapshot
	s.ok(t, http.MethodPost, "/offers", buyer, gin.H{"option": id, "ask": e18(5).String()}, &of)
	s.ok(t, http.MethodPost, "/options/"+id+"/transfer", buyer, gin.H{"to": of.Address.Hex()}, nil)

	// 期权托管地址不能对外授权抵押品
	w := s.do(t, http.MethodPost, "/assets/WETH/approve", snap.Address, gin.H{"spender": third.Hex(), "amount": snap.Quantity.String()})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, ErrCustodianCaller.Error(), errorBody(t, w)["error"])

	// 挂单托管地址不能转走托管中的行权权
	w = s.do(t, http.MethodPost, "/options/"+id+"/transfer", of.Address, gin.H{"to": third.Hex()})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/assets/USDT/approve", of.Address, gin.H{"spender": third.Hex(), "amount": "1"})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	var allowance struct {
		Allowance decimal.Decimal `json:"allowance"`
	}
	s.ok(t, http.MethodGet, "/assets/WETH/allowance/"+snap.Address.Hex()+"/"+third.Hex(), common.Address{}, nil, &allowance)
	assert.True(t, allowance.Allowance.IsZero())

	var opt option.Snapshot
	s.ok(t, http.MethodGet, "/options/"+id, common.Address{}, nil, &opt)
	assert.Equal(t, of.Address, opt.Holder)
	assert.True(t, s.balance(t, "WETH", snap.Address).Equal(decimal.New(1, 16)))
}

func TestAPI_Quote(t *testing.T) {
	s := newTestServer(t)
	s.setup(t)
	snap := s.writeCall(t)

	var q struct {
		Spot    float64         `json:"spot"`
		Premium decimal.Decimal `json:"premium"`
		Delta   float64         `json:"delta"`
	}
	s.ok(t, http.MethodGet, "/options/"+strconv.FormatInt(snap.ID, 10)+"/quote?vol=0.8&rate=0.05", common.Address{}, nil, &q)
	assert.InDelta(t, 2000, q.Spot, 1e-9)
	// 至少是内在价值 0.01 * (2000 - 1500) = 5
	assert.True(t, q.Premium.GreaterThanOrEqual(e18(5)), q.Premium.String())
	assert.Greater(t, q.Delta, 0.5)

	w := s.do(t, http.MethodGet, "/options/"+strconv.FormatInt(snap.ID, 10)+"/quote?vol=abc", common.Address{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.setup(t)
	snap := s.writeCall(t)
	id := strconv.FormatInt(snap.ID, 10)

	tests := []struct {
		name   string
		method string
		path   string
		who    common.Address
		body   any
		status int
		class  string
	}{
		{"missing caller", http.MethodPost, "/options/" + id + "/buy", common.Address{}, nil, http.StatusUnauthorized, ""},
		{"non-admin asset", http.MethodPost, "/assets", writer, gin.H{"symbol": "WBTC", "decimals": 8}, http.StatusForbidden, "AUTHORIZATION"},
		{"duplicate asset", http.MethodPost, "/assets", admin, gin.H{"symbol": "WETH", "decimals": 18}, http.StatusConflict, ""},
		{"non-admin price", http.MethodPut, "/oracle/WETH", writer, gin.H{"price": "1", "decimals": 8}, http.StatusForbidden, "AUTHORIZATION"},
		{"unknown option", http.MethodGet, "/options/42", common.Address{}, nil, http.StatusNotFound, "VALUE"},
		{"bad option id", http.MethodGet, "/options/abc", common.Address{}, nil, http.StatusBadRequest, ""},
		{"unknown asset", http.MethodGet, "/assets/DOGE/balance/" + writer.Hex(), common.Address{}, nil, http.StatusNotFound, ""},
		{"no oracle", http.MethodPost, "/options", writer, gin.H{"kind": "put", "asset": "USDT", "expiry": t0.Add(time.Hour)}, http.StatusConflict, "STATE"},
		{"buy without allowance", http.MethodPost, "/options/" + id + "/buy", buyer, nil, http.StatusPaymentRequired, "TRANSFER"},
		{"cancel by stranger", http.MethodPost, "/options/" + id + "/cancel", buyer, nil, http.StatusForbidden, "AUTHORIZATION"},
		{"execute unsold", http.MethodPost, "/options/" + id + "/execute", buyer, nil, http.StatusForbidden, "AUTHORIZATION"},
		{"bad json", http.MethodPut, "/options/" + id + "/premium", writer, "{", http.StatusBadRequest, ""},
		{"unknown offer", http.MethodGet, "/offers/7", common.Address{}, nil, http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.who, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.class != "" {
				assert.Equal(t, tt.class, errorBody(t, w)["class"])
			}
		})
	}
}

func TestAPI_MintDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	usdt := asset.NewToken(asset.TokenConfig{Symbol: "USDT", Decimals: 18})
	reg, err := registry.New(registry.Config{Address: regAddr, Admin: admin, NodeID: 1}, usdt)
	require.NoError(t, err)
	ids, err := ident.NewGenerator(2, offAddr)
	require.NoError(t, err)

	s := &testServer{
		router: NewServer(Config{
			Registry: reg,
			Offers:   offer.NewRegistry(offer.RegistryConfig{Quote: usdt, IDs: ids}),
		}).Router(),
		usdt: usdt,
	}
	w := s.do(t, http.MethodPost, "/assets/USDT/mint", writer, gin.H{"to": writer.Hex(), "amount": "1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// 未配置喂价源时不能喂价
	w = s.do(t, http.MethodPut, "/oracle/WETH", admin, gin.H{"price": "1", "decimals": 8})
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
