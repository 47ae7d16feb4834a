// 文件: pkg/api/handlers.go

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/offer"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/quote"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/registry"
)

// =============================================================================
// 请求体
// =============================================================================

type AssetRequest struct {
	Symbol   string `json:"symbol" binding:"required"`
	Decimals int32  `json:"decimals" binding:"gte=0,lte=36"`
}

type ApproveRequest struct {
	Spender string          `json:"spender" binding:"required"`
	Amount  decimal.Decimal `json:"amount"` // 0 表示撤销
}

type MintRequest struct {
	To     string          `json:"to" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type PriceRequest struct {
	Price    decimal.Decimal `json:"price"`
	Decimals int32           `json:"decimals" binding:"gte=0,lte=36"`
}

type CreateOptionRequest struct {
	Kind        option.Kind     `json:"kind"` // "call" / "put"
	Asset       string          `json:"asset" binding:"required"`
	Premium     decimal.Decimal `json:"premium"`
	StrikePrice decimal.Decimal `json:"strike_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Expiry      time.Time       `json:"expiry" binding:"required"`
}

type PremiumRequest struct {
	Premium decimal.Decimal `json:"premium"`
}

type TransferRequest struct {
	To string `json:"to" binding:"required"`
}

type CreateOfferRequest struct {
	Option string          `json:"option" binding:"required"` // ID 或托管地址
	Ask    decimal.Decimal `json:"ask"`
}

// =============================================================================
// 资产
// =============================================================================

func (s *Server) balance(c *gin.Context) {
	l, ok := s.reg.Ledger(c.Param("symbol"))
	if !ok {
		s.fail(c, ErrUnknownAsset)
		return
	}
	owner, err := parseAddress(c.Param("owner"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   l.Symbol(),
		"decimals": l.Decimals(),
		"owner":    owner,
		"balance":  l.BalanceOf(owner),
	})
}

func (s *Server) allowance(c *gin.Context) {
	w, err := s.wallet(c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return
	}
	owner, err := parseAddress(c.Param("owner"))
	if err != nil {
		s.fail(c, err)
		return
	}
	spender, err := parseAddress(c.Param("spender"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    w.Symbol(),
		"owner":     owner,
		"spender":   spender,
		"allowance": w.Allowance(owner, spender),
	})
}

// createAsset admin 登记标的资产并绑定喂价
func (s *Server) createAsset(c *gin.Context) {
	var req AssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	who := caller(c)
	if who != s.reg.Admin() {
		s.fail(c, registry.ErrNotAdmin)
		return
	}
	if s.feed == nil || s.newToken == nil {
		s.fail(c, ErrOracleReadOnly)
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if _, ok := s.reg.Ledger(sym); ok {
		s.fail(c, ErrAssetExists)
		return
	}

	token, err := s.newToken(sym, req.Decimals)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.reg.SetOracle(c.Request.Context(), who, token, s.feed.Oracle(sym)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"symbol": sym, "decimals": req.Decimals})
}

func (s *Server) approve(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	w, err := s.wallet(c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return
	}
	spender, err := parseAddress(req.Spender)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := w.Approve(caller(c), spender, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    w.Symbol(),
		"owner":     caller(c),
		"spender":   spender,
		"allowance": w.Allowance(caller(c), spender),
	})
}

func (s *Server) mint(c *gin.Context) {
	if !s.enableMint {
		s.fail(c, ErrMintDisabled)
		return
	}
	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	w, err := s.wallet(c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := w.Mint(to, req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": w.Symbol(), "owner": to, "balance": w.BalanceOf(to)})
}

func (s *Server) wallet(symbol string) (Wallet, error) {
	l, ok := s.reg.Ledger(symbol)
	if !ok {
		return nil, ErrUnknownAsset
	}
	w, ok := l.(Wallet)
	if !ok {
		return nil, ErrNotWallet
	}
	return w, nil
}

// =============================================================================
// 预言机
// =============================================================================

func (s *Server) getPrice(c *gin.Context) {
	sym := strings.ToUpper(c.Param("symbol"))
	o, ok := s.reg.Oracle(sym)
	if !ok {
		s.fail(c, ErrUnknownAsset)
		return
	}
	price, dec, err := o.LatestPrice(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "price": price, "decimals": dec})
}

func (s *Server) setPrice(c *gin.Context) {
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if caller(c) != s.reg.Admin() {
		s.fail(c, registry.ErrNotAdmin)
		return
	}
	if s.feed == nil {
		s.fail(c, ErrOracleReadOnly)
		return
	}
	sym := strings.ToUpper(c.Param("symbol"))
	if err := s.feed.Set(sym, req.Price, req.Decimals); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "price": req.Price, "decimals": req.Decimals})
}

// =============================================================================
// 期权
// =============================================================================

func (s *Server) createOption(c *gin.Context) {
	var req CreateOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	o, err := s.reg.CreateOption(c.Request.Context(), caller(c), registry.CreateOptionRequest{
		Kind:        req.Kind,
		Asset:       req.Asset,
		Premium:     req.Premium,
		StrikePrice: req.StrikePrice,
		Quantity:    req.Quantity,
		Expiry:      req.Expiry,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o.Snapshot())
}

func (s *Server) listOptions(c *gin.Context) {
	status := option.Status(strings.ToUpper(c.Query("status")))
	out := make([]option.Snapshot, 0)
	for _, o := range s.reg.List() {
		snap := o.Snapshot()
		if status != "" && snap.Status != status {
			continue
		}
		out = append(out, snap)
	}
	c.JSON(http.StatusOK, out)
}

// listExpired 已到期但未终结的期权记录
func (s *Server) listExpired(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		s.fail(c, err)
		return
	}
	recs, err := s.reg.Repository().ListExpiredBefore(c.Request.Context(), s.clock(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) getOption(c *gin.Context) {
	o, err := s.lookupOption(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

func (s *Server) quoteOption(c *gin.Context) {
	o, err := s.lookupOption(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var p quote.Params
	if p.Vol, err = queryFloat(c, "vol"); err != nil {
		s.fail(c, err)
		return
	}
	if p.Rate, err = queryFloat(c, "rate"); err != nil {
		s.fail(c, err)
		return
	}

	snap := o.Snapshot()
	px, ok := s.reg.Oracle(snap.Underlying)
	if !ok {
		s.fail(c, ErrUnknownAsset)
		return
	}
	spot, dec, err := px.LatestPrice(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	q, err := s.quoter.Quote(snap, spot, dec, p, s.clock())
	if err != nil {
		s.fail(c, fmt.Errorf("%w: %w", ErrInvalidParam, err))
		return
	}
	c.JSON(http.StatusOK, q)
}

// optionAction 期权上的无参写操作
func (s *Server) optionAction(c *gin.Context, run func(ctx context.Context, o *option.Option, who common.Address) error) {
	o, err := s.lookupOption(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := run(c.Request.Context(), o, caller(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o.Snapshot())
}

func (s *Server) initOption(c *gin.Context) {
	s.optionAction(c, func(ctx context.Context, o *option.Option, who common.Address) error {
		return o.Init(ctx, who)
	})
}

func (s *Server) buyOption(c *gin.Context) {
	s.optionAction(c, func(ctx context.Context, o *option.Option, who common.Address) error {
		return o.Buy(ctx, who)
	})
}

func (s *Server) cancelOption(c *gin.Context) {
	s.optionAction(c, func(ctx context.Context, o *option.Option, who common.Address) error {
		return o.Cancel(ctx, who)
	})
}

func (s *Server) executeOption(c *gin.Context) {
	s.optionAction(c, func(ctx context.Context, o *option.Option, who common.Address) error {
		return o.Execute(ctx, who)
	})
}

func (s *Server) withdrawOption(c *gin.Context) {
	s.optionAction(c, func(ctx context.Context, o *option.Option, who common.Address) error {
		return o.Withdraw(ctx, who)
	})
}

func (s *Server) adjustPremium(c *gin.Context) {
	var req PremiumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	s.optionAction(c, func(ctx context.Context, o *option.Option, who common.Address) error {
		return o.AdjustPremium(ctx, who, req.Premium)
	})
}

func (s *Server) transferOption(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.optionAction(c, func(ctx context.Context, o *option.Option, who common.Address) error {
		return o.Transfer(ctx, who, to)
	})
}

// lookupOption 参数可以是 ID 或托管地址
func (s *Server) lookupOption(ref string) (*option.Option, error) {
	if common.IsHexAddress(ref) {
		return s.reg.GetByAddress(common.HexToAddress(ref))
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: option %q", ErrInvalidParam, ref)
	}
	return s.reg.Get(id)
}

// =============================================================================
// 挂单
// =============================================================================

func (s *Server) createOffer(c *gin.Context) {
	var req CreateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	o, err := s.lookupOption(req.Option)
	if err != nil {
		s.fail(c, err)
		return
	}
	of, err := s.offers.CreateOffer(c.Request.Context(), caller(c), o, req.Ask)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, of.Snapshot())
}

func (s *Server) listOffers(c *gin.Context) {
	var offers []*offer.Offer
	if ref := c.Query("option"); ref != "" {
		o, err := s.lookupOption(ref)
		if err != nil {
			s.fail(c, err)
			return
		}
		offers = s.offers.ListByOption(o.ID())
	} else {
		offers = s.offers.ListOffers()
	}
	out := make([]offer.Snapshot, len(offers))
	for i, of := range offers {
		out[i] = of.Snapshot()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getOffer(c *gin.Context) {
	of, err := s.lookupOffer(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, of.Snapshot())
}

func (s *Server) acceptOffer(c *gin.Context) {
	s.offerAction(c, func(ctx context.Context, of *offer.Offer, who common.Address) error {
		return of.Accept(ctx, who)
	})
}

func (s *Server) cancelOffer(c *gin.Context) {
	s.offerAction(c, func(ctx context.Context, of *offer.Offer, who common.Address) error {
		return of.Cancel(ctx, who)
	})
}

func (s *Server) offerAction(c *gin.Context, run func(ctx context.Context, of *offer.Offer, who common.Address) error) {
	of, err := s.lookupOffer(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := run(c.Request.Context(), of, caller(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, of.Snapshot())
}

func (s *Server) lookupOffer(ref string) (*offer.Offer, error) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: offer %q", ErrInvalidParam, ref)
	}
	return s.offers.Get(id)
}

// =============================================================================
// 参数解析
// =============================================================================

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: address %q", ErrInvalidParam, s)
	}
	return common.HexToAddress(s), nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidParam, key, v)
	}
	return n, nil
}

func queryFloat(c *gin.Context, key string) (float64, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidParam, key, v)
	}
	return f, nil
}
