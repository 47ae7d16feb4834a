// 文件: pkg/api/server.go
// HTTP 接口 (gin)
//
// 调用方身份取自请求头 X-Caller (地址), 所有写操作都以它作为 caller;
// 期权/挂单托管地址不能作为 caller
// 业务错误按类别映射状态码:
//
//	Authorization 403  State/Timing 409  Value 400  Transfer 402  其它 500

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/asset"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/logx"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/offer"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/oracle"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/quote"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/registry"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/settle"
)

// HeaderCaller 调用方地址请求头
const HeaderCaller = "X-Caller"

const callerKey = "caller"

var (
	ErrMissingCaller  = errors.New("missing or invalid " + HeaderCaller + " header")
	ErrNotWallet      = errors.New("ledger does not support approve/mint")
	ErrMintDisabled   = errors.New("mint is disabled")
	ErrUnknownAsset   = errors.New("unknown asset")
	ErrAssetExists    = errors.New("asset already registered")
	ErrOracleReadOnly = errors.New("oracle prices are not settable here")
	ErrInvalidParam   = errors.New("invalid parameter")

	ErrCustodianCaller = errors.New("custodian address cannot act as caller")
)

// Wallet 支持授权/增发的账本 (asset.Token)
type Wallet interface {
	asset.Ledger
	Approve(owner, spender common.Address, amount decimal.Decimal) error
	Allowance(owner, spender common.Address) decimal.Decimal
	Mint(to common.Address, amount decimal.Decimal) error
}

// TokenFactory 新建标的账本 (由 optiond 注入, 负责挂 WAL/流水)
type TokenFactory func(symbol string, decimals int32) (asset.Ledger, error)

// Config 依赖
type Config struct {
	Registry   *registry.Registry
	Offers     *offer.Registry
	Feed       *oracle.Feed // 可选, 为空时不能通过接口喂价
	Quoter     *quote.Quoter
	NewToken   TokenFactory
	EnableMint bool // 仅开发环境
	Clock      settle.Clock
	Logger     *logrus.Entry
}

// Server HTTP 服务
type Server struct {
	reg        *registry.Registry
	offers     *offer.Registry
	feed       *oracle.Feed
	quoter     *quote.Quoter
	newToken   TokenFactory
	enableMint bool
	clock      settle.Clock
	log        *logrus.Entry
}

// NewServer 创建
func NewServer(cfg Config) *Server {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	quoter := cfg.Quoter
	if quoter == nil {
		quoter = quote.NewQuoter(quote.DefaultParams())
	}
	return &Server{
		reg:        cfg.Registry,
		offers:     cfg.Offers,
		feed:       cfg.Feed,
		quoter:     quoter,
		newToken:   cfg.NewToken,
		enableMint: cfg.EnableMint,
		clock:      clock,
		log:        logx.OrDiscard(cfg.Logger).WithField("component", "api"),
	}
}

// Router 创建 gin 引擎并注册路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.Register(r.Group("/api/v1"))
	return r
}

// Register 注册 /api/v1 下的路由
func (s *Server) Register(g *gin.RouterGroup) {
	// 资产
	g.GET("/assets/:symbol/balance/:owner", s.balance)
	g.GET("/assets/:symbol/allowance/:owner/:spender", s.allowance)

	// 预言机
	g.GET("/oracle/:symbol", s.getPrice)

	// 期权 / 挂单 查询
	g.GET("/options", s.listOptions)
	g.GET("/options/expired", s.listExpired)
	g.GET("/options/:id", s.getOption)
	g.GET("/options/:id/quote", s.quoteOption)
	g.GET("/offers", s.listOffers)
	g.GET("/offers/:id", s.getOffer)

	// 写操作需要 caller
	w := g.Group("", s.requireCaller())
	w.POST("/assets", s.createAsset)
	w.POST("/assets/:symbol/approve", s.approve)
	w.POST("/assets/:symbol/mint", s.mint)
	w.PUT("/oracle/:symbol", s.setPrice)

	w.POST("/options", s.createOption)
	w.POST("/options/:id/init", s.initOption)
	w.POST("/options/:id/buy", s.buyOption)
	w.PUT("/options/:id/premium", s.adjustPremium)
	w.POST("/options/:id/transfer", s.transferOption)
	w.POST("/options/:id/cancel", s.cancelOption)
	w.POST("/options/:id/execute", s.executeOption)
	w.POST("/options/:id/withdraw", s.withdrawOption)

	w.POST("/offers", s.createOffer)
	w.POST("/offers/:id/accept", s.acceptOffer)
	w.POST("/offers/:id/cancel", s.cancelOffer)
}

// =============================================================================
// 中间件
// =============================================================================

func (s *Server) requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := strings.TrimSpace(c.GetHeader(HeaderCaller))
		if !common.IsHexAddress(h) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingCaller.Error()})
			return
		}
		addr := common.HexToAddress(h)
		if addr == (common.Address{}) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingCaller.Error()})
			return
		}
		if s.custodian(addr) {
			s.fail(c, ErrCustodianCaller)
			return
		}
		c.Set(callerKey, addr)
		c.Next()
	}
}

// custodian 是否为期权或挂单的托管地址
func (s *Server) custodian(addr common.Address) bool {
	if _, err := s.reg.GetByAddress(addr); err == nil {
		return true
	}
	if s.offers != nil {
		if _, err := s.offers.GetByAddress(addr); err == nil {
			return true
		}
	}
	return false
}

func caller(c *gin.Context) common.Address {
	return c.MustGet(callerKey).(common.Address)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"caller":  c.GetHeader(HeaderCaller),
		}).Debug("[API] request")
	}
}

// =============================================================================
// 错误映射
// =============================================================================

// statusOf 业务错误 -> HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, registry.ErrOptionNotFound),
		errors.Is(err, offer.ErrOfferNotFound),
		errors.Is(err, ErrUnknownAsset),
		errors.Is(err, oracle.ErrNoPrice):
		return http.StatusNotFound
	case errors.Is(err, ErrMissingCaller):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMintDisabled),
		errors.Is(err, ErrOracleReadOnly),
		errors.Is(err, ErrCustodianCaller):
		return http.StatusForbidden
	case errors.Is(err, ErrAssetExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidParam),
		errors.Is(err, ErrNotWallet),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, asset.ErrInvalidAmount),
		errors.Is(err, asset.ErrZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, asset.ErrInsufficientBalance),
		errors.Is(err, asset.ErrInsufficientAllowance):
		return http.StatusPaymentRequired
	}

	switch settle.ClassOf(err) {
	case settle.ClassAuthorization:
		return http.StatusForbidden
	case settle.ClassState, settle.ClassTiming:
		return http.StatusConflict
	case settle.ClassValue:
		return http.StatusBadRequest
	case settle.ClassTransfer:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	body := gin.H{"error": err.Error()}
	if cls := settle.ClassOf(err); cls != settle.ClassUnknown {
		body["class"] = cls.String()
	}
	entry := s.log.WithError(err).WithField("path", c.FullPath())
	if status >= http.StatusInternalServerError {
		entry.Error("[API] request failed")
	} else {
		entry.Debug("[API] request rejected")
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
