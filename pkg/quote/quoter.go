// 文件: pkg/quote/quoter.go
// 期权建议权利金
//
// 把期权快照里的最小单位换算成整币价格, 套 Black-Scholes,
// 再按 quantity 换回报价资产最小单位 (向下取整)

package quote

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
)

const yearSeconds = 365 * 24 * 60 * 60

var ErrInvalidSpot = errors.New("spot price must be positive")

// Params 市场参数
type Params struct {
	Vol  float64 // 年化波动率, 0.8 = 80%
	Rate float64 // 无风险利率
}

// DefaultParams 默认参数
func DefaultParams() Params {
	return Params{Vol: 0.8, Rate: 0.05}
}

// Quote 报价结果
type Quote struct {
	OptionID int64           `json:"option_id"`
	Kind     option.Kind     `json:"kind"`
	Spot     float64         `json:"spot"`   // 1 个标的值多少报价资产
	Strike   float64         `json:"strike"` // 同上
	Years    float64         `json:"years"`
	Vol      float64         `json:"vol"`
	Rate     float64         `json:"rate"`
	Unit     float64         `json:"unit_price"` // 每个标的的期权价格
	Premium  decimal.Decimal `json:"premium"`    // 报价资产最小单位
	Delta    float64         `json:"delta"`
	Gamma    float64         `json:"gamma"`
	Vega     float64         `json:"vega"`
	Theta    float64         `json:"theta"`
}

// Quoter 报价器
type Quoter struct {
	defaults Params
}

// NewQuoter 创建; 请求里为 0 的参数用 defaults 补齐
func NewQuoter(defaults Params) *Quoter {
	return &Quoter{defaults: defaults}
}

// Quote 计算建议权利金
//
// spot/spotDecimals 是预言机给出的标的现价及精度
func (q *Quoter) Quote(snap option.Snapshot, spot decimal.Decimal, spotDecimals int32, p Params, now time.Time) (Quote, error) {
	if spot.Sign() <= 0 {
		return Quote{}, ErrInvalidSpot
	}
	if p.Vol == 0 {
		p.Vol = q.defaults.Vol
	}
	if p.Rate == 0 {
		p.Rate = q.defaults.Rate
	}

	S := spot.Shift(-spotDecimals).InexactFloat64()
	K := snap.StrikePrice.Shift(-snap.OracleDecimals).InexactFloat64()
	T := snap.Expiry.Sub(now).Seconds() / yearSeconds
	if T < 0 {
		T = 0
	}

	price := PriceCallBS
	if snap.Kind == option.Put {
		price = PricePutBS
	}
	unit, err := price(S, K, p.Rate, p.Vol, T)
	if err != nil {
		return Quote{}, err
	}

	// unit * (quantity / 10^ud) * 10^qd
	premium := decimal.NewFromFloat(unit).
		Mul(snap.Quantity).
		Shift(snap.QuoteDecimals - snap.UnderlyingDecimals).
		Floor()

	out := Quote{
		OptionID: snap.ID,
		Kind:     snap.Kind,
		Spot:     S,
		Strike:   K,
		Years:    T,
		Vol:      p.Vol,
		Rate:     p.Rate,
		Unit:     unit,
		Premium:  premium,
	}

	// 到期或零波动率时 Greeks 无定义, 留 0
	if T > 0 && p.Vol > 0 {
		if snap.Kind == option.Put {
			out.Delta, _ = DeltaPut(S, K, p.Rate, p.Vol, T)
			out.Theta, _ = ThetaPut(S, K, p.Rate, p.Vol, T)
		} else {
			out.Delta, _ = DeltaCall(S, K, p.Rate, p.Vol, T)
			out.Theta, _ = ThetaCall(S, K, p.Rate, p.Vol, T)
		}
		out.Gamma, _ = Gamma(S, K, p.Rate, p.Vol, T)
		out.Vega, _ = Vega(S, K, p.Rate, p.Vol, T)
	}
	return out, nil
}
