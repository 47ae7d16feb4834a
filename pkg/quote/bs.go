// 文件: pkg/quote/bs.go
// Black-Scholes 欧式期权定价 (无分红)
//
// 参数约定:
// S: 标的现价  K: 执行价  r: 无风险利率 (年化连续复利)
// sigma: 年化波动率  T: 剩余期限 (年)
//
// 浮点计算只用于给出建议权利金, 结算从不使用这里的结果

package quote

import (
	"errors"
	"math"
)

var (
	ErrInvalidInputs = errors.New("invalid inputs")
	ErrNoConvergence = errors.New("failed to converge to implied volatility")
)

// PriceCallBS 看涨期权价格
func PriceCallBS(S, K, r, sigma, T float64) (float64, error) {
	if err := validateBSInputs(S, K, sigma, T); err != nil {
		return 0, err
	}
	// 到期: 内在价值
	if T == 0 {
		return math.Max(S-K, 0), nil
	}
	if sigma == 0 {
		return math.Max(S-K*math.Exp(-r*T), 0), nil
	}

	d1 := calcD1(S, K, r, sigma, T)
	d2 := d1 - sigma*math.Sqrt(T)
	return S*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2), nil
}

// PricePutBS 看跌期权价格
func PricePutBS(S, K, r, sigma, T float64) (float64, error) {
	if err := validateBSInputs(S, K, sigma, T); err != nil {
		return 0, err
	}
	if T == 0 {
		return math.Max(K-S, 0), nil
	}
	if sigma == 0 {
		return math.Max(K*math.Exp(-r*T)-S, 0), nil
	}

	d1 := calcD1(S, K, r, sigma, T)
	d2 := d1 - sigma*math.Sqrt(T)
	return K*math.Exp(-r*T)*normCDF(-d2) - S*normCDF(-d1), nil
}

// ImpliedVolatility 牛顿法反推隐含波动率; call=false 时按看跌期权价格反推
func ImpliedVolatility(S, K, r, marketPrice, T float64, call bool) (float64, error) {
	const (
		tolerance     = 1e-6
		maxIterations = 100
	)
	price := PricePutBS
	if call {
		price = PriceCallBS
	}

	sigma := 0.2
	for i := 0; i < maxIterations; i++ {
		p, err := price(S, K, r, sigma, T)
		if err != nil {
			return 0, err
		}
		vega, err := Vega(S, K, r, sigma, T)
		if err != nil {
			return 0, err
		}

		diff := marketPrice - p
		if math.Abs(diff) < tolerance {
			return sigma, nil
		}
		// vega 过小时牛顿步会发散
		if vega < 1e-12 {
			break
		}
		sigma += diff / vega
		if sigma <= 0 {
			sigma = 1e-4
		}
	}
	return 0, ErrNoConvergence
}

// =============================================================================
// Greeks
// =============================================================================

// DeltaCall 看涨 Delta
func DeltaCall(S, K, r, sigma, T float64) (float64, error) {
	if err := validateGreekInputs(S, K, sigma, T); err != nil {
		return 0, err
	}
	return normCDF(calcD1(S, K, r, sigma, T)), nil
}

// DeltaPut 看跌 Delta = DeltaCall - 1
func DeltaPut(S, K, r, sigma, T float64) (float64, error) {
	d, err := DeltaCall(S, K, r, sigma, T)
	if err != nil {
		return 0, err
	}
	return d - 1, nil
}

// Gamma 看涨看跌相同
func Gamma(S, K, r, sigma, T float64) (float64, error) {
	if err := validateGreekInputs(S, K, sigma, T); err != nil {
		return 0, err
	}
	d1 := calcD1(S, K, r, sigma, T)
	return normPDF(d1) / (S * sigma * math.Sqrt(T)), nil
}

// Vega 看涨看跌相同
func Vega(S, K, r, sigma, T float64) (float64, error) {
	if err := validateGreekInputs(S, K, sigma, T); err != nil {
		return 0, err
	}
	d1 := calcD1(S, K, r, sigma, T)
	return S * math.Sqrt(T) * normPDF(d1), nil
}

// ThetaCall 看涨 Theta (每年)
func ThetaCall(S, K, r, sigma, T float64) (float64, error) {
	if err := validateGreekInputs(S, K, sigma, T); err != nil {
		return 0, err
	}
	d1 := calcD1(S, K, r, sigma, T)
	d2 := d1 - sigma*math.Sqrt(T)
	return -S*normPDF(d1)*sigma/(2*math.Sqrt(T)) - r*K*math.Exp(-r*T)*normCDF(d2), nil
}

// ThetaPut 看跌 Theta (每年)
func ThetaPut(S, K, r, sigma, T float64) (float64, error) {
	if err := validateGreekInputs(S, K, sigma, T); err != nil {
		return 0, err
	}
	d1 := calcD1(S, K, r, sigma, T)
	d2 := d1 - sigma*math.Sqrt(T)
	return -S*normPDF(d1)*sigma/(2*math.Sqrt(T)) + r*K*math.Exp(-r*T)*normCDF(-d2), nil
}

func validateBSInputs(S, K, sigma, T float64) error {
	if S <= 0 || K <= 0 {
		return ErrInvalidInputs
	}
	if sigma < 0 || T < 0 {
		return ErrInvalidInputs
	}
	return nil
}

// Greeks 在 sigma=0 或 T=0 处没有定义
func validateGreekInputs(S, K, sigma, T float64) error {
	if S <= 0 || K <= 0 || sigma <= 0 || T <= 0 {
		return ErrInvalidInputs
	}
	return nil
}

// calcD1 d1 = [ln(S/K) + (r + sigma^2/2)T] / (sigma * sqrt(T))
func calcD1(S, K, r, sigma, T float64) float64 {
	return (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
}

// normCDF N(x) = 0.5 * (1 + erf(x / sqrt(2)))
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

func normPDF(x float64) float64 {
	return (1.0 / math.Sqrt(2*math.Pi)) * math.Exp(-0.5*x*x)
}
