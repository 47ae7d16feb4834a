// 文件: pkg/option/pricing.go
// 行权金额计算

package option

import "github.com/shopspring/decimal"

// StrikeValue 行权时以报价资产最小单位计的结算金额
//
//	strikeValue = floor(quantity * strikePrice * 10^(quoteDec - underlyingDec - oracleDec))
//
// quantity 以标的最小单位计，strikePrice 以预言机精度计 (每一整单位标的)。
// 只在构造时算一次并缓存。
func StrikeValue(quantity, strikePrice decimal.Decimal, underlyingDec, quoteDec, oracleDec int32) (decimal.Decimal, error) {
	if quantity.Sign() <= 0 || !quantity.IsInteger() {
		return decimal.Zero, ErrZeroQuantity
	}
	if strikePrice.Sign() <= 0 || !strikePrice.IsInteger() {
		return decimal.Zero, ErrZeroStrikePrice
	}

	exp := quoteDec - underlyingDec - oracleDec
	v := quantity.Mul(strikePrice).Shift(exp).Floor()
	if v.Sign() <= 0 {
		return decimal.Zero, ErrZeroStrikeValue
	}
	return v, nil
}
