package pricing

import "github.com/shopspring/decimal"

// Round2 四舍五入到两位小数
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// applyMarkup 返回 base * (1 + pct/100)，保留两位小数
func applyMarkup(base, pct float64) float64 {
	b := decimal.NewFromFloat(base)
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)))
	f, _ := b.Mul(factor).Round(2).Float64()
	return f
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
