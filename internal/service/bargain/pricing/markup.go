package pricing

import (
	"math"

	"bargain/internal/service/bargain/domain"
)

// biasExponent u^0.8 把抽样偏向区间低端
const biasExponent = 0.8

// InitialPrice 是会话开始时的展示价
type InitialPrice struct {
	Draw          float64 // 原始均匀抽样 u
	Markup        float64 // 抽中的加价百分比
	MarkedUpPrice float64
	Floor         float64 // 议价底线 base * (1 + bargainMin/100)
}

// BiasedMarkup 在 [min, max] 内按 u^0.8 偏置插值，保留两位小数
func BiasedMarkup(r domain.Range, u float64) float64 {
	u = clamp(u, 0, math.Nextafter(1, 0))
	return Round2(r.Min + (r.Max-r.Min)*math.Pow(u, biasExponent))
}

// ComputeInitialPrice 每个会话只抽一次并存档，后续计算复用
func ComputeInitialPrice(base float64, ranges domain.Ranges, rnd RandomSource) InitialPrice {
	u := rnd.Float64()
	m := BiasedMarkup(ranges.Current, u)
	return InitialPrice{
		Draw:          u,
		Markup:        m,
		MarkedUpPrice: applyMarkup(base, m),
		Floor:         applyMarkup(base, ranges.Bargain.Min),
	}
}

// BargainFloor 议价价格永远不能低于的值
func BargainFloor(base float64, ranges domain.Ranges) float64 {
	return applyMarkup(base, ranges.Bargain.Min)
}
