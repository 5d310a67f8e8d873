package pricing

import (
	"fmt"
	"math"

	"bargain/internal/service/bargain/domain"
)

// RoundParams 是单轮的判定参数
type RoundParams struct {
	// AcceptThreshold 接受系数 a > AcceptThreshold 时本轮成交
	AcceptThreshold float64 `yaml:"accept_threshold"`
	// FloorRatio 本轮底线加价 = max(bargainMin, FloorRatio * 展示加价)
	FloorRatio float64 `yaml:"floor_ratio"`
	// PremiumCap 还价不超过用户出价的 PremiumCap 倍
	PremiumCap float64 `yaml:"premium_cap"`
}

// Params 是回合算法的全部可配置参数
type Params struct {
	Round1 RoundParams `yaml:"round1"`
	Round2 RoundParams `yaml:"round2"`
	// CounterDiscount 第一轮未成交时，还价 = 展示价 * (1 - CounterDiscount)
	CounterDiscount float64 `yaml:"counter_discount"`
	// MinWishRatio 用户出价低于 base * MinWishRatio 视为越界
	MinWishRatio float64 `yaml:"min_wish_ratio"`
	// MaxWishRatio 用户出价高于 展示价 * MaxWishRatio 视为越界
	MaxWishRatio float64 `yaml:"max_wish_ratio"`
}

// DefaultParams 第二轮阈值更高、底线更低
func DefaultParams() Params {
	return Params{
		Round1:          RoundParams{AcceptThreshold: 0.5, FloorRatio: 0.70, PremiumCap: 1.05},
		Round2:          RoundParams{AcceptThreshold: 0.6, FloorRatio: 0.65, PremiumCap: 1.02},
		CounterDiscount: 0.15,
		MinWishRatio:    0.3,
		MaxWishRatio:    2.0,
	}
}

// Validate 检查参数取值
func (p Params) Validate() error {
	for i, r := range []RoundParams{p.Round1, p.Round2} {
		if r.AcceptThreshold < 0 || r.AcceptThreshold >= 1 {
			return fmt.Errorf("round%d accept_threshold must be in [0,1)", i+1)
		}
		if r.FloorRatio < 0 || r.FloorRatio > 1 {
			return fmt.Errorf("round%d floor_ratio must be in [0,1]", i+1)
		}
		if r.PremiumCap < 1 {
			return fmt.Errorf("round%d premium_cap must be >= 1", i+1)
		}
	}
	if p.CounterDiscount < 0 || p.CounterDiscount >= 1 {
		return fmt.Errorf("counter_discount must be in [0,1)")
	}
	if p.MinWishRatio < 0 || (p.MaxWishRatio != 0 && p.MaxWishRatio < 1) {
		return fmt.Errorf("wish ratios out of range")
	}
	return nil
}

func (p Params) round(n int) RoundParams {
	if n == 2 {
		return p.Round2
	}
	return p.Round1
}

// Input 是单轮计算的全部输入，相同输入必然得到相同输出
type Input struct {
	Round          int
	BasePrice      float64
	MarkedUpPrice  float64
	AppliedMarkup  float64
	Bargain        domain.Range
	UserWish       float64
	PreviousOffer  float64 // 第一轮的系统报价，仅第二轮使用
	AcceptanceDraw float64
}

// Result 是单轮输出
type Result struct {
	Matched   bool
	Outcome   domain.Outcome
	Offer     float64
	Floor     float64
	Reasoning []string
}

// RoundFloor 返回第 n 轮的底线价格，永远不低于议价区间下限
func RoundFloor(p Params, n int, base, appliedMarkup float64, bargain domain.Range) float64 {
	pct := math.Max(bargain.Min, p.round(n).FloorRatio*appliedMarkup)
	return applyMarkup(base, pct)
}

// Evaluate 计算一轮议价结果，是纯函数
func Evaluate(p Params, in Input) (Result, error) {
	if in.Round < 1 || in.Round > domain.MaxRounds {
		return Result{}, domain.ErrInvalidRound
	}
	if err := checkWish(p, in); err != nil {
		return Result{}, err
	}
	if in.Round == 2 && in.PreviousOffer <= 0 {
		return Result{}, domain.ErrRoundOutOfOrder
	}

	rp := p.round(in.Round)
	bargainFloor := applyMarkup(in.BasePrice, in.Bargain.Min)
	ceiling := in.MarkedUpPrice
	floor := math.Min(RoundFloor(p, in.Round, in.BasePrice, in.AppliedMarkup, in.Bargain), ceiling)

	res := Result{Floor: floor}
	res.Matched = in.AcceptanceDraw > rp.AcceptThreshold
	res.note("round %d: acceptance draw %.4f vs threshold %.2f", in.Round, in.AcceptanceDraw, rp.AcceptThreshold)

	var offer float64
	if res.Matched {
		offer = math.Max(floor, in.UserWish)
		res.note("matched: offer = max(floor %.2f, wish %.2f) = %.2f", floor, in.UserWish, offer)
	} else if in.Round == 1 {
		counter := in.MarkedUpPrice * (1 - p.CounterDiscount)
		capped := math.Min(counter, in.UserWish*rp.PremiumCap)
		res.note("counter: %.2f less %.0f%% = %.2f, capped at wish x %.2f = %.2f",
			in.MarkedUpPrice, p.CounterDiscount*100, counter, rp.PremiumCap, capped)
		offer = capped
	} else {
		mid := (in.PreviousOffer + in.UserWish) / 2
		upper := in.UserWish * rp.PremiumCap
		res.note("counter: midpoint(%.2f, %.2f) = %.2f, bounded to [%.2f, %.2f]",
			in.PreviousOffer, in.UserWish, mid, floor, upper)
		// 上下界交叉时底线优先
		offer = math.Max(math.Min(mid, upper), floor)
	}

	bounded := clamp(offer, bargainFloor, ceiling)
	if bounded != offer {
		res.note("offer %.2f clamped to [%.2f, %.2f]", offer, bargainFloor, ceiling)
	}
	res.Offer = Round2(bounded)

	switch {
	case res.Matched:
		res.Outcome = domain.OutcomeAccept
	case in.UserWish < in.BasePrice:
		res.Outcome = domain.OutcomeReject
		res.note("reject: wish %.2f is below net price", in.UserWish)
	default:
		res.Outcome = domain.OutcomeCounter
	}
	return res, nil
}

func checkWish(p Params, in Input) error {
	w := in.UserWish
	if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
		return fmt.Errorf("%w: wish must be a positive amount", domain.ErrInvalidOffer)
	}
	if p.MinWishRatio > 0 && w < in.BasePrice*p.MinWishRatio {
		return fmt.Errorf("%w: wish %.2f is below %.0f%% of the price", domain.ErrInvalidOffer, w, p.MinWishRatio*100)
	}
	if p.MaxWishRatio > 0 && w > in.MarkedUpPrice*p.MaxWishRatio {
		return fmt.Errorf("%w: wish %.2f is above the displayed price", domain.ErrInvalidOffer, w)
	}
	return nil
}

func (r *Result) note(format string, args ...interface{}) {
	r.Reasoning = append(r.Reasoning, fmt.Sprintf(format, args...))
}
