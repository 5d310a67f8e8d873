package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// IntegrationInput 是议价后叠加优惠码的输入
type IntegrationInput struct {
	NetPrice      float64
	MarkedUpPrice float64
	// BargainedPrice 没有议价时传展示价
	BargainedPrice float64
	PromoCode      string
	// PromoDiscount 是优惠校验给出的折扣金额；PromoValid 为 false 时忽略
	PromoDiscount float64
	PromoValid    bool
	PromoReason   string
	// MinMarkupPercent 最终价相对净价的最低加价
	MinMarkupPercent float64
}

// IntegrationResult 包含最终价和逐步说明
type IntegrationResult struct {
	NetPrice          float64  `json:"netPrice"`
	MarkedUpPrice     float64  `json:"markedUpPrice"`
	BargainedPrice    float64  `json:"bargainedPrice"`
	MinimumFinalPrice float64  `json:"minimumFinalPrice"`
	PromoCode         string   `json:"promoCode,omitempty"`
	RequestedDiscount float64  `json:"requestedDiscount"`
	AppliedDiscount   float64  `json:"appliedDiscount"`
	PromoApplied      bool     `json:"promoApplied"`
	PromoAdjusted     bool     `json:"promoAdjusted"`
	FinalPrice        float64  `json:"finalPrice"`
	Flow              []string `json:"flow"`
}

// Integrate 合并议价结果与优惠折扣，最终价不会低于最低加价线，也不会低于净价
func Integrate(in IntegrationInput) IntegrationResult {
	net := decimal.NewFromFloat(in.NetPrice)
	bargained := decimal.NewFromFloat(in.BargainedPrice)
	hundred := decimal.NewFromInt(100)
	minFinal := net.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(in.MinMarkupPercent).Div(hundred))).Round(2)

	res := IntegrationResult{
		NetPrice:          in.NetPrice,
		MarkedUpPrice:     in.MarkedUpPrice,
		BargainedPrice:    in.BargainedPrice,
		MinimumFinalPrice: f64(minFinal),
		PromoCode:         in.PromoCode,
	}
	res.step("net price %s, marked-up price %.2f, bargained price %s", net.StringFixed(2), in.MarkedUpPrice, bargained.StringFixed(2))
	res.step("minimum final price = net x (1 + %.2f%%) = %s", in.MinMarkupPercent, minFinal.StringFixed(2))

	final := bargained
	switch {
	case in.PromoCode == "":
		res.step("no promo code supplied")
	case !in.PromoValid:
		reason := in.PromoReason
		if reason == "" {
			reason = "invalid"
		}
		res.step("promo %s not applied: %s", in.PromoCode, reason)
	default:
		discount := decimal.NewFromFloat(in.PromoDiscount).Round(2)
		res.RequestedDiscount = f64(discount)
		proposed := bargained.Sub(discount)
		res.step("promo %s discount %s, proposed final %s", in.PromoCode, discount.StringFixed(2), proposed.StringFixed(2))

		if proposed.GreaterThanOrEqual(minFinal) {
			final = proposed
			res.AppliedDiscount = f64(discount)
			res.step("discount applied in full")
		} else {
			allowed := bargained.Sub(minFinal)
			if allowed.IsNegative() {
				allowed = decimal.Zero
			}
			final = bargained.Sub(allowed)
			res.AppliedDiscount = f64(allowed)
			res.PromoAdjusted = true
			res.step("discount reduced to %s to keep the minimum final price", allowed.StringFixed(2))
		}
		res.PromoApplied = res.AppliedDiscount > 0
	}

	if final.LessThan(net) {
		res.step("final price %s below net, clamped to %s", final.StringFixed(2), net.StringFixed(2))
		final = net
	}
	res.FinalPrice = f64(final.Round(2))
	res.step("final price %.2f", res.FinalPrice)
	return res
}

func (r *IntegrationResult) step(format string, args ...interface{}) {
	r.Flow = append(r.Flow, fmt.Sprintf(format, args...))
}

func f64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
