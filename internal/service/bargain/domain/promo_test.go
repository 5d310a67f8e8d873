package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPromoCode_Check(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	base := func() PromoCode {
		return PromoCode{
			Code:         "SUMMER10",
			DiscountType: DiscountPercentage,
			Value:        10,
			MaxDiscount:  80,
			Categories:   []Category{CategoryHotel},
			Countries:    []string{"AE"},
			ValidFrom:    now.Add(-time.Hour),
			ValidTo:      now.Add(time.Hour),
			Active:       true,
		}
	}
	req := PromoRequest{Code: "SUMMER10", Amount: 500, Category: CategoryHotel, CountryCode: "ae"}

	tests := []struct {
		name     string
		mut      func(*PromoCode)
		req      func(*PromoRequest)
		valid    bool
		reason   string
		discount float64
	}{
		{name: "percentage", valid: true, discount: 50},
		{name: "percentage capped", req: func(r *PromoRequest) { r.Amount = 1000 }, valid: true, discount: 80},
		{name: "fixed", mut: func(p *PromoCode) { p.DiscountType = DiscountFixed; p.Value = 150 }, valid: true, discount: 150},
		{name: "fixed above amount", mut: func(p *PromoCode) { p.DiscountType = DiscountFixed; p.Value = 900 }, valid: true, discount: 500},
		{name: "inactive", mut: func(p *PromoCode) { p.Active = false }, reason: PromoReasonInactive},
		{name: "not started", mut: func(p *PromoCode) { p.ValidFrom = now.Add(time.Minute) }, reason: PromoReasonNotStarted},
		{name: "expired", mut: func(p *PromoCode) { p.ValidTo = now.Add(-time.Minute) }, reason: PromoReasonExpired},
		{name: "exhausted", mut: func(p *PromoCode) { p.UsageLimit = 5; p.UsedCount = 5 }, reason: PromoReasonExhausted},
		{name: "below minimum", mut: func(p *PromoCode) { p.MinOrderAmount = 600 }, reason: PromoReasonMinOrder},
		{name: "wrong category", req: func(r *PromoRequest) { r.Category = CategoryFlight }, reason: PromoReasonCategory},
		{name: "wrong country", req: func(r *PromoRequest) { r.CountryCode = "IN" }, reason: PromoReasonGeography},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, r := base(), req
			if tt.mut != nil {
				tt.mut(&p)
			}
			if tt.req != nil {
				tt.req(&r)
			}
			res := p.Check(r, now)
			assert.Equal(t, tt.valid, res.Valid)
			assert.Equal(t, tt.reason, res.Reason)
			assert.InDelta(t, tt.discount, res.Discount, 1e-9)
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("  save10 "))
}
