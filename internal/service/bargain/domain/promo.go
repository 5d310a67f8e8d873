package domain

import (
	"math"
	"strings"
	"time"
)

// DiscountType 优惠类型
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// PromoCode 是优惠码描述。议价核心只读。
type PromoCode struct {
	Code           string
	DiscountType   DiscountType
	Value          float64 // 百分比或固定金额
	MaxDiscount    float64 // 百分比优惠的封顶金额，0 表示不封顶
	MinOrderAmount float64
	Categories     []Category // 空表示全部类别
	Countries      []string
	Cities         []string
	UsageLimit     int // 0 表示不限
	UsedCount      int
	ValidFrom      time.Time
	ValidTo        time.Time
	Condition      string // 可选 CEL 表达式
	Active         bool
}

// PromoRequest 是一次校验的上下文
type PromoRequest struct {
	Code        string   `json:"code"`
	Amount      float64  `json:"amount"`
	Category    Category `json:"category"`
	CountryCode string   `json:"countryCode,omitempty"`
	City        string   `json:"city,omitempty"`
	UserID      string   `json:"userId,omitempty"`
}

// PromoResult 是校验结果。Valid 为 false 时 Reason 说明原因。
type PromoResult struct {
	Valid    bool    `json:"valid"`
	Code     string  `json:"code"`
	Discount float64 `json:"discount"`
	Reason   string  `json:"reason,omitempty"`
	// Skipped 表示优惠服务不可用，本次跳过优惠
	Skipped bool `json:"skipped,omitempty"`
}

// 不可用原因
const (
	PromoReasonInactive    = "promo_inactive"
	PromoReasonNotStarted  = "promo_not_started"
	PromoReasonExpired     = "promo_expired"
	PromoReasonExhausted   = "promo_usage_exhausted"
	PromoReasonMinOrder    = "order_below_minimum"
	PromoReasonCategory    = "category_not_applicable"
	PromoReasonGeography   = "geography_not_applicable"
	PromoReasonCondition   = "condition_not_met"
	PromoReasonUnavailable = "promo_service_unavailable"
	PromoReasonNotFound    = "promo_not_found"
)

// Check 校验除 CEL 条件以外的所有约束，返回可用的折扣金额
func (p *PromoCode) Check(req PromoRequest, now time.Time) PromoResult {
	res := PromoResult{Code: p.Code}
	switch {
	case !p.Active:
		res.Reason = PromoReasonInactive
	case !p.ValidFrom.IsZero() && now.Before(p.ValidFrom):
		res.Reason = PromoReasonNotStarted
	case !p.ValidTo.IsZero() && now.After(p.ValidTo):
		res.Reason = PromoReasonExpired
	case p.UsageLimit > 0 && p.UsedCount >= p.UsageLimit:
		res.Reason = PromoReasonExhausted
	case req.Amount < p.MinOrderAmount:
		res.Reason = PromoReasonMinOrder
	case !p.appliesToCategory(req.Category):
		res.Reason = PromoReasonCategory
	case !containsFold(p.Countries, req.CountryCode) || !containsFold(p.Cities, req.City):
		res.Reason = PromoReasonGeography
	}
	if res.Reason != "" {
		return res
	}

	res.Valid = true
	res.Discount = p.discountFor(req.Amount)
	return res
}

func (p *PromoCode) discountFor(amount float64) float64 {
	var d float64
	switch p.DiscountType {
	case DiscountPercentage:
		d = amount * p.Value / 100
		if p.MaxDiscount > 0 {
			d = math.Min(d, p.MaxDiscount)
		}
	default:
		d = p.Value
	}
	return math.Max(0, math.Min(d, amount))
}

func (p *PromoCode) appliesToCategory(c Category) bool {
	if len(p.Categories) == 0 {
		return true
	}
	for _, k := range p.Categories {
		if k == c {
			return true
		}
	}
	return false
}

// containsFold 空列表视为全部适用
func containsFold(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// NormalizeCode 优惠码统一大写并去掉空白
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
