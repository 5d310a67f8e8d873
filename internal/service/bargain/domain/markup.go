package domain

import (
	"fmt"
	"strings"
	"time"
)

// Range 是一个百分比区间，单位为 %
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (r Range) Valid() bool {
	return r.Min >= 0 && r.Min <= r.Max
}

// Ranges 包含展示价区间(current fare)和议价底线区间(bargain fare)
type Ranges struct {
	Current Range `json:"currentFare" yaml:"current"`
	Bargain Range `json:"bargainFare" yaml:"bargain"`
}

// Validate 议价区间必须比展示区间更严格：0 <= b.Min <= c.Min，b.Max <= c.Max
func (r Ranges) Validate() error {
	if !r.Current.Valid() {
		return fmt.Errorf("current fare range [%v, %v] is invalid", r.Current.Min, r.Current.Max)
	}
	if !r.Bargain.Valid() {
		return fmt.Errorf("bargain fare range [%v, %v] is invalid", r.Bargain.Min, r.Bargain.Max)
	}
	if r.Bargain.Min > r.Current.Min || r.Bargain.Max > r.Current.Max {
		return fmt.Errorf("bargain fare range [%v, %v] exceeds current fare range [%v, %v]",
			r.Bargain.Min, r.Bargain.Max, r.Current.Min, r.Current.Max)
	}
	return nil
}

// MarkupRule 是加价策略记录。由外部管理后台维护，议价核心只读。
type MarkupRule struct {
	ID       int64
	Name     string
	Category Category
	UserType UserType

	// 可选维度，空值表示通配
	Airline      string
	Origin       string
	Destination  string
	CabinClass   string
	City         string
	HotelID      string
	StarRating   int
	RoomCategory string

	Ranges   Ranges
	Priority int // 数值越小优先级越高

	ValidFrom time.Time // 零值表示不限
	ValidTo   time.Time

	// Condition 是可选的 CEL 表达式，例如 `product.supplier == "hotelbeds"`
	Condition string
	Active    bool
}

// ProductContext 是解析加价规则的输入
type ProductContext struct {
	Product  Product
	UserType UserType
}

// Matches 判断规则是否适用（不含 CEL 条件）
func (r *MarkupRule) Matches(pc ProductContext, now time.Time) bool {
	if !r.Active || r.Category != pc.Product.Category {
		return false
	}
	if r.UserType != "" && r.UserType != UserTypeAll && r.UserType != pc.UserType {
		return false
	}
	if !r.ValidFrom.IsZero() && now.Before(r.ValidFrom) {
		return false
	}
	if !r.ValidTo.IsZero() && now.After(r.ValidTo) {
		return false
	}
	p := pc.Product
	return dimMatch(r.Airline, p.Airline) &&
		dimMatch(r.Origin, p.Origin) &&
		dimMatch(r.Destination, p.Destination) &&
		dimMatch(r.CabinClass, p.CabinClass) &&
		dimMatch(r.City, p.City) &&
		dimMatch(r.HotelID, p.HotelID) &&
		dimMatch(r.RoomCategory, p.RoomCategory) &&
		(r.StarRating == 0 || r.StarRating == p.StarRating)
}

// Specificity 返回规则设置了多少个维度，用于同优先级时的决胜
func (r *MarkupRule) Specificity() int {
	n := 0
	for _, d := range []string{r.Airline, r.Origin, r.Destination, r.CabinClass, r.City, r.HotelID, r.RoomCategory} {
		if d != "" {
			n++
		}
	}
	if r.StarRating != 0 {
		n++
	}
	if r.UserType != "" && r.UserType != UserTypeAll {
		n++
	}
	return n
}

func dimMatch(rule, value string) bool {
	return rule == "" || strings.EqualFold(rule, value)
}

// Resolution 是加价解析结果
type Resolution struct {
	RuleID   int64  `json:"ruleId,omitempty"`
	RuleName string `json:"ruleName,omitempty"`
	Ranges   Ranges `json:"ranges"`
	// Default 为 true 表示没有命中规则，使用了类别默认区间
	Default bool `json:"default"`
	// Fallback 为 true 表示加价服务不可用，使用了保守兜底区间
	Fallback bool `json:"fallback"`
}
