package infrastructure

import (
	"strings"
	"time"

	"bargain/internal/featureflag"
	"bargain/internal/service/bargain/domain"
)

// ToDomainMarkupRule 将数据库模型转换为领域模型
func ToDomainMarkupRule(m *MarkupRuleModel) domain.MarkupRule {
	return domain.MarkupRule{
		ID:           int64(m.ID),
		Name:         m.Name,
		Category:     domain.Category(strings.ToLower(m.Category)),
		UserType:     domain.UserType(strings.ToLower(m.UserType)),
		Airline:      m.Airline,
		Origin:       m.Origin,
		Destination:  m.Destination,
		CabinClass:   m.CabinClass,
		City:         m.City,
		HotelID:      m.HotelID,
		StarRating:   m.StarRating,
		RoomCategory: m.RoomCategory,
		Ranges: domain.Ranges{
			Current: domain.Range{Min: m.CurrentMin, Max: m.CurrentMax},
			Bargain: domain.Range{Min: m.BargainMin, Max: m.BargainMax},
		},
		Priority:  m.Priority,
		ValidFrom: derefTime(m.ValidFrom),
		ValidTo:   derefTime(m.ValidTo),
		Condition: m.Condition,
		Active:    m.Active,
	}
}

// FromDomainMarkupRule 用于初始化数据和测试
func FromDomainMarkupRule(r domain.MarkupRule) *MarkupRuleModel {
	m := &MarkupRuleModel{
		Name:         r.Name,
		Category:     string(r.Category),
		UserType:     string(r.UserType),
		Airline:      r.Airline,
		Origin:       r.Origin,
		Destination:  r.Destination,
		CabinClass:   r.CabinClass,
		City:         r.City,
		HotelID:      r.HotelID,
		StarRating:   r.StarRating,
		RoomCategory: r.RoomCategory,
		CurrentMin:   r.Ranges.Current.Min,
		CurrentMax:   r.Ranges.Current.Max,
		BargainMin:   r.Ranges.Bargain.Min,
		BargainMax:   r.Ranges.Bargain.Max,
		Priority:     r.Priority,
		ValidFrom:    refTime(r.ValidFrom),
		ValidTo:      refTime(r.ValidTo),
		Condition:    r.Condition,
		Active:       r.Active,
	}
	m.ID = uint(r.ID)
	return m
}

// ToDomainPromoCode 将数据库模型转换为领域模型
func ToDomainPromoCode(m *PromoCodeModel) *domain.PromoCode {
	if m == nil {
		return nil
	}
	var cats []domain.Category
	for _, c := range splitList(m.Categories) {
		cats = append(cats, domain.Category(strings.ToLower(c)))
	}
	return &domain.PromoCode{
		Code:           domain.NormalizeCode(m.Code),
		DiscountType:   domain.DiscountType(strings.ToLower(m.DiscountType)),
		Value:          m.Value,
		MaxDiscount:    m.MaxDiscount,
		MinOrderAmount: m.MinOrderAmount,
		Categories:     cats,
		Countries:      splitList(m.Countries),
		Cities:         splitList(m.Cities),
		UsageLimit:     m.UsageLimit,
		UsedCount:      m.UsedCount,
		ValidFrom:      derefTime(m.ValidFrom),
		ValidTo:        derefTime(m.ValidTo),
		Condition:      m.Condition,
		Active:         m.Active,
	}
}

func ToDomainFlagState(m *FeatureFlagModel) featureflag.State {
	return featureflag.State{
		KillSwitch:     m.KillSwitch,
		TrafficPercent: m.TrafficPercent,
		ShadowMode:     m.ShadowMode,
		UpdatedAt:      m.UpdatedAt,
		UpdatedBy:      m.UpdatedBy,
	}
}

func FromDomainFlagState(s featureflag.State) *FeatureFlagModel {
	return &FeatureFlagModel{
		ID:             featureFlagRowID,
		KillSwitch:     s.KillSwitch,
		TrafficPercent: s.TrafficPercent,
		ShadowMode:     s.ShadowMode,
		UpdatedAt:      s.UpdatedAt,
		UpdatedBy:      s.UpdatedBy,
	}
}

// splitList 将逗号分隔的字符串转换为切片，空串返回 nil
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func refTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
