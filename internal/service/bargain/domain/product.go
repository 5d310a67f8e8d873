package domain

import (
	"fmt"
	"strings"
)

// Category 产品类别
type Category string

const (
	CategoryHotel    Category = "hotel"
	CategoryFlight   Category = "flight"
	CategoryTransfer Category = "transfer"
	CategoryPackage  Category = "package"
	CategoryAddon    Category = "addon"
)

// Categories 是所有已知类别
var Categories = []Category{CategoryHotel, CategoryFlight, CategoryTransfer, CategoryPackage, CategoryAddon}

// ParseCategory 大小写不敏感地解析类别
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// UserType 区分 C 端和 B 端用户
type UserType string

const (
	UserTypeB2C UserType = "b2c"
	UserTypeB2B UserType = "b2b"
	UserTypeAll UserType = "all"
)

// ParseUserType 空值按 b2c 处理
func ParseUserType(s string) (UserType, error) {
	switch UserType(strings.ToLower(strings.TrimSpace(s))) {
	case "", UserTypeB2C:
		return UserTypeB2C, nil
	case UserTypeB2B:
		return UserTypeB2B, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUserType, s)
	}
}

// Product 是被议价的商品描述，由调用方持有，会话只引用不修改。
type Product struct {
	ID        string   `json:"id"`
	Category  Category `json:"category"`
	Name      string   `json:"name"`
	BasePrice float64  `json:"basePrice"`
	Currency  string   `json:"currency"`
	City      string   `json:"city,omitempty"`
	Supplier  string   `json:"supplier,omitempty"`

	// 航班维度
	Airline     string `json:"airline,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	CabinClass  string `json:"cabinClass,omitempty"`

	// 酒店维度
	HotelID      string `json:"hotelId,omitempty"`
	StarRating   int    `json:"starRating,omitempty"`
	RoomCategory string `json:"roomCategory,omitempty"`

	CountryCode string `json:"countryCode,omitempty"`
}

// Validate 检查必填字段。类别由加价解析判断，未知类别属于加价配置缺口。
func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	}
	if p.BasePrice <= 0 {
		return fmt.Errorf("%w: base price must be positive", ErrInvalidProduct)
	}
	if len(p.Currency) != 3 {
		return fmt.Errorf("%w: currency must be an ISO 4217 code", ErrInvalidProduct)
	}
	return nil
}
