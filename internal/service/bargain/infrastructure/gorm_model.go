package infrastructure

import (
	"time"

	"gorm.io/gorm"
)

// MarkupRuleModel 对应 markup_rule 表，由管理后台维护
type MarkupRuleModel struct {
	gorm.Model
	Name         string
	Category     string `gorm:"type:varchar(16);index:idx_markup_category_active"`
	UserType     string `gorm:"type:varchar(8);default:all"`
	Airline      string `gorm:"type:varchar(8)"`
	Origin       string `gorm:"type:varchar(8)"`
	Destination  string `gorm:"type:varchar(8)"`
	CabinClass   string `gorm:"type:varchar(16)"`
	City         string `gorm:"type:varchar(64)"`
	HotelID      string `gorm:"type:varchar(64)"`
	StarRating   int
	RoomCategory string  `gorm:"type:varchar(32)"`
	CurrentMin   float64 `gorm:"type:decimal(6,2)"`
	CurrentMax   float64 `gorm:"type:decimal(6,2)"`
	BargainMin   float64 `gorm:"type:decimal(6,2)"`
	BargainMax   float64 `gorm:"type:decimal(6,2)"`
	Priority     int
	ValidFrom    *time.Time
	ValidTo      *time.Time
	Condition    string `gorm:"type:text"`
	Active       bool   `gorm:"index:idx_markup_category_active"`
}

func (MarkupRuleModel) TableName() string {
	return "markup_rule"
}

// PromoCodeModel 对应 promo_code 表。Categories/Countries/Cities 以逗号分隔存储。
type PromoCodeModel struct {
	gorm.Model
	Code           string `gorm:"type:varchar(32);uniqueIndex"`
	DiscountType   string `gorm:"type:varchar(16)"`
	Value          float64 `gorm:"type:decimal(10,2)"`
	MaxDiscount    float64 `gorm:"type:decimal(10,2)"`
	MinOrderAmount float64 `gorm:"type:decimal(10,2)"`
	Categories     string
	Countries      string
	Cities         string `gorm:"type:text"`
	UsageLimit     int
	UsedCount      int
	ValidFrom      *time.Time
	ValidTo        *time.Time
	Condition      string `gorm:"type:text"`
	Active         bool
}

func (PromoCodeModel) TableName() string {
	return "promo_code"
}

// FeatureFlagModel 只有一行，ID 固定为 featureFlagRowID
type FeatureFlagModel struct {
	ID             uint `gorm:"primaryKey"`
	KillSwitch     bool
	TrafficPercent float64 `gorm:"type:decimal(5,4)"`
	ShadowMode     bool
	UpdatedAt      time.Time
	UpdatedBy      string `gorm:"type:varchar(64)"`
}

func (FeatureFlagModel) TableName() string {
	return "bargain_feature_flag"
}

const featureFlagRowID = 1
