package infrastructure

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bargain/internal/featureflag"
	"bargain/internal/service/bargain/domain"
)

func TestMarkupRuleMapping(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := domain.MarkupRule{
		ID:       7,
		Name:     "EK economy",
		Category: domain.CategoryFlight,
		UserType: domain.UserTypeB2C,
		Airline:  "EK",
		Ranges: domain.Ranges{
			Current: domain.Range{Min: 10, Max: 20},
			Bargain: domain.Range{Min: 5, Max: 15},
		},
		Priority:  1,
		ValidFrom: from,
		Active:    true,
	}

	m := FromDomainMarkupRule(rule)
	assert.Equal(t, uint(7), m.ID)
	assert.Nil(t, m.ValidTo)

	back := ToDomainMarkupRule(m)
	assert.Equal(t, rule, back)
}

func TestPromoCodeMapping(t *testing.T) {
	m := &PromoCodeModel{
		Code:         " summer10 ",
		DiscountType: "PERCENTAGE",
		Value:        10,
		Categories:   "Hotel, flight",
		Countries:    "AE,IN",
		Cities:       "",
		Active:       true,
	}
	p := ToDomainPromoCode(m)

	assert.Equal(t, "SUMMER10", p.Code)
	assert.Equal(t, domain.DiscountPercentage, p.DiscountType)
	assert.Equal(t, []domain.Category{domain.CategoryHotel, domain.CategoryFlight}, p.Categories)
	assert.Equal(t, []string{"AE", "IN"}, p.Countries)
	assert.Nil(t, p.Cities)
	assert.True(t, p.ValidTo.IsZero())
	assert.Nil(t, ToDomainPromoCode(nil))
}

func TestFlagStateMapping(t *testing.T) {
	st := featureflag.State{TrafficPercent: 0.25, ShadowMode: true, UpdatedBy: "ops", UpdatedAt: time.Unix(100, 0).UTC()}
	m := FromDomainFlagState(st)
	assert.Equal(t, uint(featureFlagRowID), m.ID)
	assert.Equal(t, st, ToDomainFlagState(m))
}

func TestMySQLConfig_DSN(t *testing.T) {
	dsn := MySQLConfig{Host: "db", Port: 3306, User: "bargain", Password: "p@ss:word", Database: "pricing"}.DSN()

	assert.True(t, strings.HasPrefix(dsn, "bargain:p@ss:word@tcp(db:3306)/pricing?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}
