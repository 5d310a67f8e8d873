package main

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bargain/internal/pkg/bootstrap"
	"bargain/internal/service/bargain/application"
	"bargain/internal/service/bargain/domain"
)

func loadShippedConfig(t *testing.T) serviceConfig {
	t.Helper()
	data, err := os.ReadFile("../../configs/bargain.yaml")
	require.NoError(t, err)
	app := bootstrap.Default()
	ext := defaultServiceConfig()
	require.NoError(t, bootstrap.Parse(data, &app, &ext))
	return ext
}

func assertEveryCategoryResolves(t *testing.T, defaults map[domain.Category]domain.Ranges) {
	t.Helper()
	r := application.NewRuleMarkupResolver(noRules{}, nil, defaults)
	for _, c := range domain.Categories {
		pc := domain.ProductContext{Product: domain.Product{ID: "p-1", Category: c, BasePrice: 100, Currency: "USD"}}
		res, err := r.Resolve(context.Background(), pc)
		if assert.NoError(t, err, "category %s", c) {
			assert.True(t, res.Default, "category %s", c)
			assert.NoError(t, res.Ranges.Validate(), "category %s", c)
		}
	}
}

func TestShippedConfig_EveryCategoryHasDefaultMarkup(t *testing.T) {
	ext := loadShippedConfig(t)
	assertEveryCategoryResolves(t, ext.Bargain.Markup.Defaults)

	addon := ext.Bargain.Markup.Defaults[domain.CategoryAddon]
	assert.Equal(t, domain.Range{Min: 4, Max: 8}, addon.Current)
}

func TestDefaultServiceConfig_EveryCategoryHasDefaultMarkup(t *testing.T) {
	assertEveryCategoryResolves(t, defaultServiceConfig().Bargain.Markup.Defaults)
}

func TestShippedConfig_ValuesAreUsable(t *testing.T) {
	ext := loadShippedConfig(t)
	bc := ext.Bargain

	require.NoError(t, bc.Flags.Validate())
	assert.Equal(t, 1.0, bc.Flags.TrafficPercent)
	require.NoError(t, bc.Store.Pricing.Validate())
	require.NoError(t, bc.Markup.Fallback.Validate())
	assert.Equal(t, sourceRules, bc.Markup.Source)
	assert.Equal(t, 3, bc.Markup.Attempts)
	assert.Equal(t, 3, bc.Promo.Attempts)
}
