package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/infrastructure/rule"
)

func rangesOf(cur, bar float64) domain.Ranges {
	return domain.Ranges{Current: domain.Range{Min: cur, Max: cur + 4}, Bargain: domain.Range{Min: bar, Max: bar + 1}}
}

func TestRuleMarkupResolver_Selection(t *testing.T) {
	evaluator, err := rule.NewCELEvaluator()
	require.NoError(t, err)

	rules := []domain.MarkupRule{
		{ID: 1, Name: "hotel-generic", Category: domain.CategoryHotel, Priority: 10, Ranges: rangesOf(10, 3), Active: true},
		{ID: 2, Name: "hotel-dubai", Category: domain.CategoryHotel, City: "dubai", Priority: 10, Ranges: rangesOf(12, 4), Active: true},
		{ID: 3, Name: "hotel-dubai-5star", Category: domain.CategoryHotel, City: "Dubai", StarRating: 5, Priority: 10, Ranges: rangesOf(14, 5), Active: true},
		{ID: 4, Name: "broken", Category: domain.CategoryHotel, Priority: 1, Ranges: domain.Ranges{Current: domain.Range{Min: 5, Max: 6}, Bargain: domain.Range{Min: 7, Max: 8}}, Active: true},
		{ID: 5, Name: "inactive", Category: domain.CategoryHotel, Priority: 0, Ranges: rangesOf(1, 1), Active: false},
		{ID: 6, Name: "b2b-only", Category: domain.CategoryHotel, UserType: domain.UserTypeB2B, Priority: 2, Ranges: rangesOf(6, 2), Active: true},
		{ID: 7, Name: "supplier-promo", Category: domain.CategoryHotel, Priority: 3, Condition: `product.supplier == "hotelbeds"`, Ranges: rangesOf(7, 2), Active: true},
	}
	r := NewRuleMarkupResolver(markupRepo{rules: rules}, evaluator, nil)
	r.now = func() time.Time { return testNow }

	pc := domain.ProductContext{Product: testProduct(), UserType: domain.UserTypeB2C}

	res, err := r.Resolve(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.RuleID, "most specific rule wins within the same priority")
	assert.False(t, res.Default)

	pc.UserType = domain.UserTypeB2B
	res, err = r.Resolve(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.RuleID)

	pc.UserType = domain.UserTypeB2C
	pc.Product.Supplier = "hotelbeds"
	res, err = r.Resolve(context.Background(), pc)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.RuleID, "rule with a satisfied condition")
}

func TestRuleMarkupResolver_TieBreakByID(t *testing.T) {
	rules := []domain.MarkupRule{
		{ID: 9, Category: domain.CategoryFlight, Priority: 1, Ranges: rangesOf(10, 3), Active: true},
		{ID: 4, Category: domain.CategoryFlight, Priority: 1, Ranges: rangesOf(11, 3), Active: true},
	}
	r := NewRuleMarkupResolver(markupRepo{rules: rules}, nil, nil)
	p := testProduct()
	p.Category = domain.CategoryFlight

	res, err := r.Resolve(context.Background(), domain.ProductContext{Product: p, UserType: domain.UserTypeB2C})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.RuleID)
}

func TestRuleMarkupResolver_ConditionWithoutEvaluatorIsSkipped(t *testing.T) {
	rules := []domain.MarkupRule{
		{ID: 1, Category: domain.CategoryHotel, Priority: 1, Condition: "true", Ranges: rangesOf(10, 3), Active: true},
	}
	r := NewRuleMarkupResolver(markupRepo{rules: rules}, nil, nil)
	_, err := r.Resolve(context.Background(), domain.ProductContext{Product: testProduct()})
	assert.ErrorIs(t, err, domain.ErrNoApplicableMarkup)
}

func TestRuleMarkupResolver_Defaults(t *testing.T) {
	defaults := map[domain.Category]domain.Ranges{domain.CategoryHotel: testRanges}
	r := NewRuleMarkupResolver(markupRepo{}, nil, defaults)

	res, err := r.Resolve(context.Background(), domain.ProductContext{Product: testProduct()})
	require.NoError(t, err)
	assert.True(t, res.Default)
	assert.Equal(t, testRanges, res.Ranges)

	p := testProduct()
	p.Category = domain.CategoryTransfer
	_, err = r.Resolve(context.Background(), domain.ProductContext{Product: p})
	assert.ErrorIs(t, err, domain.ErrNoApplicableMarkup)

	p.Category = "cruise"
	_, err = r.Resolve(context.Background(), domain.ProductContext{Product: p})
	assert.ErrorIs(t, err, domain.ErrNoApplicableMarkup)
}

func TestRuleMarkupResolver_RepositoryError(t *testing.T) {
	boom := errors.New("db down")
	r := NewRuleMarkupResolver(markupRepo{err: boom}, nil, nil)
	_, err := r.Resolve(context.Background(), domain.ProductContext{Product: testProduct()})
	assert.ErrorIs(t, err, boom)
}

func TestResilientMarkupResolver(t *testing.T) {
	fallback := domain.Ranges{Current: domain.Range{Min: 10, Max: 10}, Bargain: domain.Range{Min: 8, Max: 8}}
	pc := domain.ProductContext{Product: testProduct()}
	boom := errors.New("timeout")

	t.Run("retries transient errors", func(t *testing.T) {
		inner := &staticResolver{res: domain.Resolution{RuleID: 42, Ranges: testRanges}, errs: []error{boom, boom}}
		r := NewResilientMarkupResolver(inner, fallback, 3)
		r.initialBackoff = time.Millisecond

		res, err := r.Resolve(context.Background(), pc)
		require.NoError(t, err)
		assert.Equal(t, int64(42), res.RuleID)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("falls back when exhausted", func(t *testing.T) {
		inner := &staticResolver{errs: []error{boom, boom, boom}}
		r := NewResilientMarkupResolver(inner, fallback, 2)
		r.initialBackoff = time.Millisecond

		res, err := r.Resolve(context.Background(), pc)
		require.NoError(t, err)
		assert.True(t, res.Fallback)
		assert.Equal(t, fallback, res.Ranges)
		assert.Equal(t, 2, inner.calls)
	})

	t.Run("missing markup is not retried", func(t *testing.T) {
		inner := &staticResolver{errs: []error{domain.ErrNoApplicableMarkup}}
		r := NewResilientMarkupResolver(inner, fallback, 3)
		r.initialBackoff = time.Millisecond

		_, err := r.Resolve(context.Background(), pc)
		assert.ErrorIs(t, err, domain.ErrNoApplicableMarkup)
		assert.Equal(t, 1, inner.calls)
	})
}
