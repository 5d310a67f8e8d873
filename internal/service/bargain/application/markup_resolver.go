package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bargain/internal/pkg/logger"
	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/domain/port"
)

// RuleMarkupResolver 基于规则仓储解析加价区间
type RuleMarkupResolver struct {
	rules      domain.MarkupRuleRepository
	conditions port.ConditionEvaluator
	defaults   map[domain.Category]domain.Ranges
	now        func() time.Time
}

// NewRuleMarkupResolver defaults 是没有命中规则时各类别的默认区间，conditions 可以为 nil
func NewRuleMarkupResolver(rules domain.MarkupRuleRepository, conditions port.ConditionEvaluator, defaults map[domain.Category]domain.Ranges) *RuleMarkupResolver {
	return &RuleMarkupResolver{rules: rules, conditions: conditions, defaults: defaults, now: time.Now}
}

func (r *RuleMarkupResolver) Resolve(ctx context.Context, pc domain.ProductContext) (domain.Resolution, error) {
	category := pc.Product.Category
	if !category.Valid() {
		return domain.Resolution{}, fmt.Errorf("%w: unknown category %q", domain.ErrNoApplicableMarkup, category)
	}

	rules, err := r.rules.FindActiveByCategory(ctx, category)
	if err != nil {
		return domain.Resolution{}, err
	}

	now := r.now()
	candidates := make([]domain.MarkupRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Matches(pc, now) {
			continue
		}
		if err := rule.Ranges.Validate(); err != nil {
			logger.Ctx(ctx).Warn().Int64("rule_id", rule.ID).Err(err).Msg("skipping markup rule with invalid ranges")
			continue
		}
		if rule.Condition != "" && !r.conditionHolds(ctx, rule, pc) {
			continue
		}
		candidates = append(candidates, rule)
	}

	if len(candidates) == 0 {
		ranges, ok := r.defaults[category]
		if !ok {
			return domain.Resolution{}, fmt.Errorf("%w: no rule or default for %s", domain.ErrNoApplicableMarkup, category)
		}
		if err := ranges.Validate(); err != nil {
			return domain.Resolution{}, fmt.Errorf("%w: default for %s: %v", domain.ErrNoApplicableMarkup, category, err)
		}
		return domain.Resolution{Ranges: ranges, Default: true}, nil
	}

	// 优先级升序，同优先级更具体的规则优先，最后按ID保证结果稳定
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
			return sa > sb
		}
		return a.ID < b.ID
	})
	best := candidates[0]
	return domain.Resolution{RuleID: best.ID, RuleName: best.Name, Ranges: best.Ranges}, nil
}

func (r *RuleMarkupResolver) conditionHolds(ctx context.Context, rule domain.MarkupRule, pc domain.ProductContext) bool {
	if r.conditions == nil {
		return false
	}
	ok, err := r.conditions.Evaluate(rule.Condition, productFact(pc))
	if err != nil {
		logger.Ctx(ctx).Warn().Int64("rule_id", rule.ID).Err(err).Msg("markup rule condition failed to evaluate")
		return false
	}
	return ok
}

// ResilientMarkupResolver 对传输错误重试，仍失败时退回保守区间，不让整个议价失败
type ResilientMarkupResolver struct {
	inner          port.MarkupResolver
	fallback       domain.Ranges
	attempts       int
	initialBackoff time.Duration
}

func NewResilientMarkupResolver(inner port.MarkupResolver, fallback domain.Ranges, attempts int) *ResilientMarkupResolver {
	if attempts <= 0 {
		attempts = 1
	}
	return &ResilientMarkupResolver{inner: inner, fallback: fallback, attempts: attempts, initialBackoff: 50 * time.Millisecond}
}

func (r *ResilientMarkupResolver) Resolve(ctx context.Context, pc domain.ProductContext) (domain.Resolution, error) {
	var res domain.Resolution
	op := func() error {
		var err error
		res, err = r.inner.Resolve(ctx, pc)
		if errors.Is(err, domain.ErrNoApplicableMarkup) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialBackoff
	b.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.attempts-1)), ctx))
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, domain.ErrNoApplicableMarkup), ctx.Err() != nil:
		return domain.Resolution{}, err
	}

	markupFallbackTotal.WithLabelValues(string(pc.Product.Category)).Inc()
	logger.Ctx(ctx).Warn().Err(err).Str("product_id", pc.Product.ID).Str("category", string(pc.Product.Category)).
		Msg("markup resolver unavailable, using conservative fallback")
	return domain.Resolution{Ranges: r.fallback, Fallback: true}, nil
}
