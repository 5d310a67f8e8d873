package application

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bargain/internal/pkg/logger"
	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/domain/port"
)

// RepoPromoValidator 基于本地优惠码仓储校验
type RepoPromoValidator struct {
	codes      domain.PromoCodeRepository
	conditions port.ConditionEvaluator
	now        func() time.Time
}

func NewRepoPromoValidator(codes domain.PromoCodeRepository, conditions port.ConditionEvaluator) *RepoPromoValidator {
	return &RepoPromoValidator{codes: codes, conditions: conditions, now: time.Now}
}

func (v *RepoPromoValidator) Validate(ctx context.Context, req domain.PromoRequest) (domain.PromoResult, error) {
	req.Code = domain.NormalizeCode(req.Code)
	promo, err := v.codes.FindByCode(ctx, req.Code)
	if errors.Is(err, domain.ErrPromoNotFound) {
		return domain.PromoResult{Code: req.Code, Reason: domain.PromoReasonNotFound}, nil
	}
	if err != nil {
		return domain.PromoResult{}, err
	}

	res := promo.Check(req, v.now())
	if !res.Valid || promo.Condition == "" {
		return res, nil
	}
	if v.conditions == nil {
		return domain.PromoResult{Code: res.Code, Reason: domain.PromoReasonCondition}, nil
	}
	ok, err := v.conditions.Evaluate(promo.Condition, promoFact(req))
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("promo_code", req.Code).Msg("promo condition failed to evaluate")
	}
	if err != nil || !ok {
		return domain.PromoResult{Code: res.Code, Reason: domain.PromoReasonCondition}, nil
	}
	return res, nil
}

// ResilientPromoValidator 对校验失败做有限次退避重试。
// 重试耗尽后返回最后一次错误，由调用方决定跳过优惠。
type ResilientPromoValidator struct {
	inner          port.PromoValidator
	attempts       int
	initialBackoff time.Duration
}

func NewResilientPromoValidator(inner port.PromoValidator, attempts int) *ResilientPromoValidator {
	if attempts <= 0 {
		attempts = 1
	}
	return &ResilientPromoValidator{inner: inner, attempts: attempts, initialBackoff: 50 * time.Millisecond}
}

func (v *ResilientPromoValidator) Validate(ctx context.Context, req domain.PromoRequest) (domain.PromoResult, error) {
	var res domain.PromoResult
	tries := 0
	op := func() error {
		tries++
		var err error
		res, err = v.inner.Validate(ctx, req)
		if errors.Is(err, domain.ErrValidation) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = v.initialBackoff
	b.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(v.attempts-1)), ctx))
	if err != nil {
		promoUnavailableTotal.Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("promo_code", req.Code).Int("tries", tries).Msg("promo validator failed after retries")
		return domain.PromoResult{}, err
	}
	return res, nil
}
