package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/infrastructure/rule"
)

func TestRepoPromoValidator(t *testing.T) {
	evaluator, err := rule.NewCELEvaluator()
	require.NoError(t, err)

	codes := promoRepo{
		"SAVE50":   {Code: "SAVE50", DiscountType: domain.DiscountFixed, Value: 50, Active: true},
		"BIGSPEND": {Code: "BIGSPEND", DiscountType: domain.DiscountPercentage, Value: 10, Active: true, Condition: "order.amount >= 2000"},
	}
	v := NewRepoPromoValidator(codes, evaluator)
	ctx := context.Background()
	req := domain.PromoRequest{Amount: 1050, Category: domain.CategoryHotel}

	req.Code = " save50 "
	res, err := v.Validate(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 50.0, res.Discount)

	req.Code = "BIGSPEND"
	res, err = v.Validate(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, domain.PromoReasonCondition, res.Reason)

	req.Amount = 2500
	res, err = v.Validate(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 250.0, res.Discount)

	req.Code = "NOPE"
	res, err = v.Validate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.PromoReasonNotFound, res.Reason)

	req.Code = "BROKEN"
	_, err = v.Validate(ctx, req)
	assert.Error(t, err)
}

func TestResilientPromoValidator_RetriesTransientErrors(t *testing.T) {
	var calls int32
	inner := promoFunc(func(_ context.Context, req domain.PromoRequest) (domain.PromoResult, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return domain.PromoResult{}, errors.New("connection reset")
		}
		return domain.PromoResult{Code: req.Code, Valid: true, Discount: 50}, nil
	})
	v := NewResilientPromoValidator(inner, 3)
	v.initialBackoff = time.Millisecond

	res, err := v.Validate(context.Background(), domain.PromoRequest{Code: "SAVE50", Amount: 1000})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 50.0, res.Discount)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestResilientPromoValidator_GivesUpAfterAttempts(t *testing.T) {
	var calls int32
	inner := promoFunc(func(context.Context, domain.PromoRequest) (domain.PromoResult, error) {
		atomic.AddInt32(&calls, 1)
		return domain.PromoResult{}, errors.New("db down")
	})
	v := NewResilientPromoValidator(inner, 3)
	v.initialBackoff = time.Millisecond

	_, err := v.Validate(context.Background(), domain.PromoRequest{Code: "SAVE50"})
	assert.EqualError(t, err, "db down")
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

// 明确的结论不重试：未找到是结果，校验错误是永久错误
func TestResilientPromoValidator_DefinitiveAnswersAreNotRetried(t *testing.T) {
	var calls int32
	inner := promoFunc(func(_ context.Context, req domain.PromoRequest) (domain.PromoResult, error) {
		atomic.AddInt32(&calls, 1)
		if req.Code == "" {
			return domain.PromoResult{}, domain.ErrValidation
		}
		return domain.PromoResult{Code: req.Code, Reason: domain.PromoReasonNotFound}, nil
	})
	v := NewResilientPromoValidator(inner, 3)
	v.initialBackoff = time.Millisecond

	res, err := v.Validate(context.Background(), domain.PromoRequest{Code: "NOPE"})
	require.NoError(t, err)
	assert.Equal(t, domain.PromoReasonNotFound, res.Reason)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	_, err = v.Validate(context.Background(), domain.PromoRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestResilientPromoValidator_StopsOnCancel(t *testing.T) {
	inner := promoFunc(func(context.Context, domain.PromoRequest) (domain.PromoResult, error) {
		return domain.PromoResult{}, errors.New("timeout")
	})
	v := NewResilientPromoValidator(inner, 100)
	v.initialBackoff = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := v.Validate(ctx, domain.PromoRequest{Code: "SAVE50"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
