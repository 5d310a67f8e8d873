package domain

import (
	"errors"
	"fmt"
)

// 错误分类。具体错误通过 %w 包装分类，handler 用 errors.Is 判断状态码。
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrClosed     = errors.New("session closed")
)

var (
	ErrInvalidSessionID  = fmt.Errorf("%w: invalid session id", ErrValidation)
	ErrInvalidOffer      = fmt.Errorf("%w: offer out of bounds", ErrValidation)
	ErrInvalidRound      = fmt.Errorf("%w: round must be 1 or 2", ErrValidation)
	ErrInvalidProduct    = fmt.Errorf("%w: invalid product", ErrValidation)
	ErrUnknownCategory   = fmt.Errorf("%w: unknown category", ErrValidation)
	ErrInvalidUserType   = fmt.Errorf("%w: invalid user type", ErrValidation)
	ErrRoundOutOfOrder   = fmt.Errorf("%w: previous round not completed", ErrValidation)
	ErrAttemptsExhausted = fmt.Errorf("%w: no bargain attempts left", ErrValidation)
)

var (
	ErrSessionNotFound   = fmt.Errorf("%w: session", ErrNotFound)
	ErrRoundNotAvailable = fmt.Errorf("%w: round not available", ErrNotFound)
	ErrPromoNotFound     = fmt.Errorf("%w: promo code", ErrNotFound)
)

var (
	ErrSessionExists         = fmt.Errorf("%w: session already exists", ErrConflict)
	ErrRoundAlreadyCompleted = fmt.Errorf("%w: round already completed", ErrConflict)
	ErrPriceAlreadySelected  = fmt.Errorf("%w: price already selected", ErrConflict)
	ErrSessionBusy           = fmt.Errorf("%w: session is busy", ErrConflict)
)

var (
	ErrSessionExpired = fmt.Errorf("%w: session expired", ErrClosed)
	ErrSessionEnded   = fmt.Errorf("%w: session already ended", ErrClosed)
)

var (
	// ErrNoApplicableMarkup 是配置缺口而非用户错误，对当前请求是致命的
	ErrNoApplicableMarkup = errors.New("no applicable markup")
	// ErrBargainUnavailable 功能开关关闭或用户不在放量比例内
	ErrBargainUnavailable = errors.New("bargain not available for this user")
)
