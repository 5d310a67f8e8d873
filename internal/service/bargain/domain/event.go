package domain

// 议价状态变更事件类型，经 analytics 发射器异步上报
const (
	EventSessionStarted   = "bargain.session_started"
	EventRoundStarted     = "bargain.round_started"
	EventRoundCompleted   = "bargain.round_completed"
	EventPriceSelected    = "bargain.price_selected"
	EventSessionAbandoned = "bargain.session_abandoned"
	EventSessionExpired   = "bargain.session_expired"
	EventSessionEvicted   = "bargain.session_evicted"
	EventRateLimited      = "bargain.rate_limited"
	EventMarkupFallback   = "bargain.markup_fallback"
	EventPromoAdjusted    = "bargain.promo_adjusted"
)
