package application

import (
	"time"

	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/pricing"
)

// Caller 是请求方身份，用于限流和放量判定
type Caller struct {
	IP     string
	UserID string
}

// flagIdentity 没有用户ID时按 IP 分桶
func (c Caller) flagIdentity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.IP
}

// StartRequest 开始议价的请求
type StartRequest struct {
	SessionID string         `json:"sessionId,omitempty"`
	Product   domain.Product `json:"product"`
	UserType  string         `json:"userType,omitempty"`
	PromoCode string         `json:"promoCode,omitempty"`
}

// PriceRange 用户可以议价的价格区间
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MarkupDetails 展示价的来源
type MarkupDetails struct {
	AppliedMarkup float64       `json:"appliedMarkup"`
	RuleID        int64         `json:"ruleId,omitempty"`
	RuleName      string        `json:"ruleName,omitempty"`
	Ranges        domain.Ranges `json:"ranges"`
	Default       bool          `json:"default"`
	Fallback      bool          `json:"fallback"`
}

// StartResponse 开始议价的响应
type StartResponse struct {
	SessionID     string            `json:"sessionId"`
	Currency      string            `json:"currency"`
	MarkedUpPrice float64           `json:"markedUpPrice"`
	BargainRange  PriceRange        `json:"bargainRange"`
	MarkupDetails MarkupDetails     `json:"markupDetails"`
	MaxRounds     int               `json:"maxRounds"`
	TimerSeconds  int               `json:"timerSeconds"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	State         domain.State      `json:"state"`
	Copy          map[string]string `json:"copy,omitempty"`
}

// RoundRequest 提交一轮出价
type RoundRequest struct {
	SessionID     string  `json:"sessionId"`
	Round         int     `json:"round"`
	UserWishPrice float64 `json:"userWishPrice"`
}

// RoundResponse 一轮议价的结果
type RoundResponse struct {
	SessionID       string         `json:"sessionId"`
	Round           int            `json:"round"`
	UserWishPrice   float64        `json:"userWishPrice"`
	SystemOffer     float64        `json:"systemOffer"`
	Accepted        bool           `json:"accepted"`
	Matched         bool           `json:"matched"`
	Outcome         domain.Outcome `json:"outcome"`
	CounterOffer    *float64       `json:"counterOffer,omitempty"`
	Reasoning       []string       `json:"reasoning"`
	RoundsRemaining int            `json:"roundsRemaining"`
	State           domain.State   `json:"state"`
	ExpiresAt       time.Time      `json:"expiresAt"`
}

// SelectRequest 选择某一轮的报价
type SelectRequest struct {
	SessionID string `json:"sessionId"`
	Round     int    `json:"round"`
}

// SelectResponse 最终锁定的价格
type SelectResponse struct {
	SessionID      string                    `json:"sessionId"`
	SelectedRound  int                       `json:"selectedRound"`
	BargainedPrice float64                   `json:"bargainedPrice"`
	FinalPrice     float64                   `json:"finalPrice"`
	Currency       string                    `json:"currency"`
	Promo          domain.PromoResult        `json:"promo"`
	Flow           []string                  `json:"flow"`
	Integration    pricing.IntegrationResult `json:"integration"`
	LockedAt       time.Time                 `json:"lockedAt"`
}

// AbandonRequest 放弃议价
type AbandonRequest struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// AbandonResponse 放弃后回到原始价格
type AbandonResponse struct {
	SessionID     string               `json:"sessionId"`
	OriginalPrice float64              `json:"originalPrice"`
	Reason        domain.AbandonReason `json:"reason"`
	State         domain.State         `json:"state"`
}

// SessionView 是会话的只读视图，状态按当前时间惰性计算
type SessionView struct {
	SessionID     string               `json:"sessionId"`
	State         domain.State         `json:"state"`
	Product       domain.Product       `json:"product"`
	MarkedUpPrice float64              `json:"markedUpPrice"`
	Rounds        []domain.Round       `json:"rounds"`
	MaxRounds     int                  `json:"maxRounds"`
	SelectedPrice *float64             `json:"selectedPrice,omitempty"`
	SelectedRound *int                 `json:"selectedRound,omitempty"`
	AbandonReason domain.AbandonReason `json:"abandonReason,omitempty"`
	PriceLock     *domain.PriceLock    `json:"priceLock,omitempty"`
	ExpiresAt     time.Time            `json:"expiresAt"`
	SecondsLeft   int                  `json:"secondsLeft"`
}

// SweepResult 一次清理的统计
type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Evicted int `json:"evicted"`
	Failed  int `json:"failed"`
}

func newSessionView(s *domain.Session, now time.Time) *SessionView {
	left := int(s.ExpiresAt.Sub(now).Seconds())
	state := s.CurrentState(now)
	if left < 0 || state.Terminal() {
		left = 0
	}
	return &SessionView{
		SessionID:     s.ID,
		State:         state,
		Product:       s.Product,
		MarkedUpPrice: s.MarkedUpPrice,
		Rounds:        s.Rounds,
		MaxRounds:     s.MaxRounds,
		SelectedPrice: s.SelectedPrice,
		SelectedRound: s.SelectedRound,
		AbandonReason: s.AbandonReason,
		PriceLock:     s.Lock,
		ExpiresAt:     s.ExpiresAt,
		SecondsLeft:   left,
	}
}
