package domain

import (
	"fmt"
	"regexp"
	"time"
)

// MaxRounds 单个会话最多两轮
const MaxRounds = 2

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// ValidateSessionID 检查会话ID格式
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// Round 是一次出价/还价交换，记录后不可变
type Round struct {
	Number         int       `json:"round"`
	UserWish       float64   `json:"userWishPrice"`
	SystemOffer    float64   `json:"systemOffer"`
	Matched        bool      `json:"matched"`
	Outcome        Outcome   `json:"outcome"`
	AcceptanceDraw float64   `json:"acceptanceDraw"` // 审计/回放用，不复用
	Floor          float64   `json:"floor"`
	Reasoning      []string  `json:"reasoning"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// PriceLock 是交给预订方的最终价格及审计轨迹
type PriceLock struct {
	SessionID      string    `json:"sessionId"`
	ProductID      string    `json:"productId"`
	Category       Category  `json:"category"`
	Currency       string    `json:"currency"`
	NetPrice       float64   `json:"netPrice"`
	MarkedUpPrice  float64   `json:"markedUpPrice"`
	BargainedPrice float64   `json:"bargainedPrice"`
	SelectedRound  int       `json:"selectedRound"`
	PromoCode      string    `json:"promoCode,omitempty"`
	PromoDiscount  float64   `json:"promoDiscount"`
	PromoAdjusted  bool      `json:"promoAdjusted"`
	FinalPrice     float64   `json:"finalPrice"`
	Flow           []string  `json:"flow"`
	Rounds         []Round   `json:"rounds"`
	LockedAt       time.Time `json:"lockedAt"`
}

// Session 是议价聚合根，只能由会话存储修改
type Session struct {
	ID        string   `json:"sessionId"`
	Product   Product  `json:"product"`
	UserID    string   `json:"userId,omitempty"`
	UserType  UserType `json:"userType"`
	PromoCode string   `json:"promoCode,omitempty"`

	BasePrice     float64    `json:"basePrice"`
	MarkupDraw    float64    `json:"markupDraw"`
	AppliedMarkup float64    `json:"appliedMarkup"`
	MarkedUpPrice float64    `json:"markedUpPrice"`
	Markup        Resolution `json:"markup"`

	Rounds    []Round `json:"rounds"`
	MaxRounds int     `json:"maxRounds"`
	State     State   `json:"state"`

	SelectedPrice *float64      `json:"selectedPrice,omitempty"`
	SelectedRound *int          `json:"selectedRound,omitempty"`
	AbandonReason AbandonReason `json:"abandonReason,omitempty"`
	Lock          *PriceLock    `json:"priceLock,omitempty"`

	Timer     time.Duration `json:"timer"`
	CreatedAt time.Time     `json:"createdAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NewSessionParams 是创建会话所需参数
type NewSessionParams struct {
	ID            string
	Product       Product
	UserID        string
	UserType      UserType
	PromoCode     string
	Markup        Resolution
	MarkupDraw    float64
	AppliedMarkup float64
	MarkedUpPrice float64
	MaxRounds     int
	Timer         time.Duration
	Now           time.Time
}

// NewSession 工厂函数
func NewSession(p NewSessionParams) (*Session, error) {
	if err := ValidateSessionID(p.ID); err != nil {
		return nil, err
	}
	if err := p.Product.Validate(); err != nil {
		return nil, err
	}
	if p.Timer <= 0 {
		return nil, fmt.Errorf("%w: timer must be positive", ErrValidation)
	}
	maxRounds := p.MaxRounds
	if maxRounds <= 0 || maxRounds > MaxRounds {
		maxRounds = MaxRounds
	}
	return &Session{
		ID:            p.ID,
		Product:       p.Product,
		UserID:        p.UserID,
		UserType:      p.UserType,
		PromoCode:     p.PromoCode,
		BasePrice:     p.Product.BasePrice,
		MarkupDraw:    p.MarkupDraw,
		AppliedMarkup: p.AppliedMarkup,
		MarkedUpPrice: p.MarkedUpPrice,
		Markup:        p.Markup,
		MaxRounds:     maxRounds,
		State:         StateNew,
		Timer:         p.Timer,
		CreatedAt:     p.Now,
		ExpiresAt:     p.Now.Add(p.Timer),
		UpdatedAt:     p.Now,
	}, nil
}

// IsExpired 非终态且已过期
func (s *Session) IsExpired(now time.Time) bool {
	return !s.State.Terminal() && now.After(s.ExpiresAt)
}

// CurrentState 惰性计算过期
func (s *Session) CurrentState(now time.Time) State {
	if s.IsExpired(now) {
		return StateExpired
	}
	return s.State
}

// Expire 如果已到期则转入 EXPIRED，返回是否发生了转换
func (s *Session) Expire(now time.Time) bool {
	if !s.IsExpired(now) {
		return false
	}
	s.State = StateExpired
	s.UpdatedAt = now
	return true
}

// Round 返回第 n 轮记录
func (s *Session) Round(n int) (*Round, bool) {
	for i := range s.Rounds {
		if s.Rounds[i].Number == n {
			return &s.Rounds[i], true
		}
	}
	return nil, false
}

// BeginRound 校验并进入 ROUNDn_ACTIVE
func (s *Session) BeginRound(n int, now time.Time) error {
	if n < 1 || n > MaxRounds {
		return ErrInvalidRound
	}
	if s.Expire(now) {
		return ErrSessionExpired
	}
	switch s.State {
	case StateExpired:
		return ErrSessionExpired
	case StateSelected, StateAbandoned:
		return ErrSessionEnded
	}
	if _, ok := s.Round(n); ok {
		return ErrRoundAlreadyCompleted
	}
	if n > s.MaxRounds {
		return ErrAttemptsExhausted
	}

	switch {
	case n == 1 && s.State == StateNew:
		s.State = StateRound1Active
	case n == 2 && s.State == StateRound1Done:
		s.State = StateRound2Active
	default:
		return ErrRoundOutOfOrder
	}
	s.UpdatedAt = now
	return nil
}

// RecordRound 记录已计算的回合并进入 ROUNDn_DONE
func (s *Session) RecordRound(r Round) error {
	want := map[int]State{1: StateRound1Active, 2: StateRound2Active}[r.Number]
	if want == "" || s.State != want {
		return fmt.Errorf("%w: round %d not active (state %s)", ErrRoundOutOfOrder, r.Number, s.State)
	}
	s.Rounds = append(s.Rounds, r)
	if r.Number == 1 {
		s.State = StateRound1Done
	} else {
		s.State = StateRound2Done
	}
	s.UpdatedAt = r.RecordedAt
	return nil
}

// Select 选择某一轮的报价。selectedPrice 一旦设置不可再改。
func (s *Session) Select(n int, now time.Time) (float64, error) {
	if s.SelectedPrice != nil {
		return 0, ErrPriceAlreadySelected
	}
	if s.Expire(now) {
		return 0, ErrSessionExpired
	}
	switch s.State {
	case StateExpired:
		return 0, ErrSessionExpired
	case StateAbandoned:
		return 0, ErrSessionEnded
	}
	round, ok := s.Round(n)
	if !ok {
		return 0, fmt.Errorf("%w: round %d", ErrRoundNotAvailable, n)
	}
	price := round.SystemOffer
	s.SelectedPrice = &price
	s.SelectedRound = &n
	s.State = StateSelected
	s.UpdatedAt = now
	return price, nil
}

// Abandon 返回原始底价并记录原因。重复调用幂等，不修改已记录的原因。
func (s *Session) Abandon(reason AbandonReason, now time.Time) (float64, bool, error) {
	switch s.State {
	case StateSelected:
		return 0, false, ErrSessionEnded
	case StateAbandoned:
		return s.BasePrice, false, nil
	}
	s.State = StateAbandoned
	s.AbandonReason = reason
	s.UpdatedAt = now
	return s.BasePrice, true, nil
}

// AttachLock 记录最终锁定的价格
func (s *Session) AttachLock(lock PriceLock) {
	s.Lock = &lock
}

// EvictableAt 过期并超过宽限期后可以被清理
func (s *Session) EvictableAt(grace time.Duration) time.Time {
	at := s.ExpiresAt
	if s.State.Terminal() && s.UpdatedAt.After(at) {
		at = s.UpdatedAt
	}
	return at.Add(grace)
}

// Clone 深拷贝，存储层返回副本，避免调用方绕过锁修改
func (s *Session) Clone() *Session {
	c := *s
	c.Rounds = make([]Round, len(s.Rounds))
	for i, r := range s.Rounds {
		r.Reasoning = append([]string(nil), r.Reasoning...)
		c.Rounds[i] = r
	}
	if s.SelectedPrice != nil {
		v := *s.SelectedPrice
		c.SelectedPrice = &v
	}
	if s.SelectedRound != nil {
		v := *s.SelectedRound
		c.SelectedRound = &v
	}
	if s.Lock != nil {
		l := *s.Lock
		l.Flow = append([]string(nil), s.Lock.Flow...)
		l.Rounds = append([]Round(nil), s.Lock.Rounds...)
		c.Lock = &l
	}
	return &c
}
