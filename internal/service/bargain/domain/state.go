package domain

// State 定义了议价会话的生命周期状态
type State string

const (
	StateNew          State = "NEW"
	StateRound1Active State = "ROUND1_ACTIVE"
	StateRound1Done   State = "ROUND1_DONE"
	StateRound2Active State = "ROUND2_ACTIVE"
	StateRound2Done   State = "ROUND2_DONE"
	StateSelected     State = "SELECTED"
	StateAbandoned    State = "ABANDONED"
	StateExpired      State = "EXPIRED"
)

// Terminal 终态不再接受任何出价
func (s State) Terminal() bool {
	return s == StateSelected || s == StateAbandoned || s == StateExpired
}

// AbandonReason 放弃原因
type AbandonReason string

const (
	AbandonTimerExpired AbandonReason = "timer_expired"
	AbandonUserExit     AbandonReason = "user_exit"
	AbandonUnknown      AbandonReason = "unknown"
)

// ParseAbandonReason 无法识别的原因统一记为 unknown
func ParseAbandonReason(s string) AbandonReason {
	switch r := AbandonReason(s); r {
	case AbandonTimerExpired, AbandonUserExit:
		return r
	default:
		return AbandonUnknown
	}
}

// Outcome 单轮结果
type Outcome string

const (
	OutcomeAccept  Outcome = "accept"
	OutcomeCounter Outcome = "counter"
	OutcomeReject  Outcome = "reject"
)
