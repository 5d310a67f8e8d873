// Package featureflag 控制议价功能的放量：总开关、流量比例和影子模式。
package featureflag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bargain/internal/analytics"
	"bargain/internal/pkg/logger"
	"bargain/internal/service/bargain/domain"
)

// 审计事件类型
const (
	EventLoaded    = "flags.loaded"
	EventRead      = "flags.read"
	EventEvaluated = "flags.evaluated"
	EventUpdated   = "flags.updated"
)

// ErrNoState 存储中还没有开关记录
var ErrNoState = errors.New("featureflag: no stored state")

// ErrInvalidTrafficPercent 超出 [0,1]
var ErrInvalidTrafficPercent = fmt.Errorf("%w: traffic percent must be within [0, 1]", domain.ErrValidation)

// State 是进程级的开关状态
type State struct {
	KillSwitch     bool      `json:"killSwitch" yaml:"kill_switch"`
	TrafficPercent float64   `json:"trafficPercent" yaml:"traffic_percent"`
	ShadowMode     bool      `json:"shadowMode" yaml:"shadow_mode"`
	UpdatedAt      time.Time `json:"updatedAt" yaml:"-"`
	UpdatedBy      string    `json:"updatedBy,omitempty" yaml:"-"`
}

// Store 持久化开关状态
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

// Decision 是一次放量判定
type Decision struct {
	Serve    bool    `json:"serve"`
	Eligible bool    `json:"eligible"`
	Bucket   float64 `json:"bucket"`
	Reason   string  `json:"reason"`
}

const (
	ReasonKillSwitch   = "kill_switch"
	ReasonShadowMode   = "shadow_mode"
	ReasonInTraffic    = "in_traffic"
	ReasonOutOfTraffic = "out_of_traffic"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bargain_flag_decisions_total",
	Help: "Feature flag decisions by reason",
}, []string{"reason"})

// Controller 持有当前开关状态，由构造方注入到会话存储
type Controller struct {
	store    Store
	recorder analytics.Recorder
	now      func() time.Time

	mu    sync.RWMutex
	state State
}

// Validate TrafficPercent 是 [0,1] 内的比例，1 表示全量
func (s State) Validate() error {
	if math.IsNaN(s.TrafficPercent) || s.TrafficPercent < 0 || s.TrafficPercent > 1 {
		return fmt.Errorf("%w, got %v", ErrInvalidTrafficPercent, s.TrafficPercent)
	}
	return nil
}

// NewController initial 是存储为空或加载失败时使用的状态
func NewController(store Store, recorder analytics.Recorder, initial State) (*Controller, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("featureflag: initial state: %w", err)
	}
	if recorder == nil {
		recorder = analytics.Discard
	}
	return &Controller{store: store, recorder: recorder, now: time.Now, state: initial}, nil
}

// Load 启动时从存储加载。存储为空时把初始状态写回。
func (c *Controller) Load(ctx context.Context) error {
	st, err := c.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoState):
		c.mu.RLock()
		st = c.state
		c.mu.RUnlock()
		if err := c.store.Save(ctx, st); err != nil {
			return fmt.Errorf("featureflag: seed store: %w", err)
		}
	case err != nil:
		return fmt.Errorf("featureflag: load: %w", err)
	}
	// 存储里的非法值不覆盖当前状态
	if err := st.Validate(); err != nil {
		return fmt.Errorf("featureflag: stored state: %w", err)
	}

	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	c.audit(EventLoaded, "", map[string]interface{}{"state": st})
	logger.Ctx(ctx).Info().Bool("kill_switch", st.KillSwitch).Float64("traffic_percent", st.TrafficPercent).
		Bool("shadow_mode", st.ShadowMode).Msg("feature flags loaded")
	return nil
}

// Snapshot 返回当前状态的副本
func (c *Controller) Snapshot(ctx context.Context) State {
	c.mu.RLock()
	st := c.state
	c.mu.RUnlock()
	c.audit(EventRead, "", map[string]interface{}{"state": st})
	return st
}

// Bucket 把用户稳定地映射到 [0,1)
func Bucket(userID string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return float64(h.Sum32()) / (1 << 32)
}

// Decide 计算完整的判定，影子模式下 Eligible 仍会被计算出来
func (c *Controller) Decide(ctx context.Context, userID string) Decision {
	c.mu.RLock()
	st := c.state
	c.mu.RUnlock()

	d := Decision{Bucket: Bucket(userID)}
	switch {
	case st.KillSwitch:
		d.Reason = ReasonKillSwitch
	default:
		d.Eligible = d.Bucket < st.TrafficPercent
		switch {
		case st.ShadowMode:
			d.Reason = ReasonShadowMode
		case d.Eligible:
			d.Serve = true
			d.Reason = ReasonInTraffic
		default:
			d.Reason = ReasonOutOfTraffic
		}
	}

	decisionsTotal.WithLabelValues(d.Reason).Inc()
	c.audit(EventEvaluated, userID, map[string]interface{}{
		"serve":    d.Serve,
		"eligible": d.Eligible,
		"bucket":   d.Bucket,
		"reason":   d.Reason,
	})
	logger.Ctx(ctx).Debug().Str("user_id", userID).Str("reason", d.Reason).Bool("eligible", d.Eligible).
		Msg("feature flag evaluated")
	return d
}

// ShouldReceiveAI 是否对该用户开放议价
func (c *Controller) ShouldReceiveAI(ctx context.Context, userID string) bool {
	return c.Decide(ctx, userID).Serve
}

func (c *Controller) SetKillSwitch(ctx context.Context, on bool, actor string) (State, error) {
	return c.update(ctx, actor, func(s *State) error {
		s.KillSwitch = on
		return nil
	})
}

func (c *Controller) SetTrafficPercent(ctx context.Context, pct float64, actor string) (State, error) {
	return c.update(ctx, actor, func(s *State) error {
		s.TrafficPercent = pct
		return s.Validate()
	})
}

func (c *Controller) SetShadowMode(ctx context.Context, on bool, actor string) (State, error) {
	return c.update(ctx, actor, func(s *State) error {
		s.ShadowMode = on
		return nil
	})
}

// Patch 是一次部分更新，nil 字段保持不变
type Patch struct {
	KillSwitch     *bool    `json:"killSwitch,omitempty"`
	TrafficPercent *float64 `json:"trafficPercent,omitempty"`
	ShadowMode     *bool    `json:"shadowMode,omitempty"`
}

// Apply 原子地应用多个字段
func (c *Controller) Apply(ctx context.Context, p Patch, actor string) (State, error) {
	return c.update(ctx, actor, func(s *State) error {
		if p.TrafficPercent != nil {
			s.TrafficPercent = *p.TrafficPercent
		}
		if p.KillSwitch != nil {
			s.KillSwitch = *p.KillSwitch
		}
		if p.ShadowMode != nil {
			s.ShadowMode = *p.ShadowMode
		}
		return s.Validate()
	})
}

// update 先写存储，成功后才替换内存状态
func (c *Controller) update(ctx context.Context, actor string, mutate func(*State) error) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	next := prev
	if err := mutate(&next); err != nil {
		return prev, err
	}
	next.UpdatedAt = c.now().UTC()
	next.UpdatedBy = actor
	if err := c.store.Save(ctx, next); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("actor", actor).Msg("feature flag update not persisted")
		return prev, fmt.Errorf("featureflag: save: %w", err)
	}
	c.state = next

	c.audit(EventUpdated, actor, map[string]interface{}{"before": prev, "after": next})
	logger.Ctx(ctx).Info().Str("actor", actor).Bool("kill_switch", next.KillSwitch).
		Float64("traffic_percent", next.TrafficPercent).Bool("shadow_mode", next.ShadowMode).
		Msg("feature flags updated")
	return next, nil
}

func (c *Controller) audit(typ, userID string, payload map[string]interface{}) {
	ev := analytics.NewEvent(typ, "", payload)
	ev.UserID = userID
	c.recorder.Emit(ev)
}

// MemoryStore 单进程或测试使用
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return State{}, ErrNoState
	}
	return *m.state, nil
}

func (m *MemoryStore) Save(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &s
	return nil
}
