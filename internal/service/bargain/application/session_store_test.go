package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bargain/internal/analytics"
	"bargain/internal/featureflag"
	"bargain/internal/ratelimit"
	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/domain/port"
	"bargain/internal/service/bargain/infrastructure"
	"bargain/internal/service/bargain/pricing"
)

type storeFixture struct {
	store   *SessionStore
	repo    *infrastructure.MemorySessionRepository
	events  *eventRecorder
	booking *bookingRecorder
	now     time.Time
	ids     int
}

type fixtureOption func(*Dependencies)

// newFixture draws 是随机源依次返回的值：先是加价抽样，之后每轮一个接受系数
func newFixture(t *testing.T, draws []float64, opts ...fixtureOption) *storeFixture {
	t.Helper()
	f := &storeFixture{
		repo:    infrastructure.NewMemorySessionRepository(),
		events:  &eventRecorder{},
		booking: &bookingRecorder{},
		now:     testNow,
	}
	deps := Dependencies{
		Sessions: f.repo,
		Locker:   infrastructure.NewKeyedLocker(),
		Markup:   &staticResolver{res: domain.Resolution{RuleID: 7, RuleName: "hotel-default", Ranges: testRanges}},
		Booking:  f.booking,
		Events:   f.events,
		Random:   pricing.NewSequence(draws...),
	}
	for _, o := range opts {
		o(&deps)
	}
	s, err := NewSessionStore(deps, DefaultConfig())
	require.NoError(t, err)
	s.now = func() time.Time { return f.now }
	s.newID = func() string {
		f.ids++
		return fmt.Sprintf("session-%04d", f.ids)
	}
	f.store = s
	return f
}

var caller = Caller{IP: "10.0.0.1", UserID: "user-1"}

func (f *storeFixture) start(t *testing.T, promo string) *StartResponse {
	t.Helper()
	resp, err := f.store.Start(context.Background(), caller, StartRequest{Product: testProduct(), PromoCode: promo})
	require.NoError(t, err)
	return resp
}

func TestSessionStore_Start(t *testing.T) {
	f := newFixture(t, []float64{0})
	resp := f.start(t, "save50")

	assert.Equal(t, "session-0001", resp.SessionID)
	assert.Equal(t, 1080.0, resp.MarkedUpPrice)
	assert.Equal(t, PriceRange{Min: 1020, Max: 1080}, resp.BargainRange)
	assert.Equal(t, 8.0, resp.MarkupDetails.AppliedMarkup)
	assert.Equal(t, int64(7), resp.MarkupDetails.RuleID)
	assert.Equal(t, 2, resp.MaxRounds)
	assert.Equal(t, 120, resp.TimerSeconds)
	assert.Equal(t, testNow.Add(120*time.Second), resp.ExpiresAt)
	assert.Equal(t, domain.StateNew, resp.State)

	sess, err := f.repo.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "SAVE50", sess.PromoCode)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, []string{domain.EventSessionStarted}, f.events.types())
}

func TestSessionStore_StartRejectsBadInput(t *testing.T) {
	f := newFixture(t, []float64{0})
	ctx := context.Background()

	p := testProduct()
	p.BasePrice = 0
	_, err := f.store.Start(ctx, caller, StartRequest{Product: p})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.store.Start(ctx, caller, StartRequest{Product: testProduct(), UserType: "robot"})
	assert.ErrorIs(t, err, domain.ErrInvalidUserType)

	_, err = f.store.Start(ctx, caller, StartRequest{Product: testProduct(), SessionID: "bad id!"})
	assert.ErrorIs(t, err, domain.ErrInvalidSessionID)

	_, err = f.store.Start(ctx, caller, StartRequest{Product: testProduct(), SessionID: "client-chosen-1"})
	require.NoError(t, err)
	_, err = f.store.Start(ctx, caller, StartRequest{Product: testProduct(), SessionID: "client-chosen-1"})
	assert.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestSessionStore_StartWithoutMarkup(t *testing.T) {
	f := newFixture(t, []float64{0}, func(d *Dependencies) {
		d.Markup = &staticResolver{errs: []error{domain.ErrNoApplicableMarkup}}
	})
	_, err := f.store.Start(context.Background(), caller, StartRequest{Product: testProduct()})
	assert.ErrorIs(t, err, domain.ErrNoApplicableMarkup)
	assert.Zero(t, f.repo.Len())
}

// 未知类别按加价配置缺口处理，不当作请求校验失败
func TestSessionStore_StartUnknownCategoryIsMarkupGap(t *testing.T) {
	resolver := &staticResolver{}
	f := newFixture(t, []float64{0}, func(d *Dependencies) { d.Markup = resolver })
	p := testProduct()
	p.Category = "cruise"

	_, err := f.store.Start(context.Background(), caller, StartRequest{Product: p})
	assert.ErrorIs(t, err, domain.ErrNoApplicableMarkup)
	assert.NotErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, f.repo.Len())
	assert.Zero(t, resolver.calls)
}

func TestSessionStore_StartHonoursFlags(t *testing.T) {
	cases := []struct {
		name  string
		state featureflag.State
	}{
		{"kill switch", featureflag.State{KillSwitch: true, TrafficPercent: 1}},
		{"no traffic", featureflag.State{TrafficPercent: 0}},
		{"shadow mode", featureflag.State{TrafficPercent: 1, ShadowMode: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flags, err := featureflag.NewController(featureflag.NewMemoryStore(), analytics.Discard, tc.state)
			require.NoError(t, err)
			f := newFixture(t, []float64{0}, func(d *Dependencies) { d.Flags = flags })
			_, err = f.store.Start(context.Background(), caller, StartRequest{Product: testProduct()})
			assert.ErrorIs(t, err, domain.ErrBargainUnavailable)
		})
	}

	flags, err := featureflag.NewController(featureflag.NewMemoryStore(), analytics.Discard, featureflag.State{TrafficPercent: 1})
	require.NoError(t, err)
	f := newFixture(t, []float64{0}, func(d *Dependencies) { d.Flags = flags })
	_, err = f.store.Start(context.Background(), caller, StartRequest{Product: testProduct()})
	assert.NoError(t, err)
}

func TestSessionStore_StartRateLimited(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.SessionStart = ratelimit.Budget{Requests: 2, Window: time.Minute}
	limiter := ratelimit.NewMemory(cfg, func() time.Time { return testNow })
	f := newFixture(t, []float64{0}, func(d *Dependencies) { d.Limiter = limiter })

	f.start(t, "")
	f.start(t, "")
	_, err := f.store.Start(context.Background(), caller, StartRequest{Product: testProduct()})
	require.ErrorIs(t, err, ratelimit.ErrRateLimited)

	var rl *ratelimit.Error
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, ratelimit.KindSessionStart, rl.Kind)
	assert.Equal(t, 1, f.events.count(domain.EventRateLimited))

	other := Caller{IP: "10.0.0.2", UserID: "user-2"}
	_, err = f.store.Start(context.Background(), other, StartRequest{Product: testProduct()})
	assert.NoError(t, err)
}

func TestSessionStore_Settings(t *testing.T) {
	settings := settingsFunc(func(_ context.Context, q port.SettingsQuery) (port.ModuleSettings, error) {
		switch q.Module {
		case string(domain.CategoryHotel):
			return port.ModuleSettings{Module: q.Module, Enabled: true, TimerSeconds: 60, MaxAttempts: 1}, nil
		case string(domain.CategoryFlight):
			return port.ModuleSettings{Module: q.Module, Enabled: false}, nil
		case "addon":
			return port.ModuleSettings{Module: q.Module, Enabled: true, MaxAttempts: 5}, nil
		}
		return port.ModuleSettings{}, errors.New("settings down")
	})
	f := newFixture(t, []float64{0, 0.1}, func(d *Dependencies) { d.Settings = settings })
	ctx := context.Background()

	resp := f.start(t, "")
	assert.Equal(t, 1, resp.MaxRounds)
	assert.Equal(t, 60, resp.TimerSeconds)

	_, err := f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: resp.SessionID, Round: 1, UserWishPrice: 1030})
	require.NoError(t, err)
	_, err = f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: resp.SessionID, Round: 2, UserWishPrice: 1030})
	assert.ErrorIs(t, err, domain.ErrAttemptsExhausted)

	flight := testProduct()
	flight.Category = domain.CategoryFlight
	_, err = f.store.Start(ctx, caller, StartRequest{Product: flight})
	assert.ErrorIs(t, err, domain.ErrBargainUnavailable)

	transfer := testProduct()
	transfer.Category = domain.CategoryTransfer
	resp, err = f.store.Start(ctx, caller, StartRequest{Product: transfer})
	require.NoError(t, err, "settings failures fall back to defaults")
	assert.Equal(t, 120, resp.TimerSeconds)

	st, err := f.store.GetSettings(ctx, port.SettingsQuery{Module: "addon"})
	require.NoError(t, err)
	assert.Equal(t, 2, st.MaxAttempts)
	assert.Equal(t, 120, st.TimerSeconds)

	_, err = f.store.GetSettings(ctx, port.SettingsQuery{Module: "cruise"})
	assert.Error(t, err)
	_, err = f.store.GetSettings(ctx, port.SettingsQuery{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// 第一轮未成交还价 1020，第二轮成交 1052，优惠 50 被压到 32 保证最低加价 2%
func TestSessionStore_FullNegotiation(t *testing.T) {
	promo := promoFunc(func(_ context.Context, req domain.PromoRequest) (domain.PromoResult, error) {
		return domain.PromoResult{Valid: true, Code: req.Code, Discount: 50}, nil
	})
	f := newFixture(t, []float64{0, 0.2, 0.9}, func(d *Dependencies) { d.Promo = promo })
	ctx := context.Background()
	started := f.start(t, "SAVE50")
	id := started.SessionID

	r1, err := f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 1, UserWishPrice: 1000})
	require.NoError(t, err)
	assert.False(t, r1.Matched)
	assert.Equal(t, domain.OutcomeCounter, r1.Outcome)
	assert.Equal(t, 1020.0, r1.SystemOffer)
	require.NotNil(t, r1.CounterOffer)
	assert.Equal(t, 1020.0, *r1.CounterOffer)
	assert.Equal(t, 1, r1.RoundsRemaining)
	assert.Equal(t, domain.StateRound1Done, r1.State)

	f.now = f.now.Add(30 * time.Second)
	r2, err := f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 2, UserWishPrice: 1040})
	require.NoError(t, err)
	assert.True(t, r2.Matched)
	assert.Equal(t, domain.OutcomeAccept, r2.Outcome)
	assert.Equal(t, 1052.0, r2.SystemOffer)
	assert.Nil(t, r2.CounterOffer)
	assert.Equal(t, 0, r2.RoundsRemaining)

	sel, err := f.store.Select(ctx, caller, SelectRequest{SessionID: id, Round: 2})
	require.NoError(t, err)
	assert.Equal(t, 1052.0, sel.BargainedPrice)
	assert.Equal(t, 1020.0, sel.FinalPrice)
	assert.True(t, sel.Integration.PromoAdjusted)
	assert.Equal(t, 32.0, sel.Integration.AppliedDiscount)
	assert.Equal(t, "USD", sel.Currency)

	require.Len(t, f.booking.locks, 1)
	lock := f.booking.locks[0]
	assert.Equal(t, 1020.0, lock.FinalPrice)
	assert.Len(t, lock.Rounds, 2)
	assert.NotEmpty(t, lock.Flow)

	view, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSelected, view.State)
	require.NotNil(t, view.SelectedPrice)
	assert.Equal(t, 1052.0, *view.SelectedPrice)
	assert.Equal(t, 0, view.SecondsLeft)
	require.NotNil(t, view.PriceLock)

	_, err = f.store.Select(ctx, caller, SelectRequest{SessionID: id, Round: 1})
	assert.ErrorIs(t, err, domain.ErrPriceAlreadySelected)
	_, err = f.store.Abandon(ctx, caller, AbandonRequest{SessionID: id})
	assert.ErrorIs(t, err, domain.ErrSessionEnded)

	assert.Equal(t, []string{
		domain.EventSessionStarted,
		domain.EventRoundStarted, domain.EventRoundCompleted,
		domain.EventRoundStarted, domain.EventRoundCompleted,
		domain.EventPriceSelected, domain.EventPromoAdjusted,
	}, f.events.types())
}

func TestSessionStore_SubmitRoundErrors(t *testing.T) {
	f := newFixture(t, []float64{0, 0.9})
	ctx := context.Background()
	id := f.start(t, "").SessionID

	_, err := f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 1, UserWishPrice: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidOffer)
	view, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateNew, view.State, "rejected input leaves the session untouched")

	_, err = f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 2, UserWishPrice: 1030})
	assert.ErrorIs(t, err, domain.ErrRoundOutOfOrder)
	_, err = f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 3, UserWishPrice: 1030})
	assert.ErrorIs(t, err, domain.ErrInvalidRound)
	_, err = f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: "missing-session", Round: 1, UserWishPrice: 1030})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.store.Select(ctx, caller, SelectRequest{SessionID: id, Round: 1})
	assert.ErrorIs(t, err, domain.ErrRoundNotAvailable)

	_, err = f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 1, UserWishPrice: 1030})
	require.NoError(t, err)
	_, err = f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 1, UserWishPrice: 1030})
	assert.ErrorIs(t, err, domain.ErrRoundAlreadyCompleted)
}

func TestSessionStore_Expiry(t *testing.T) {
	f := newFixture(t, []float64{0})
	ctx := context.Background()
	id := f.start(t, "").SessionID

	f.now = f.now.Add(121 * time.Second)
	view, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, view.State)
	assert.Equal(t, 0, view.SecondsLeft)

	_, err = f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 1, UserWishPrice: 1030})
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	_, err = f.store.Select(ctx, caller, SelectRequest{SessionID: id, Round: 1})
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	stored, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateExpired, stored.State)
	assert.Equal(t, 1, f.events.count(domain.EventSessionExpired))

	resp, err := f.store.Abandon(ctx, caller, AbandonRequest{SessionID: id, Reason: "timer_expired"})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, resp.OriginalPrice)
	assert.Equal(t, domain.AbandonTimerExpired, resp.Reason)
}

func TestSessionStore_Abandon(t *testing.T) {
	f := newFixture(t, []float64{0})
	ctx := context.Background()
	id := f.start(t, "").SessionID

	resp, err := f.store.Abandon(ctx, caller, AbandonRequest{SessionID: id, Reason: "user_exit"})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, resp.OriginalPrice)
	assert.Equal(t, domain.StateAbandoned, resp.State)

	resp, err = f.store.Abandon(ctx, caller, AbandonRequest{SessionID: id, Reason: "something"})
	require.NoError(t, err)
	assert.Equal(t, domain.AbandonUserExit, resp.Reason, "first reason is kept")
	assert.Equal(t, 1, f.events.count(domain.EventSessionAbandoned))

	_, err = f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 1, UserWishPrice: 1030})
	assert.ErrorIs(t, err, domain.ErrSessionEnded)
	_, err = f.store.Abandon(ctx, caller, AbandonRequest{SessionID: "bad"})
	assert.ErrorIs(t, err, domain.ErrInvalidSessionID)
}

func TestSessionStore_SelectWithUnavailableCollaborators(t *testing.T) {
	promo := promoFunc(func(context.Context, domain.PromoRequest) (domain.PromoResult, error) {
		return domain.PromoResult{}, errors.New("promo service timeout")
	})
	f := newFixture(t, []float64{0, 0.9}, func(d *Dependencies) { d.Promo = promo })
	f.booking.err = errors.New("kafka down")
	ctx := context.Background()
	id := f.start(t, "SAVE50").SessionID

	r1, err := f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 1, UserWishPrice: 1050})
	require.NoError(t, err)
	assert.Equal(t, 1056.0, r1.SystemOffer)

	sel, err := f.store.Select(ctx, caller, SelectRequest{SessionID: id, Round: 1})
	require.NoError(t, err)
	assert.True(t, sel.Promo.Skipped)
	assert.Equal(t, domain.PromoReasonUnavailable, sel.Promo.Reason)
	assert.Equal(t, 1056.0, sel.FinalPrice)

	stored, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.Lock, "lock is persisted even when booking handoff fails")
	assert.Equal(t, 1056.0, stored.Lock.FinalPrice)
}

// 优惠服务偶发失败时重试后仍能享受优惠
func TestSessionStore_SelectRetriesFlakyPromo(t *testing.T) {
	failures := 1
	inner := promoFunc(func(_ context.Context, req domain.PromoRequest) (domain.PromoResult, error) {
		if failures > 0 {
			failures--
			return domain.PromoResult{}, errors.New("promo service timeout")
		}
		return domain.PromoResult{Code: req.Code, Valid: true, Discount: 50}, nil
	})
	promo := NewResilientPromoValidator(inner, 3)
	promo.initialBackoff = time.Millisecond
	f := newFixture(t, []float64{0, 0.9}, func(d *Dependencies) { d.Promo = promo })
	ctx := context.Background()
	id := f.start(t, "SAVE50").SessionID

	_, err := f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 1, UserWishPrice: 1050})
	require.NoError(t, err)
	sel, err := f.store.Select(ctx, caller, SelectRequest{SessionID: id, Round: 1})
	require.NoError(t, err)
	assert.False(t, sel.Promo.Skipped)
	assert.True(t, sel.Promo.Valid)
	assert.Equal(t, 50.0, sel.Promo.Discount)
}

func TestSessionStore_ConcurrentRoundOne(t *testing.T) {
	f := newFixture(t, []float64{0, 0.1})
	ctx := context.Background()
	id := f.start(t, "").SessionID

	const workers = 20
	var (
		wg        sync.WaitGroup
		succeeded int32
		conflicts int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.store.SubmitRound(ctx, caller, RoundRequest{SessionID: id, Round: 1, UserWishPrice: 1000 + float64(i)})
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, domain.ErrRoundAlreadyCompleted):
				atomic.AddInt32(&conflicts, 1)
			default:
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(workers-1), conflicts)
	stored, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored.Rounds, 1)
}

func TestSessionStore_Sweep(t *testing.T) {
	f := newFixture(t, []float64{0})
	ctx := context.Background()
	stale := f.start(t, "").SessionID

	f.now = f.now.Add(4 * time.Minute)
	fresh := f.start(t, "").SessionID

	f.now = testNow.Add(120*time.Second + DefaultConfig().EvictionGrace + time.Second)
	res, err := f.store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Expired: 1, Evicted: 1}, res)

	_, err = f.repo.Get(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.repo.Get(ctx, fresh)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.events.count(domain.EventSessionEvicted))
}
