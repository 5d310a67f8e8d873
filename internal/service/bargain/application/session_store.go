package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"bargain/internal/analytics"
	"bargain/internal/featureflag"
	"bargain/internal/pkg/logger"
	"bargain/internal/ratelimit"
	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/domain/port"
	"bargain/internal/service/bargain/pricing"
)

// Config 是会话存储的运行参数
type Config struct {
	DefaultTimer     time.Duration  `yaml:"default_timer"`
	EvictionGrace    time.Duration  `yaml:"eviction_grace"`
	LockTimeout      time.Duration  `yaml:"lock_timeout"`
	MinMarkupPercent float64        `yaml:"min_markup_percent"`
	Pricing          pricing.Params `yaml:"pricing"`
}

func DefaultConfig() Config {
	return Config{
		DefaultTimer:     120 * time.Second,
		EvictionGrace:    5 * time.Minute,
		LockTimeout:      3 * time.Second,
		MinMarkupPercent: 2,
		Pricing:          pricing.DefaultParams(),
	}
}

// Dependencies 是会话存储依赖的端口。Promo/Settings/Booking/Limiter/Flags 可以为空。
type Dependencies struct {
	Sessions domain.SessionRepository
	Locker   port.Locker
	Markup   port.MarkupResolver
	Promo    port.PromoValidator
	Settings port.SettingsProvider
	Booking  port.BookingPublisher
	Limiter  ratelimit.Limiter
	Flags    *featureflag.Controller
	Events   analytics.Recorder
	Random   pricing.RandomSource
	Tracer   trace.Tracer
}

// SessionStore 是议价会话的唯一写入方。
// 同一会话的所有修改都在 port.Locker 持有的锁内完成，仓储只保存不可共享的副本。
type SessionStore struct {
	sessions domain.SessionRepository
	locker   port.Locker
	markup   port.MarkupResolver
	promo    port.PromoValidator
	settings port.SettingsProvider
	booking  port.BookingPublisher
	limiter  ratelimit.Limiter
	flags    *featureflag.Controller
	events   analytics.Recorder
	rnd      pricing.RandomSource
	tracer   trace.Tracer
	cfg      Config

	now   func() time.Time
	newID func() string
}

func NewSessionStore(deps Dependencies, cfg Config) (*SessionStore, error) {
	if deps.Sessions == nil || deps.Locker == nil || deps.Markup == nil {
		return nil, errors.New("session store requires a repository, a locker and a markup resolver")
	}
	if err := cfg.Pricing.Validate(); err != nil {
		return nil, fmt.Errorf("pricing params: %w", err)
	}
	def := DefaultConfig()
	if cfg.DefaultTimer <= 0 {
		cfg.DefaultTimer = def.DefaultTimer
	}
	if cfg.EvictionGrace < 0 {
		cfg.EvictionGrace = def.EvictionGrace
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}

	s := &SessionStore{
		sessions: deps.Sessions,
		locker:   deps.Locker,
		markup:   deps.Markup,
		promo:    deps.Promo,
		settings: deps.Settings,
		booking:  deps.Booking,
		limiter:  deps.Limiter,
		flags:    deps.Flags,
		events:   deps.Events,
		rnd:      deps.Random,
		tracer:   deps.Tracer,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if s.events == nil {
		s.events = analytics.Discard
	}
	if s.rnd == nil {
		s.rnd = pricing.NewRandom(uint64(time.Now().UnixNano()), uint64(time.Now().Unix()))
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("bargain/application")
	}
	return s, nil
}

// Start 创建会话：限流、放量判定、解析加价并生成展示价
func (s *SessionStore) Start(ctx context.Context, caller Caller, req StartRequest) (*StartResponse, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.Start")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", req.Product.ID),
		attribute.String("product.category", string(req.Product.Category)),
		attribute.String("user.id", caller.UserID),
	)

	if err := s.limit(ctx, caller,
		limitCheck{ratelimit.KindIP, caller.IP},
		limitCheck{ratelimit.KindSessionStart, caller.flagIdentity()},
		limitCheck{ratelimit.KindUser, caller.UserID},
	); err != nil {
		return nil, fail(span, err)
	}

	if err := req.Product.Validate(); err != nil {
		return nil, fail(span, err)
	}
	userType, err := domain.ParseUserType(req.UserType)
	if err != nil {
		return nil, fail(span, err)
	}
	id := req.SessionID
	if id == "" {
		id = s.newID()
	} else if err := domain.ValidateSessionID(id); err != nil {
		return nil, fail(span, err)
	}

	if s.flags != nil {
		d := s.flags.Decide(ctx, caller.flagIdentity())
		span.SetAttributes(attribute.String("flags.reason", d.Reason), attribute.Bool("flags.serve", d.Serve))
		if !d.Serve {
			return nil, fail(span, fmt.Errorf("%w: %s", domain.ErrBargainUnavailable, d.Reason))
		}
	}

	settings := s.moduleSettings(ctx, req.Product)
	if !settings.Enabled {
		return nil, fail(span, fmt.Errorf("%w: module %s disabled", domain.ErrBargainUnavailable, settings.Module))
	}

	pc := domain.ProductContext{Product: req.Product, UserType: userType}
	var res domain.Resolution
	if pc.Product.Category.Valid() {
		res, err = s.markup.Resolve(ctx, pc)
	} else {
		err = fmt.Errorf("%w: unknown category %q", domain.ErrNoApplicableMarkup, pc.Product.Category)
	}
	if err == nil {
		if verr := res.Ranges.Validate(); verr != nil {
			err = fmt.Errorf("%w: %v", domain.ErrNoApplicableMarkup, verr)
		}
	}
	if err != nil {
		if errors.Is(err, domain.ErrNoApplicableMarkup) {
			logger.Ctx(ctx).Warn().Err(err).Str("product_id", pc.Product.ID).Str("category", string(pc.Product.Category)).
				Str("user_type", string(userType)).Msg("markup configuration gap")
		}
		return nil, fail(span, err)
	}

	initial := pricing.ComputeInitialPrice(req.Product.BasePrice, res.Ranges, s.rnd)
	now := s.now()
	sess, err := domain.NewSession(domain.NewSessionParams{
		ID:            id,
		Product:       req.Product,
		UserID:        caller.UserID,
		UserType:      userType,
		PromoCode:     domain.NormalizeCode(req.PromoCode),
		Markup:        res,
		MarkupDraw:    initial.Draw,
		AppliedMarkup: initial.Markup,
		MarkedUpPrice: initial.MarkedUpPrice,
		MaxRounds:     settings.MaxAttempts,
		Timer:         time.Duration(settings.TimerSeconds) * time.Second,
		Now:           now,
	})
	if err != nil {
		return nil, fail(span, err)
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("session.id", sess.ID), attribute.Float64("price.marked_up", sess.MarkedUpPrice))
	span.AddEvent("session created")

	source := markupSource(res)
	sessionsStartedTotal.WithLabelValues(string(req.Product.Category), source).Inc()
	s.emit(sess, domain.EventSessionStarted, 0, map[string]interface{}{
		"productId":     sess.Product.ID,
		"category":      string(sess.Product.Category),
		"basePrice":     sess.BasePrice,
		"appliedMarkup": sess.AppliedMarkup,
		"markedUpPrice": sess.MarkedUpPrice,
		"markupSource":  source,
		"ruleId":        res.RuleID,
		"maxRounds":     sess.MaxRounds,
	})
	if res.Fallback {
		s.emit(sess, domain.EventMarkupFallback, 0, map[string]interface{}{"category": string(sess.Product.Category)})
	}
	logger.Ctx(ctx).Info().Str("session_id", sess.ID).Str("product_id", sess.Product.ID).
		Float64("marked_up_price", sess.MarkedUpPrice).Str("markup_source", source).Msg("bargain session started")

	return &StartResponse{
		SessionID:     sess.ID,
		Currency:      sess.Product.Currency,
		MarkedUpPrice: sess.MarkedUpPrice,
		BargainRange:  PriceRange{Min: initial.Floor, Max: sess.MarkedUpPrice},
		MarkupDetails: MarkupDetails{
			AppliedMarkup: sess.AppliedMarkup,
			RuleID:        res.RuleID,
			RuleName:      res.RuleName,
			Ranges:        res.Ranges,
			Default:       res.Default,
			Fallback:      res.Fallback,
		},
		MaxRounds:    sess.MaxRounds,
		TimerSeconds: settings.TimerSeconds,
		ExpiresAt:    sess.ExpiresAt,
		State:        sess.State,
		Copy:         settings.Copy,
	}, nil
}

// SubmitRound 提交一轮出价并计算系统报价
func (s *SessionStore) SubmitRound(ctx context.Context, caller Caller, req RoundRequest) (*RoundResponse, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.SubmitRound")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.Int("bargain.round", req.Round),
		attribute.Float64("bargain.user_wish", req.UserWishPrice),
	)

	if err := domain.ValidateSessionID(req.SessionID); err != nil {
		return nil, fail(span, err)
	}
	if err := s.limit(ctx, caller,
		limitCheck{ratelimit.KindIP, caller.IP},
		limitCheck{ratelimit.KindUser, caller.UserID},
	); err != nil {
		return nil, fail(span, err)
	}

	var resp *RoundResponse
	err := s.withSession(ctx, req.SessionID, func(sess *domain.Session) error {
		now := s.now()
		if s.expireIfDue(ctx, sess, now) {
			return domain.ErrSessionExpired
		}
		if err := sess.BeginRound(req.Round, now); err != nil {
			return err
		}

		in := pricing.Input{
			Round:          req.Round,
			BasePrice:      sess.BasePrice,
			MarkedUpPrice:  sess.MarkedUpPrice,
			AppliedMarkup:  sess.AppliedMarkup,
			Bargain:        sess.Markup.Ranges.Bargain,
			UserWish:       req.UserWishPrice,
			AcceptanceDraw: s.rnd.Float64(),
		}
		if prev, ok := sess.Round(1); ok && req.Round == 2 {
			in.PreviousOffer = prev.SystemOffer
		}
		result, err := pricing.Evaluate(s.cfg.Pricing, in)
		if err != nil {
			return err
		}

		round := domain.Round{
			Number:         req.Round,
			UserWish:       req.UserWishPrice,
			SystemOffer:    result.Offer,
			Matched:        result.Matched,
			Outcome:        result.Outcome,
			AcceptanceDraw: in.AcceptanceDraw,
			Floor:          result.Floor,
			Reasoning:      result.Reasoning,
			RecordedAt:     now,
		}
		if err := sess.RecordRound(round); err != nil {
			return err
		}
		if err := s.sessions.Save(ctx, sess); err != nil {
			return err
		}

		roundsTotal.WithLabelValues(strconv.Itoa(round.Number), string(round.Outcome)).Inc()
		s.emit(sess, domain.EventRoundStarted, round.Number, map[string]interface{}{"userWishPrice": round.UserWish})
		s.emit(sess, domain.EventRoundCompleted, round.Number, map[string]interface{}{
			"userWishPrice": round.UserWish,
			"systemOffer":   round.SystemOffer,
			"matched":       round.Matched,
			"outcome":       string(round.Outcome),
			"floor":         round.Floor,
		})

		resp = &RoundResponse{
			SessionID:       sess.ID,
			Round:           round.Number,
			UserWishPrice:   round.UserWish,
			SystemOffer:     round.SystemOffer,
			Accepted:        round.Matched,
			Matched:         round.Matched,
			Outcome:         round.Outcome,
			Reasoning:       round.Reasoning,
			RoundsRemaining: sess.MaxRounds - len(sess.Rounds),
			State:           sess.State,
			ExpiresAt:       sess.ExpiresAt,
		}
		if !round.Matched {
			offer := round.SystemOffer
			resp.CounterOffer = &offer
		}
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetAttributes(attribute.Float64("bargain.offer", resp.SystemOffer), attribute.String("bargain.outcome", string(resp.Outcome)))
	span.AddEvent("round recorded")
	logger.Ctx(ctx).Info().Str("session_id", req.SessionID).Int("round", resp.Round).
		Float64("user_wish", resp.UserWishPrice).Float64("offer", resp.SystemOffer).
		Str("outcome", string(resp.Outcome)).Msg("bargain round completed")
	return resp, nil
}

// Select 锁定某一轮的报价，叠加优惠码后交给预订方
func (s *SessionStore) Select(ctx context.Context, caller Caller, req SelectRequest) (*SelectResponse, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.Select")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID), attribute.Int("bargain.round", req.Round))

	if err := domain.ValidateSessionID(req.SessionID); err != nil {
		return nil, fail(span, err)
	}
	if err := s.limit(ctx, caller,
		limitCheck{ratelimit.KindIP, caller.IP},
		limitCheck{ratelimit.KindUser, caller.UserID},
	); err != nil {
		return nil, fail(span, err)
	}

	var (
		lock  domain.PriceLock
		promo domain.PromoResult
		ir    pricing.IntegrationResult
	)
	err := s.withSession(ctx, req.SessionID, func(sess *domain.Session) error {
		now := s.now()
		if s.expireIfDue(ctx, sess, now) {
			return domain.ErrSessionExpired
		}
		price, err := sess.Select(req.Round, now)
		if err != nil {
			return err
		}

		promo = s.validatePromo(ctx, sess, price)
		ir = pricing.Integrate(pricing.IntegrationInput{
			NetPrice:         sess.BasePrice,
			MarkedUpPrice:    sess.MarkedUpPrice,
			BargainedPrice:   price,
			PromoCode:        sess.PromoCode,
			PromoDiscount:    promo.Discount,
			PromoValid:       promo.Valid,
			PromoReason:      promo.Reason,
			MinMarkupPercent: s.cfg.MinMarkupPercent,
		})

		lock = domain.PriceLock{
			SessionID:      sess.ID,
			ProductID:      sess.Product.ID,
			Category:       sess.Product.Category,
			Currency:       sess.Product.Currency,
			NetPrice:       sess.BasePrice,
			MarkedUpPrice:  sess.MarkedUpPrice,
			BargainedPrice: price,
			SelectedRound:  req.Round,
			PromoCode:      sess.PromoCode,
			PromoDiscount:  ir.AppliedDiscount,
			PromoAdjusted:  ir.PromoAdjusted,
			FinalPrice:     ir.FinalPrice,
			Flow:           ir.Flow,
			Rounds:         append([]domain.Round(nil), sess.Rounds...),
			LockedAt:       now,
		}
		sess.AttachLock(lock)
		if err := s.sessions.Save(ctx, sess); err != nil {
			return err
		}

		selectionsTotal.WithLabelValues(strconv.Itoa(req.Round), strconv.FormatBool(ir.PromoAdjusted)).Inc()
		if sess.MarkedUpPrice > 0 {
			discountRatio.WithLabelValues(string(sess.Product.Category)).Observe((sess.MarkedUpPrice - ir.FinalPrice) / sess.MarkedUpPrice)
		}
		s.emit(sess, domain.EventPriceSelected, req.Round, map[string]interface{}{
			"bargainedPrice": price,
			"finalPrice":     ir.FinalPrice,
			"promoCode":      sess.PromoCode,
			"promoApplied":   ir.PromoApplied,
		})
		if ir.PromoAdjusted {
			s.emit(sess, domain.EventPromoAdjusted, req.Round, map[string]interface{}{
				"requestedDiscount": ir.RequestedDiscount,
				"appliedDiscount":   ir.AppliedDiscount,
				"minimumFinalPrice": ir.MinimumFinalPrice,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetAttributes(attribute.Float64("price.final", lock.FinalPrice), attribute.Bool("promo.adjusted", lock.PromoAdjusted))
	span.AddEvent("price locked")

	// 锁定已经落库，交接失败只记录，预订方也可以通过会话查询拿到锁定价
	if s.booking != nil {
		if err := s.booking.PublishPriceLock(ctx, lock); err != nil {
			bookingPublishFailures.Inc()
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).Str("session_id", lock.SessionID).Msg("failed to hand price lock to booking")
		}
	}
	logger.Ctx(ctx).Info().Str("session_id", lock.SessionID).Int("round", lock.SelectedRound).
		Float64("final_price", lock.FinalPrice).Bool("promo_adjusted", lock.PromoAdjusted).Msg("bargain price selected")

	return &SelectResponse{
		SessionID:      lock.SessionID,
		SelectedRound:  lock.SelectedRound,
		BargainedPrice: lock.BargainedPrice,
		FinalPrice:     lock.FinalPrice,
		Currency:       lock.Currency,
		Promo:          promo,
		Flow:           lock.Flow,
		Integration:    ir,
		LockedAt:       lock.LockedAt,
	}, nil
}

// Abandon 放弃议价，返回原始价格。重复放弃是幂等的。
func (s *SessionStore) Abandon(ctx context.Context, caller Caller, req AbandonRequest) (*AbandonResponse, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.Abandon")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID), attribute.String("abandon.reason", req.Reason))

	if err := domain.ValidateSessionID(req.SessionID); err != nil {
		return nil, fail(span, err)
	}
	if err := s.limit(ctx, caller, limitCheck{ratelimit.KindIP, caller.IP}); err != nil {
		return nil, fail(span, err)
	}

	reason := domain.ParseAbandonReason(req.Reason)
	var resp *AbandonResponse
	err := s.withSession(ctx, req.SessionID, func(sess *domain.Session) error {
		now := s.now()
		price, changed, err := sess.Abandon(reason, now)
		if err != nil {
			return err
		}
		if changed {
			if err := s.sessions.Save(ctx, sess); err != nil {
				return err
			}
			abandonsTotal.WithLabelValues(string(reason)).Inc()
			s.emit(sess, domain.EventSessionAbandoned, len(sess.Rounds), map[string]interface{}{
				"reason":        string(reason),
				"originalPrice": price,
			})
		}
		resp = &AbandonResponse{SessionID: sess.ID, OriginalPrice: price, Reason: sess.AbandonReason, State: sess.State}
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}
	logger.Ctx(ctx).Info().Str("session_id", resp.SessionID).Str("reason", string(resp.Reason)).Msg("bargain session abandoned")
	return resp, nil
}

// Get 返回会话视图，不修改存储
func (s *SessionStore) Get(ctx context.Context, id string) (*SessionView, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.Get")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id))

	if err := domain.ValidateSessionID(id); err != nil {
		return nil, fail(span, err)
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	return newSessionView(sess, s.now()), nil
}

// GetSettings 返回模块配置，尝试次数不会超过两轮
func (s *SessionStore) GetSettings(ctx context.Context, q port.SettingsQuery) (port.ModuleSettings, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.GetSettings")
	defer span.End()
	span.SetAttributes(attribute.String("settings.module", q.Module))

	if q.Module == "" {
		return port.ModuleSettings{}, fail(span, fmt.Errorf("%w: module is required", domain.ErrValidation))
	}
	st := port.ModuleSettings{Module: q.Module, Enabled: true}
	if s.settings != nil {
		got, err := s.settings.Settings(ctx, q)
		if err != nil {
			return port.ModuleSettings{}, fail(span, err)
		}
		st = got
	}
	return s.normalizeSettings(st), nil
}

// Sweep 清理过期并超过宽限期的会话。单个会话失败不影响其它会话。
func (s *SessionStore) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "SessionStore.Sweep")
	defer span.End()

	var res SweepResult
	now := s.now()
	ids, err := s.sessions.ListEvictable(ctx, now, s.cfg.EvictionGrace)
	if err != nil {
		return res, fail(span, err)
	}

	for _, id := range ids {
		res.Scanned++
		err := s.withSession(ctx, id, func(sess *domain.Session) error {
			// 列出之后会话可能又被修改过
			if now.Before(sess.EvictableAt(s.cfg.EvictionGrace)) {
				return nil
			}
			if sess.Expire(now) {
				res.Expired++
				sweepTotal.WithLabelValues("expired").Inc()
				s.emit(sess, domain.EventSessionExpired, len(sess.Rounds), map[string]interface{}{"expiresAt": sess.ExpiresAt})
			}
			if err := s.sessions.Delete(ctx, sess.ID); err != nil {
				return err
			}
			res.Evicted++
			sweepTotal.WithLabelValues("evicted").Inc()
			s.emit(sess, domain.EventSessionEvicted, len(sess.Rounds), map[string]interface{}{"state": string(sess.State)})
			return nil
		})
		switch {
		case err == nil, errors.Is(err, domain.ErrSessionNotFound):
		case ctx.Err() != nil:
			return res, fail(span, ctx.Err())
		default:
			res.Failed++
			sweepTotal.WithLabelValues("failed").Inc()
			logger.Ctx(ctx).Error().Err(err).Str("session_id", id).Msg("failed to evict session")
		}
	}

	span.SetAttributes(attribute.Int("sweep.evicted", res.Evicted), attribute.Int("sweep.failed", res.Failed))
	if res.Scanned > 0 {
		logger.Ctx(ctx).Info().Int("scanned", res.Scanned).Int("expired", res.Expired).
			Int("evicted", res.Evicted).Int("failed", res.Failed).Msg("session sweep finished")
	}
	return res, nil
}

// withSession 在会话锁内读取会话并执行 fn
func (s *SessionStore) withSession(ctx context.Context, id string, fn func(sess *domain.Session) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	unlock, err := s.locker.Lock(lockCtx, id)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrSessionBusy, err)
	}
	defer unlock()

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	return fn(sess)
}

// expireIfDue 到期时持久化 EXPIRED 状态，返回是否已过期
func (s *SessionStore) expireIfDue(ctx context.Context, sess *domain.Session, now time.Time) bool {
	if !sess.Expire(now) {
		return sess.State == domain.StateExpired
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("session_id", sess.ID).Msg("failed to persist session expiry")
	}
	s.emit(sess, domain.EventSessionExpired, len(sess.Rounds), map[string]interface{}{"expiresAt": sess.ExpiresAt})
	return true
}

type limitCheck struct {
	kind     ratelimit.Kind
	identity string
}

// limit 依次检查各维度预算。限流后端故障时放行。
func (s *SessionStore) limit(ctx context.Context, caller Caller, checks ...limitCheck) error {
	if s.limiter == nil {
		return nil
	}
	for _, c := range checks {
		if c.identity == "" {
			continue
		}
		_, err := s.limiter.Check(ctx, c.kind, c.identity)
		if err == nil {
			continue
		}
		var rl *ratelimit.Error
		if errors.As(err, &rl) {
			ev := analytics.NewEvent(domain.EventRateLimited, "", map[string]interface{}{
				"kind":              string(rl.Kind),
				"retryAfterSeconds": rl.RetryAfter.Seconds(),
			})
			ev.UserID = caller.UserID
			s.events.Emit(ev)
			logger.Ctx(ctx).Warn().Str("kind", string(rl.Kind)).Str("identity", rl.Identity).
				Dur("retry_after", rl.RetryAfter).Msg("request rate limited")
			return err
		}
		logger.Ctx(ctx).Error().Err(err).Str("kind", string(c.kind)).Msg("rate limiter unavailable, allowing request")
	}
	return nil
}

// moduleSettings 取不到配置时使用默认值
func (s *SessionStore) moduleSettings(ctx context.Context, p domain.Product) port.ModuleSettings {
	q := port.SettingsQuery{Module: string(p.Category), CountryCode: p.CountryCode, City: p.City}
	st := port.ModuleSettings{Module: q.Module, Enabled: true}
	if s.settings != nil {
		got, err := s.settings.Settings(ctx, q)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("module", q.Module).Msg("settings unavailable, using defaults")
		} else {
			st = got
		}
	}
	return s.normalizeSettings(st)
}

func (s *SessionStore) normalizeSettings(st port.ModuleSettings) port.ModuleSettings {
	if st.TimerSeconds <= 0 {
		st.TimerSeconds = int(s.cfg.DefaultTimer / time.Second)
	}
	if st.MaxAttempts <= 0 || st.MaxAttempts > domain.MaxRounds {
		st.MaxAttempts = domain.MaxRounds
	}
	return st
}

// validatePromo 优惠服务失败时跳过优惠，不阻断锁价
func (s *SessionStore) validatePromo(ctx context.Context, sess *domain.Session, amount float64) domain.PromoResult {
	if sess.PromoCode == "" {
		return domain.PromoResult{}
	}
	skipped := domain.PromoResult{Code: sess.PromoCode, Skipped: true, Reason: domain.PromoReasonUnavailable}
	if s.promo == nil {
		return skipped
	}
	res, err := s.promo.Validate(ctx, domain.PromoRequest{
		Code:        sess.PromoCode,
		Amount:      amount,
		Category:    sess.Product.Category,
		CountryCode: sess.Product.CountryCode,
		City:        sess.Product.City,
		UserID:      sess.UserID,
	})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("session_id", sess.ID).Str("promo_code", sess.PromoCode).
			Msg("promo validation unavailable, skipping promo")
		return skipped
	}
	return res
}

func (s *SessionStore) emit(sess *domain.Session, typ string, round int, payload map[string]interface{}) {
	ev := analytics.NewEvent(typ, sess.ID, payload)
	ev.UserID = sess.UserID
	ev.Round = round
	s.events.Emit(ev)
}

func markupSource(r domain.Resolution) string {
	switch {
	case r.Fallback:
		return "fallback"
	case r.Default:
		return "default"
	}
	return "rule"
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
