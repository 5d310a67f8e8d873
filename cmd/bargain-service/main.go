// cmd/bargain-service/main.go
package main

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"bargain/internal/analytics"
	"bargain/internal/featureflag"
	"bargain/internal/pkg/bootstrap"
	"bargain/internal/pkg/httpclient"
	"bargain/internal/pkg/logger"
	"bargain/internal/pkg/mq"
	"bargain/internal/pkg/redis"
	"bargain/internal/ratelimit"
	"bargain/internal/service/bargain/application"
	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/domain/port"
	"bargain/internal/service/bargain/infrastructure"
	"bargain/internal/service/bargain/infrastructure/adapter"
	"bargain/internal/service/bargain/infrastructure/rule"
	"bargain/internal/service/bargain/interfaces"
	"bargain/internal/zookeeper"
)

// main 是组装根：按配置选择实现，其余交给 bootstrap
func main() {
	ext := defaultServiceConfig()
	cfg, err := bootstrap.Init(&ext)
	bootstrap.Exit(err)

	bootstrap.Exit(bootstrap.StartService(bootstrap.AppInfo{
		Config: *cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) (bootstrap.Hooks, error) {
			return wire(context.Background(), appCtx, ext.Bargain)
		},
	}))
}

// components 收集装配过程中创建的资源，出错时也要能关闭已创建的部分
type components struct {
	hooks bootstrap.Hooks
	redis *redis.Client
	db    *gorm.DB
}

func (c *components) onShutdown(f func(ctx context.Context) error) {
	c.hooks.Shutdown = append(c.hooks.Shutdown, f)
}

func (c *components) closeAll() {
	ctx := context.Background()
	for i := len(c.hooks.Shutdown) - 1; i >= 0; i-- {
		c.hooks.Shutdown[i](ctx)
	}
}

func wire(ctx context.Context, appCtx bootstrap.AppCtx, bc bargainConfig) (hooks bootstrap.Hooks, err error) {
	cfg := appCtx.Config
	log := logger.Ctx(ctx)
	tracer := otel.Tracer(cfg.Service.Name)
	c := &components{}
	defer func() {
		if err != nil {
			c.closeAll()
		}
	}()

	// 1. 存储：Redis 多实例共享，否则进程内
	var sessions domain.SessionRepository
	var limiter ratelimit.Limiter
	var counters []application.CounterSweeper
	if cfg.Redis.Addrs != "" {
		c.redis, err = redis.NewClient(ctx, cfg.Redis.Addrs, cfg.Redis.Password)
		if err != nil {
			return hooks, fmt.Errorf("redis: %w", err)
		}
		c.onShutdown(func(context.Context) error { return c.redis.Close() })
		sessions = infrastructure.NewRedisSessionRepository(c.redis, bc.Store.EvictionGrace)
		if limiter, err = ratelimit.NewRedis(ctx, bc.RateLimit, c.redis, "bargain:rl:"); err != nil {
			return hooks, err
		}
		log.Info().Str("addrs", cfg.Redis.Addrs).Msg("sessions and rate limits stored in redis")
	} else {
		sessions = infrastructure.NewMemorySessionRepository()
		mem := ratelimit.NewMemory(bc.RateLimit, time.Now)
		limiter = mem
		counters = append(counters, mem)
		log.Warn().Msg("redis not configured, sessions are kept in process")
	}

	// 2. 锁：配置了 ZooKeeper 时跨实例互斥
	var locker port.Locker = infrastructure.NewKeyedLocker()
	if len(cfg.ZooKeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.ZooKeeper.Servers, cfg.ZooKeeper.SessionTimeout)
		if err != nil {
			return hooks, fmt.Errorf("zookeeper: %w", err)
		}
		c.onShutdown(func(context.Context) error { conn.Close(); return nil })
		if locker, err = zookeeper.NewLocker(conn, cfg.ZooKeeper.LockRoot, bc.Store.LockTimeout); err != nil {
			return hooks, fmt.Errorf("zookeeper locker: %w", err)
		}
	}

	// 3. 规则库
	if cfg.MySQL.Host != "" {
		if c.db, err = infrastructure.OpenMySQL(infrastructure.MySQLConfig(cfg.MySQL)); err != nil {
			return hooks, err
		}
		sqlDB, err := c.db.DB()
		if err != nil {
			return hooks, err
		}
		c.onShutdown(func(context.Context) error { return sqlDB.Close() })
	}
	conditions, err := rule.NewCELEvaluator()
	if err != nil {
		return hooks, err
	}

	httpClient := httpclient.NewClient(tracer, httpclient.DefaultOptions())
	markup, err := buildMarkup(ctx, appCtx, bc.Markup, c.db, conditions, httpClient)
	if err != nil {
		return hooks, err
	}
	promo := buildPromo(ctx, appCtx, bc.Promo, c.db, conditions, httpClient)
	settings := buildSettings(ctx, appCtx, bc.Settings)

	// 4. 消息：分析事件和锁价通知
	var booking port.BookingPublisher
	sinks := []analytics.Sink{analytics.LogSink{Logger: log.With().Str("component", "analytics").Logger()}}
	if len(cfg.Kafka.Brokers) > 0 {
		eventsWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.AnalyticsTopic)
		lockWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.PriceLockTopic)
		c.onShutdown(func(context.Context) error { return eventsWriter.Close() })
		c.onShutdown(func(context.Context) error { return lockWriter.Close() })
		sinks = append(sinks, analytics.NewKafkaSink(eventsWriter))
		booking = adapter.NewPriceLockKafkaAdapter(lockWriter)
	}

	// 实时通道在会话存储之后创建，发送器启动时它已就绪
	var live *interfaces.LiveHub
	sinks = append(sinks, analytics.SinkFunc(func(ctx context.Context, events []analytics.Event) error {
		if live == nil {
			return nil
		}
		return live.Write(ctx, events)
	}))
	emitter := analytics.NewEmitter(analytics.Multi(sinks...), bc.Analytics)

	// 5. 放量开关
	var flagStore featureflag.Store = featureflag.NewMemoryStore()
	if c.db != nil {
		flagStore = infrastructure.NewGormFlagStore(c.db)
	}
	flags, err := featureflag.NewController(flagStore, emitter, bc.Flags)
	if err != nil {
		return hooks, err
	}
	if err := flags.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("feature flags not loaded, using configured state")
	}

	store, err := application.NewSessionStore(application.Dependencies{
		Sessions: sessions,
		Locker:   locker,
		Markup:   markup,
		Promo:    promo,
		Settings: settings,
		Booking:  booking,
		Limiter:  limiter,
		Flags:    flags,
		Events:   emitter,
		Tracer:   tracer,
	}, bc.Store)
	if err != nil {
		return hooks, err
	}

	live = interfaces.NewLiveHub(store, bc.LiveTick)
	interfaces.NewBargainHandler(store, flags).RegisterRoutes(appCtx.Mux)
	live.RegisterRoutes(appCtx.Mux)

	sweeper := application.NewSweeper(store, bc.SweepInterval, counters...)
	c.hooks.Workers = append(c.hooks.Workers,
		emitter.Run,
		func(ctx context.Context) error { sweeper.Start(ctx); return nil },
	)
	// 关闭按逆序执行，事件先写完再关闭 Kafka 写入器
	c.onShutdown(emitter.Close)
	c.hooks.Ready = c.ready
	return c.hooks, nil
}

func (c *components) ready(ctx context.Context) error {
	if c.redis != nil {
		if err := c.redis.GetClient().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if c.db != nil {
		sqlDB, err := c.db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
	}
	return nil
}
