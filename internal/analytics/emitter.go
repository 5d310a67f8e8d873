package analytics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bargain/internal/pkg/logger"
)

var (
	emittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bargain_analytics_events_emitted_total",
		Help: "Events accepted by the emitter",
	})
	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bargain_analytics_events_dropped_total",
		Help: "Events dropped before reaching the sink",
	}, []string{"reason"})
	sinkFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bargain_analytics_sink_failures_total",
		Help: "Failed batch writes",
	})
	pendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bargain_analytics_pending_events",
		Help: "Events waiting for the next flush",
	})
)

// Config 缓冲与批量参数
type Config struct {
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// MaxPending 写失败后待重试事件的上限，超过时丢弃最旧的
	MaxPending   int           `yaml:"max_pending"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func DefaultConfig() Config {
	return Config{
		BufferSize:    1024,
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		MaxPending:    5000,
		WriteTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxPending < c.BatchSize {
		c.MaxPending = c.BatchSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// Emitter 把事件放进有界通道，由 Run 所在的 goroutine 批量写入 Sink
type Emitter struct {
	cfg  Config
	sink Sink
	ch   chan Event

	// 仅由 Run 的 goroutine 访问
	pending []Event
	failed  bool

	// mu 保证 closed 置位后没有 Emit 还在往 ch 里写
	mu      sync.RWMutex
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
}

func NewEmitter(sink Sink, cfg Config) *Emitter {
	cfg = cfg.withDefaults()
	return &Emitter{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Emit 通道满或已关闭时直接丢弃
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		droppedTotal.WithLabelValues("closed").Inc()
		return
	}
	select {
	case e.ch <- ev:
		emittedTotal.Inc()
	default:
		droppedTotal.WithLabelValues("buffer_full").Inc()
	}
}

// Run 阻塞直到 ctx 取消或 Close，退出前会尽量把剩余事件写完
func (e *Emitter) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return nil
	}
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-e.ch:
			e.add(ev)
			if len(e.pending) >= e.cfg.BatchSize && !e.failed {
				e.flush(ctx)
			}
		case <-ticker.C:
			e.failed = false
			e.flush(ctx)
		case <-ctx.Done():
			e.shutdown()
			e.drain()
			return nil
		case <-e.stop:
			e.drain()
			return nil
		}
	}
}

// Close 停止接收事件并等待 Run 写完
func (e *Emitter) Close(ctx context.Context) error {
	e.shutdown()
	if !e.started.Load() {
		return nil
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown 之后 ch 不会再增加事件，drain 能看到全部已接收的事件
func (e *Emitter) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.stop)
	}
}

func (e *Emitter) add(ev Event) {
	e.pending = append(e.pending, ev)
	if over := len(e.pending) - e.cfg.MaxPending; over > 0 {
		droppedTotal.WithLabelValues("overflow").Add(float64(over))
		e.pending = append([]Event(nil), e.pending[over:]...)
	}
	pendingGauge.Set(float64(len(e.pending)))
}

func (e *Emitter) drain() {
	for {
		select {
		case ev := <-e.ch:
			e.add(ev)
		default:
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
			e.flush(ctx)
			cancel()
			if n := len(e.pending); n > 0 {
				droppedTotal.WithLabelValues("shutdown").Add(float64(n))
				logger.Ctx(ctx).Warn().Int("events", n).Msg("analytics: events lost on shutdown")
			}
			return
		}
	}
}

// flush 失败的批次留在 pending 里，等下次 tick 重试
func (e *Emitter) flush(ctx context.Context) {
	for len(e.pending) > 0 {
		n := len(e.pending)
		if n > e.cfg.BatchSize {
			n = e.cfg.BatchSize
		}
		wctx, cancel := context.WithTimeout(ctx, e.cfg.WriteTimeout)
		err := e.sink.Write(wctx, e.pending[:n])
		cancel()
		if err != nil {
			e.failed = true
			sinkFailuresTotal.Inc()
			logger.Ctx(ctx).Warn().Err(err).Int("batch", n).Int("pending", len(e.pending)).
				Msg("analytics: sink write failed, will retry")
			return
		}
		e.pending = append([]Event(nil), e.pending[n:]...)
	}
	pendingGauge.Set(float64(len(e.pending)))
}
