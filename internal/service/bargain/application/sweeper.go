package application

import (
	"context"
	"time"

	"bargain/internal/pkg/logger"
)

type sessionSweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// CounterSweeper 是按时间清理的内存状态，例如内存限流计数
type CounterSweeper interface {
	Sweep(now time.Time) int
}

// Sweeper 定时清理过期会话以及附带的内存状态
type Sweeper struct {
	sessions sessionSweeper
	counters []CounterSweeper
	interval time.Duration
	now      func() time.Time
}

func NewSweeper(sessions sessionSweeper, interval time.Duration, counters ...CounterSweeper) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{sessions: sessions, counters: counters, interval: interval, now: time.Now}
}

// Start 阻塞直到 ctx 结束
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Ctx(ctx).Info().Dur("interval", s.interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.sessions.Sweep(ctx); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to sweep sessions")
	}
	now := s.now()
	for _, c := range s.counters {
		if n := c.Sweep(now); n > 0 {
			logger.Ctx(ctx).Debug().Int("removed", n).Msg("expired counters removed")
		}
	}
}
