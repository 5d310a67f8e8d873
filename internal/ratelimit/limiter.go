// Package ratelimit 提供按身份的窗口计数限流，有内存和 Redis 两种实现。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kind 限流维度
type Kind string

const (
	KindIP           Kind = "ip"
	KindSessionStart Kind = "session_start"
	KindUser         Kind = "user"
)

// ErrRateLimited 超出预算
var ErrRateLimited = errors.New("rate limited")

// Error 携带重试提示
type Error struct {
	Kind       Kind
	Identity   string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s %q, retry after %s", ErrRateLimited, e.Kind, e.Identity, e.RetryAfter.Round(time.Second))
}

func (e *Error) Unwrap() error { return ErrRateLimited }

// Budget 一个窗口内允许的请求数。Requests <= 0 表示不限流。
type Budget struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Config 三个维度的预算
type Config struct {
	IP           Budget `yaml:"ip"`
	SessionStart Budget `yaml:"session_start"`
	User         Budget `yaml:"user"`
}

// DefaultConfig 默认预算
func DefaultConfig() Config {
	return Config{
		IP:           Budget{Requests: 120, Window: time.Minute},
		SessionStart: Budget{Requests: 10, Window: time.Minute},
		User:         Budget{Requests: 60, Window: time.Minute},
	}
}

func (c Config) budget(k Kind) (Budget, error) {
	switch k {
	case KindIP:
		return c.IP, nil
	case KindSessionStart:
		return c.SessionStart, nil
	case KindUser:
		return c.User, nil
	}
	return Budget{}, fmt.Errorf("ratelimit: unknown kind %q", k)
}

// Counter 是某个身份在当前窗口的计数
type Counter struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"resetAt"`
	Blocked bool      `json:"blocked"`
}

// Limiter 每次调用计数一次，超出预算返回 *Error
type Limiter interface {
	Check(ctx context.Context, kind Kind, identity string) (Counter, error)
}

var rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bargain_rate_limit_rejected_total",
	Help: "Requests rejected by the rate limiter",
}, []string{"kind"})

func key(kind Kind, identity string) string {
	return string(kind) + ":" + identity
}

func reject(c Counter, kind Kind, identity string, now time.Time) (Counter, error) {
	rejectedTotal.WithLabelValues(string(kind)).Inc()
	retry := c.ResetAt.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return c, &Error{Kind: kind, Identity: identity, RetryAfter: retry}
}
