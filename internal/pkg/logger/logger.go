// Package logger 封装 zerolog，提供带 trace_id 的上下文日志。
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Config 是日志初始化参数
type Config struct {
	Service string `yaml:"service"`
	Level   string `yaml:"level"`
	Pretty  bool   `yaml:"pretty"`
}

// Init 配置全局 logger。重复调用会覆盖之前的配置。
func Init(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}

	l := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.Service != "" {
		l = l.With().Str("service", cfg.Service).Logger()
	}
	zlog.Logger = l
	zerolog.DefaultContextLogger = &zlog.Logger
	return l
}

// Ctx 返回 context 中的 logger，如果没有则返回全局 logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &zlog.Logger
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &zlog.Logger
	}
	return l
}

// WithTraceID 把当前 span 的 trace_id 绑定到 logger 并存入 context
func WithTraceID(ctx context.Context) context.Context {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.HasTraceID() {
		return ctx
	}
	l := Ctx(ctx).With().Str("trace_id", spanCtx.TraceID().String()).Logger()
	return l.WithContext(ctx)
}

// Nop 返回一个丢弃所有输出的 logger，测试用。
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
