package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"bargain/internal/pkg/mq"
)

// Sink 接收一批事件。返回错误时整批会被重试，MultiSink 只重试失败的 sink。
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// SinkFunc 适配普通函数
type SinkFunc func(ctx context.Context, events []Event) error

func (f SinkFunc) Write(ctx context.Context, events []Event) error { return f(ctx, events) }

// LogSink 把事件写成结构化日志
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Write(_ context.Context, events []Event) error {
	for _, ev := range events {
		s.Logger.Info().
			Str("event_id", ev.ID).
			Str("event_type", ev.Type).
			Str("session_id", ev.SessionID).
			Str("user_id", ev.UserID).
			Int("round", ev.Round).
			Interface("payload", ev.Payload).
			Time("at", ev.At).
			Msg("analytics event")
	}
	return nil
}

// KafkaSink 按会话ID分区写入 Kafka
type KafkaSink struct {
	writer mq.Writer
}

func NewKafkaSink(w mq.Writer) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Write(ctx context.Context, events []Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		key := ev.SessionID
		if key == "" {
			key = ev.ID
		}
		msgs = append(msgs, mq.NewMessage(ctx, []byte(key), body))
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

// MultiSink 依次写入多个 sink。某个 sink 失败时，重试只发给失败的 sink，
// 已成功的 sink 按事件ID跳过上一轮已收到的事件。
type MultiSink struct {
	sinks []Sink

	mu sync.Mutex
	// delivered[i] 是 sinks[i] 在当前未完成批次里已写入的事件ID
	delivered []map[string]struct{}
}

func Multi(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, delivered: make([]map[string]struct{}, len(sinks))}
}

// Write 任一 sink 失败则返回合并后的错误
func (m *MultiSink) Write(ctx context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i, s := range m.sinks {
		seen := m.delivered[i]
		// 只保留仍在本批次中的ID，溢出丢弃的事件不再占位
		kept := make(map[string]struct{}, len(seen))
		todo := events
		if len(seen) > 0 {
			todo = make([]Event, 0, len(events))
			for _, ev := range events {
				if _, ok := seen[ev.ID]; ok {
					kept[ev.ID] = struct{}{}
					continue
				}
				todo = append(todo, ev)
			}
		}
		if len(todo) > 0 {
			if err := s.Write(ctx, todo); err != nil {
				errs = append(errs, err)
				m.delivered[i] = kept
				continue
			}
			for _, ev := range todo {
				kept[ev.ID] = struct{}{}
			}
		}
		m.delivered[i] = kept
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for i := range m.delivered {
		m.delivered[i] = nil
	}
	return nil
}
