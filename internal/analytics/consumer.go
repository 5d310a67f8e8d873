package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"bargain/internal/pkg/logger"
	"bargain/internal/pkg/mq"
)

var consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bargain_analytics_events_consumed_total",
	Help: "Events read back from the analytics topic",
}, []string{"type", "result"})

// MessageReader 是 *kafka.Reader 中用到的部分
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer 从 Kafka 读取事件并交给 sink。sink 写成功后才提交位点。
type Consumer struct {
	reader       MessageReader
	sink         Sink
	retryBackoff time.Duration
}

func NewConsumer(reader MessageReader, sink Sink) *Consumer {
	return &Consumer{reader: reader, sink: sink, retryBackoff: time.Second}
}

// Run 阻塞直到 ctx 取消
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.Ctx(ctx)
	log.Info().Msg("analytics consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("analytics consumer shutting down")
				return nil
			}
			log.Error().Err(err).Msg("could not read message, retrying")
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		// 同一条消息重试到成功，保证位点按顺序提交
		for {
			err := c.handle(ctx, msg)
			if err == nil {
				break
			}
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("sink rejected event, retrying")
			if !c.sleep(ctx) {
				return nil
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
	}
}

// handle 解码失败的消息直接跳过
func (c *Consumer) handle(parent context.Context, msg kafka.Message) error {
	ctx := mq.ExtractTraceContext(parent, msg.Headers)
	ctx, span := otel.Tracer("bargain/analytics").Start(ctx, "analytics.Consume")
	defer span.End()

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping undecodable event")
		consumedTotal.WithLabelValues("unknown", "invalid").Inc()
		return nil
	}
	span.SetAttributes(attribute.String("event.type", ev.Type), attribute.String("session.id", ev.SessionID))

	if err := c.sink.Write(ctx, []Event{ev}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		consumedTotal.WithLabelValues(ev.Type, "failed").Inc()
		return err
	}
	consumedTotal.WithLabelValues(ev.Type, "ok").Inc()
	return nil
}

func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.retryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
