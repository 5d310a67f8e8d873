package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"bargain/internal/pkg/mq"
	"bargain/internal/service/bargain/domain"
)

// PriceLockTopic 锁价消息的 topic
const PriceLockTopic = "bargain.price-locked"

// PriceLockKafkaAdapter 实现了 port.BookingPublisher
type PriceLockKafkaAdapter struct {
	writer mq.Writer
}

func NewPriceLockKafkaAdapter(writer mq.Writer) *PriceLockKafkaAdapter {
	return &PriceLockKafkaAdapter{writer: writer}
}

// PublishPriceLock 以会话ID为 key，预订方按会话去重
func (a *PriceLockKafkaAdapter) PublishPriceLock(ctx context.Context, lock domain.PriceLock) error {
	body, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("failed to marshal price lock: %w", err)
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(lock.SessionID), body)
}
