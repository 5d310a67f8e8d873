package port

import (
	"context"

	"bargain/internal/service/bargain/domain"
)

// BookingPublisher 把锁定价格交给预订方，内容原样带入预订请求
type BookingPublisher interface {
	PublishPriceLock(ctx context.Context, lock domain.PriceLock) error
}
