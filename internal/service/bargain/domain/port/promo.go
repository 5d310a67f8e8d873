package port

import (
	"context"

	"bargain/internal/service/bargain/domain"
)

// PromoValidator 是优惠码校验的出站端口。
// 优惠码不可用不是错误，通过 PromoResult.Valid/Reason 返回。
type PromoValidator interface {
	Validate(ctx context.Context, req domain.PromoRequest) (domain.PromoResult, error)
}
