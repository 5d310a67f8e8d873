package domain

import (
	"context"
	"time"
)

// SessionRepository 定义了议价会话的持久化接口。
// 实现必须返回副本；并发控制由 port.Locker 负责。
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// ListEvictable 返回过期且超过宽限期的会话ID
	ListEvictable(ctx context.Context, now time.Time, grace time.Duration) ([]string, error)
}

// MarkupRuleRepository 读取某个类别下所有生效中的规则
type MarkupRuleRepository interface {
	FindActiveByCategory(ctx context.Context, category Category) ([]MarkupRule, error)
}

// PromoCodeRepository 按码查找优惠码
type PromoCodeRepository interface {
	FindByCode(ctx context.Context, code string) (*PromoCode, error)
}
