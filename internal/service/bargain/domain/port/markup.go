package port

import (
	"context"

	"bargain/internal/service/bargain/domain"
)

// MarkupResolver 是加价解析的出站端口。
// 找不到适用规则时返回 domain.ErrNoApplicableMarkup。
type MarkupResolver interface {
	Resolve(ctx context.Context, pc domain.ProductContext) (domain.Resolution, error)
}

// ConditionEvaluator 评估规则上的可选条件表达式
type ConditionEvaluator interface {
	Evaluate(expression string, fact map[string]interface{}) (bool, error)
}
