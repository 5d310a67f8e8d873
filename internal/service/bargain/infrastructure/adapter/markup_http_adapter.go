package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"bargain/internal/pkg/httpclient"
	"bargain/internal/service/bargain/domain"
)

const markupResolvePath = "/markup/resolve"

// MarkupHTTPAdapter 实现了 port.MarkupResolver，调用外部加价服务
type MarkupHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewMarkupHTTPAdapter(client *httpclient.Client, baseURL string) *MarkupHTTPAdapter {
	return &MarkupHTTPAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type markupResolveRequest struct {
	Product  domain.Product  `json:"product"`
	UserType domain.UserType `json:"userType"`
}

// Resolve 下游用 404/422 表示没有可用规则
func (a *MarkupHTTPAdapter) Resolve(ctx context.Context, pc domain.ProductContext) (domain.Resolution, error) {
	var res domain.Resolution
	err := a.client.PostJSON(ctx, a.baseURL+markupResolvePath, markupResolveRequest{Product: pc.Product, UserType: pc.UserType}, &res)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusUnprocessableEntity) {
			return domain.Resolution{}, fmt.Errorf("%w: %s", domain.ErrNoApplicableMarkup, se.Body)
		}
		return domain.Resolution{}, err
	}
	if err := res.Ranges.Validate(); err != nil {
		return domain.Resolution{}, fmt.Errorf("markup service returned invalid ranges: %w", err)
	}
	return res, nil
}
