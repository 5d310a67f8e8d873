package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"bargain/internal/pkg/httpclient"
	"bargain/internal/service/bargain/domain"
)

const promoValidatePath = "/promo/validate"

// PromoHTTPAdapter 实现了 port.PromoValidator，调用外部优惠服务
type PromoHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewPromoHTTPAdapter(client *httpclient.Client, baseURL string) *PromoHTTPAdapter {
	return &PromoHTTPAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (a *PromoHTTPAdapter) Validate(ctx context.Context, req domain.PromoRequest) (domain.PromoResult, error) {
	req.Code = domain.NormalizeCode(req.Code)
	var res domain.PromoResult
	err := a.client.PostJSON(ctx, a.baseURL+promoValidatePath, req, &res)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return domain.PromoResult{Code: req.Code, Reason: domain.PromoReasonNotFound}, nil
		}
		return domain.PromoResult{}, err
	}
	if res.Code == "" {
		res.Code = req.Code
	}
	if res.Discount < 0 {
		res.Discount = 0
	}
	return res, nil
}
