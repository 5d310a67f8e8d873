package application

import (
	"context"
	"sync"
	"time"

	"bargain/internal/analytics"
	"bargain/internal/service/bargain/domain"
	"bargain/internal/service/bargain/domain/port"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// testRanges 在 u=0 时展示加价为 8%
var testRanges = domain.Ranges{
	Current: domain.Range{Min: 8, Max: 12},
	Bargain: domain.Range{Min: 2, Max: 5},
}

func testProduct() domain.Product {
	return domain.Product{
		ID:          "HTL-001",
		Category:    domain.CategoryHotel,
		Name:        "Harbour View",
		BasePrice:   1000,
		Currency:    "USD",
		City:        "Dubai",
		CountryCode: "AE",
		StarRating:  5,
	}
}

type staticResolver struct {
	mu    sync.Mutex
	res   domain.Resolution
	errs  []error
	calls int
}

func (r *staticResolver) Resolve(context.Context, domain.ProductContext) (domain.Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		if err != nil {
			return domain.Resolution{}, err
		}
	}
	return r.res, nil
}

type promoFunc func(ctx context.Context, req domain.PromoRequest) (domain.PromoResult, error)

func (f promoFunc) Validate(ctx context.Context, req domain.PromoRequest) (domain.PromoResult, error) {
	return f(ctx, req)
}

type settingsFunc func(ctx context.Context, q port.SettingsQuery) (port.ModuleSettings, error)

func (f settingsFunc) Settings(ctx context.Context, q port.SettingsQuery) (port.ModuleSettings, error) {
	return f(ctx, q)
}

type bookingRecorder struct {
	mu    sync.Mutex
	locks []domain.PriceLock
	err   error
}

func (b *bookingRecorder) PublishPriceLock(_ context.Context, lock domain.PriceLock) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.locks = append(b.locks, lock)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (r *eventRecorder) Emit(ev analytics.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *eventRecorder) count(typ string) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

type markupRepo struct {
	rules []domain.MarkupRule
	err   error
}

func (m markupRepo) FindActiveByCategory(_ context.Context, c domain.Category) ([]domain.MarkupRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.MarkupRule
	for _, r := range m.rules {
		if r.Category == c {
			out = append(out, r)
		}
	}
	return out, nil
}

type promoRepo map[string]*domain.PromoCode

func (p promoRepo) FindByCode(_ context.Context, code string) (*domain.PromoCode, error) {
	if code == "BROKEN" {
		return nil, context.DeadlineExceeded
	}
	pc, ok := p[code]
	if !ok {
		return nil, domain.ErrPromoNotFound
	}
	return pc, nil
}
