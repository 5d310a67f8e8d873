package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"bargain/internal/service/bargain/domain/port"
)

type cachedSettings struct {
	value     port.ModuleSettings
	expiresAt time.Time
}

// CachedSettingsProvider 按查询条件缓存配置，同一个 key 的并发未命中只回源一次
type CachedSettingsProvider struct {
	inner port.SettingsProvider
	ttl   time.Duration
	now   func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cachedSettings
}

func NewCachedSettingsProvider(inner port.SettingsProvider, ttl time.Duration) *CachedSettingsProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSettingsProvider{inner: inner, ttl: ttl, now: time.Now, cache: make(map[string]cachedSettings)}
}

func cacheKey(q port.SettingsQuery) string {
	return strings.ToLower(q.Module + "|" + q.CountryCode + "|" + q.City)
}

func (c *CachedSettingsProvider) Settings(ctx context.Context, q port.SettingsQuery) (port.ModuleSettings, error) {
	key := cacheKey(q)
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		s, err := c.inner.Settings(ctx, q)
		if err != nil {
			return port.ModuleSettings{}, err
		}
		c.mu.Lock()
		c.cache[key] = cachedSettings{value: s, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		// 回源失败时旧值仍可用
		if ok {
			return entry.value, nil
		}
		return port.ModuleSettings{}, err
	}
	return v.(port.ModuleSettings), nil
}

// Invalidate 清空缓存
func (c *CachedSettingsProvider) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]cachedSettings)
	c.mu.Unlock()
}
