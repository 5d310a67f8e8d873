package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"bargain/internal/pkg/redis"
)

const scriptName = "ratelimit_incr"

// 计数 +1，首次设置窗口；返回 {count, pttl}
const incrScript = `
local c = redis.call('INCR', KEYS[1])
if c == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {c, ttl}
`

// Redis 多实例共享计数，窗口由 key 的过期时间实现，不需要清理
type Redis struct {
	cfg    Config
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis 加载脚本
func NewRedis(ctx context.Context, cfg Config, client *redis.Client, prefix string) (*Redis, error) {
	if err := client.LoadScriptFromContent(ctx, scriptName, incrScript); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "bargain:rl:"
	}
	return &Redis{cfg: cfg, client: client, prefix: prefix, now: time.Now}, nil
}

func (r *Redis) Check(ctx context.Context, kind Kind, identity string) (Counter, error) {
	b, err := r.cfg.budget(kind)
	if err != nil {
		return Counter{}, err
	}
	if identity == "" || b.Requests <= 0 {
		return Counter{}, nil
	}

	res, err := r.client.RunScript(ctx, scriptName, []string{r.prefix + key(kind, identity)}, b.Window.Milliseconds())
	if err != nil {
		return Counter{}, errors.Wrap(err, "ratelimit: run script")
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Counter{}, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	count, _ := vals[0].(int64)
	ttl, _ := vals[1].(int64)

	now := r.now()
	c := Counter{Count: int(count), ResetAt: now.Add(time.Duration(ttl) * time.Millisecond)}
	if c.Count > b.Requests {
		c.Blocked = true
		return reject(c, kind, identity, now)
	}
	return c, nil
}
