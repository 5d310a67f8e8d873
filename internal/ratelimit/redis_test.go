package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bargain/internal/pkg/redis"
)

func newTestRedis(t *testing.T, cfg Config) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	uc := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = uc.Close() })

	r, err := NewRedis(context.Background(), cfg, redis.Wrap(uc), "")
	require.NoError(t, err)
	return r, mr
}

func TestRedis_ScenarioC(t *testing.T) {
	r, _ := newTestRedis(t, Config{SessionStart: Budget{Requests: 10, Window: time.Minute}})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		c, err := r.Check(ctx, KindSessionStart, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, i+1, c.Count)
	}
	c, err := r.Check(ctx, KindSessionStart, "10.0.0.1")
	require.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, c.Blocked)
	assert.Equal(t, 11, c.Count)
}

func TestRedis_WindowExpires(t *testing.T) {
	r, mr := newTestRedis(t, Config{IP: Budget{Requests: 1, Window: time.Second}})
	ctx := context.Background()

	_, err := r.Check(ctx, KindIP, "a")
	require.NoError(t, err)
	_, err = r.Check(ctx, KindIP, "a")
	require.ErrorIs(t, err, ErrRateLimited)

	mr.FastForward(2 * time.Second)
	_, err = r.Check(ctx, KindIP, "a")
	assert.NoError(t, err)
}
