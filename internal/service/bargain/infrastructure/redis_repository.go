package infrastructure

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"bargain/internal/pkg/redis"
	"bargain/internal/service/bargain/domain"
)

const (
	sessionKeyPrefix = "bargain:session:"
	evictIndexKey    = "bargain:sessions:evict"
)

// RedisSessionRepository 多实例共享会话。
// 会话以 JSON 存储；有序集合 evictIndexKey 按可清理时间索引，供清理任务使用。
// key 自身的 TTL 多留 retention，清理任务没跑时也不会无限增长。
type RedisSessionRepository struct {
	client    goredis.UniversalClient
	retention time.Duration
	now       func() time.Time
}

func NewRedisSessionRepository(client *redis.Client, retention time.Duration) *RedisSessionRepository {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &RedisSessionRepository{client: client.GetClient(), retention: retention, now: time.Now}
}

func (r *RedisSessionRepository) ttl(s *domain.Session) time.Duration {
	d := s.EvictableAt(r.retention).Sub(r.now())
	if d < time.Second {
		d = time.Second
	}
	return d
}

func score(s *domain.Session) float64 {
	return float64(s.EvictableAt(0).UnixMilli())
}

func (r *RedisSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	body, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	ok, err := r.client.SetNX(ctx, sessionKeyPrefix+s.ID, body, r.ttl(s)).Result()
	if err != nil {
		return errors.Wrapf(err, "create session %s", s.ID)
	}
	if !ok {
		return domain.ErrSessionExists
	}
	if err := r.client.ZAdd(ctx, evictIndexKey, goredis.Z{Score: score(s), Member: s.ID}).Err(); err != nil {
		return errors.Wrapf(err, "index session %s", s.ID)
	}
	return nil
}

func (r *RedisSessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	body, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if redis.IsNil(err) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get session %s", id)
	}
	var s domain.Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, errors.Wrapf(err, "decode session %s", id)
	}
	return &s, nil
}

// Save 只更新已存在的会话
func (r *RedisSessionRepository) Save(ctx context.Context, s *domain.Session) error {
	body, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	_, err = r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.SetArgs(ctx, sessionKeyPrefix+s.ID, body, goredis.SetArgs{Mode: "XX", TTL: r.ttl(s)})
		p.ZAdd(ctx, evictIndexKey, goredis.Z{Score: score(s), Member: s.ID})
		return nil
	})
	if redis.IsNil(err) {
		r.client.ZRem(ctx, evictIndexKey, s.ID)
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "save session %s", s.ID)
	}
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, sessionKeyPrefix+id)
		p.ZRem(ctx, evictIndexKey, id)
		return nil
	})
	return errors.Wrapf(err, "delete session %s", id)
}

func (r *RedisSessionRepository) ListEvictable(ctx context.Context, now time.Time, grace time.Duration) ([]string, error) {
	upper := strconv.FormatInt(now.Add(-grace).UnixMilli(), 10)
	ids, err := r.client.ZRangeByScore(ctx, evictIndexKey, &goredis.ZRangeBy{Min: "-inf", Max: "(" + upper}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list evictable sessions")
	}
	return ids, nil
}
