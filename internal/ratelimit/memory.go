package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type shard struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// Memory 单进程限流，按 key 分片减少锁竞争
type Memory struct {
	cfg    Config
	now    func() time.Time
	shards [shardCount]*shard
}

// NewMemory 创建内存限流器，now 为 nil 时使用 time.Now
func NewMemory(cfg Config, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	m := &Memory{cfg: cfg, now: now}
	for i := range m.shards {
		m.shards[i] = &shard{counters: make(map[string]*Counter)}
	}
	return m
}

func (m *Memory) shardFor(k string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	return m.shards[h.Sum32()%shardCount]
}

// Check 空身份不计数
func (m *Memory) Check(_ context.Context, kind Kind, identity string) (Counter, error) {
	b, err := m.cfg.budget(kind)
	if err != nil {
		return Counter{}, err
	}
	if identity == "" || b.Requests <= 0 {
		return Counter{}, nil
	}

	now := m.now()
	k := key(kind, identity)
	s := m.shardFor(k)

	s.mu.Lock()
	c, ok := s.counters[k]
	if !ok || now.After(c.ResetAt) {
		c = &Counter{ResetAt: now.Add(b.Window)}
		s.counters[k] = c
	}
	c.Count++
	if c.Count > b.Requests {
		c.Blocked = true
	}
	snapshot := *c
	s.mu.Unlock()

	if snapshot.Blocked {
		return reject(snapshot, kind, identity, now)
	}
	return snapshot, nil
}

// Sweep 删除窗口已结束的计数，返回删除数量
func (m *Memory) Sweep(now time.Time) int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, c := range s.counters {
			if now.After(c.ResetAt) {
				delete(s.counters, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Len 当前计数条目数
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.counters)
		s.mu.Unlock()
	}
	return n
}
