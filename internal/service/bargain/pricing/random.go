package pricing

import (
	"math/rand/v2"
	"sync"
)

// RandomSource 返回 [0,1) 内的均匀随机数。议价中所有随机分支都从这里取值，测试时注入固定序列。
type RandomSource interface {
	Float64() float64
}

// LockedRand 是并发安全的 PCG 随机源
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandom 使用给定种子创建随机源
func NewRandom(seed1, seed2 uint64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewPCG(seed1, seed2))}
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Sequence 依次返回预设的值，用完后循环。测试和回放用。
type Sequence struct {
	mu     sync.Mutex
	values []float64
	next   int
}

func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}
