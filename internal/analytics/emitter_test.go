package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	failN   int
	calls   int
}

func (s *recordingSink) Write(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failN > 0 {
		s.failN--
		return errors.New("broker unavailable")
	}
	s.batches = append(s.batches, append([]Event(nil), events...))
	return nil
}

func (s *recordingSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *recordingSink) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, b := range s.batches {
		out = append(out, len(b))
	}
	return out
}

func startEmitter(t *testing.T, sink Sink, cfg Config) *Emitter {
	t.Helper()
	e := NewEmitter(sink, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		closeCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		_ = e.Close(closeCtx)
		cancel()
	})
	return e
}

func TestEmitter_FlushesBySize(t *testing.T) {
	sink := &recordingSink{}
	e := startEmitter(t, sink, Config{BatchSize: 3, FlushInterval: time.Hour})

	for i := 0; i < 6; i++ {
		e.Emit(NewEvent("test", fmt.Sprintf("s%d", i), nil))
	}

	require.Eventually(t, func() bool { return len(sink.events()) == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{3, 3}, sink.batchSizes())
}

func TestEmitter_FlushesByInterval(t *testing.T) {
	sink := &recordingSink{}
	e := startEmitter(t, sink, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond})

	e.Emit(NewEvent("test", "a", nil))
	e.Emit(NewEvent("test", "b", nil))

	require.Eventually(t, func() bool { return len(sink.events()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestEmitter_RetriesFailedBatch(t *testing.T) {
	sink := &recordingSink{failN: 2}
	e := startEmitter(t, sink, Config{BatchSize: 10, FlushInterval: 10 * time.Millisecond})

	for i := 0; i < 4; i++ {
		e.Emit(NewEvent("test", fmt.Sprintf("s%d", i), nil))
	}

	require.Eventually(t, func() bool { return len(sink.events()) == 4 }, time.Second, 5*time.Millisecond)
	got := sink.events()
	for i, ev := range got {
		assert.Equal(t, fmt.Sprintf("s%d", i), ev.SessionID)
	}
}

func TestEmitter_PendingIsBounded(t *testing.T) {
	e := NewEmitter(&recordingSink{}, Config{BatchSize: 2, MaxPending: 4})
	var ids []string
	for i := 0; i < 10; i++ {
		ev := NewEvent("test", "", nil)
		ids = append(ids, ev.ID)
		e.add(ev)
	}

	require.Len(t, e.pending, 4)
	assert.Equal(t, ids[6], e.pending[0].ID)
	assert.Equal(t, ids[9], e.pending[3].ID)
}

func TestEmitter_EmitNeverBlocks(t *testing.T) {
	e := NewEmitter(&recordingSink{}, Config{BufferSize: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			e.Emit(NewEvent("test", "", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	assert.Len(t, e.ch, 1)
}

func TestEmitter_CloseDrains(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink, Config{BatchSize: 100, FlushInterval: time.Hour})
	for i := 0; i < 5; i++ {
		e.Emit(NewEvent("test", "", nil))
	}

	runDone := make(chan struct{})
	go func() {
		_ = e.Run(context.Background())
		close(runDone)
	}()
	require.Eventually(t, func() bool { return e.started.Load() }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))
	<-runDone

	assert.Len(t, sink.events(), 5)

	e.Emit(NewEvent("late", "", nil))
	assert.Len(t, e.ch, 0)
}

// 与 Close 并发的 Emit 要么写入 sink，要么记为 closed 丢弃
func TestEmitter_ConcurrentEmitAndCloseLosesNothing(t *testing.T) {
	const producers, perProducer = 8, 200
	sink := &recordingSink{}
	e := NewEmitter(sink, Config{BufferSize: producers * perProducer, BatchSize: 50, FlushInterval: time.Hour})

	emitted := testutil.ToFloat64(emittedTotal)
	closed := testutil.ToFloat64(droppedTotal.WithLabelValues("closed"))
	shutdown := testutil.ToFloat64(droppedTotal.WithLabelValues("shutdown"))

	runDone := make(chan struct{})
	go func() {
		_ = e.Run(context.Background())
		close(runDone)
	}()
	require.Eventually(t, func() bool { return e.started.Load() }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < perProducer; i++ {
				e.Emit(NewEvent("test", "", nil))
			}
		}()
	}
	close(start)
	time.Sleep(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.Close(ctx))
	<-runDone
	wg.Wait()

	accepted := testutil.ToFloat64(emittedTotal) - emitted
	rejected := testutil.ToFloat64(droppedTotal.WithLabelValues("closed")) - closed
	assert.Equal(t, float64(producers*perProducer), accepted+rejected)
	assert.Equal(t, accepted, float64(len(sink.events())))
	assert.Zero(t, testutil.ToFloat64(droppedTotal.WithLabelValues("shutdown"))-shutdown)
	assert.Len(t, e.ch, 0)
}

func TestEmitter_StopsAcceptingWhenRunCancelled(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(sink, Config{BatchSize: 100, FlushInterval: time.Hour})
	e.Emit(NewEvent("test", "", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Len(t, sink.events(), 1)

	closed := testutil.ToFloat64(droppedTotal.WithLabelValues("closed"))
	e.Emit(NewEvent("late", "", nil))
	assert.Len(t, e.ch, 0)
	assert.Equal(t, closed+1, testutil.ToFloat64(droppedTotal.WithLabelValues("closed")))
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{failN: 1}

	err := Multi(ok, bad).Write(context.Background(), []Event{NewEvent("x", "", nil)})
	assert.Error(t, err)
	assert.Len(t, ok.events(), 1)
}
