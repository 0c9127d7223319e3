package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
)

type queueSource struct{ q *Queue }

func (s queueSource) Next() ([]byte, *Pending, bool) {
	p, ok := s.q.Pop()
	if !ok {
		return nil, nil, false
	}
	return p.Payload, p, true
}

type recorder struct {
	mu     sync.Mutex
	writes [][]byte
}

func (r *recorder) add(b []byte) {
	r.mu.Lock()
	r.writes = append(r.writes, b)
	r.mu.Unlock()
}

func (r *recorder) all() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.writes...)
}

func testConfig(timeout time.Duration) Config {
	return Config{ResponseTimeout: timeout, IdleDelay: 5 * time.Millisecond}
}

func TestWorkerCorrelatedResponseShortensWait(t *testing.T) {
	q := NewQueue()
	q.Open()
	corr := NewCorrelator()
	rec := &recorder{}

	// 模拟设备：每次写入后立即回对应响应
	write := func(ctx context.Context, b []byte) error {
		rec.add(b)
		kind, _ := bike.ResponseKind(b[1])
		go corr.Observe(kind)
		return nil
	}
	w := NewWorker(queueSource{q}, write, corr, testConfig(5*time.Second), nil)
	var matched []bool
	var mu sync.Mutex
	w.SetHooks(Hooks{OnCorrelation: func(cmd byte, ok bool) {
		mu.Lock()
		matched = append(matched, ok)
		mu.Unlock()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	a := q.Enqueue(bike.AckCmd())
	b := q.Enqueue(bike.GetMaxLevelCmd())
	c := q.Enqueue(bike.SetResistanceLevelCmd(3))

	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	require.NoError(t, a.Wait(wctx))
	require.NoError(t, b.Wait(wctx))
	require.NoError(t, c.Wait(wctx))

	assert.Equal(t, [][]byte{bike.AckCmd(), bike.GetMaxLevelCmd(), bike.SetResistanceLevelCmd(3)}, rec.all())
	mu.Lock()
	assert.Equal(t, []bool{true, true, true}, matched)
	mu.Unlock()
	assert.Equal(t, int64(3), w.Stats()["matched"])
}

func TestWorkerTimeoutAdvances(t *testing.T) {
	q := NewQueue()
	q.Open()
	rec := &recorder{}
	write := func(ctx context.Context, b []byte) error { rec.add(b); return nil }
	w := NewWorker(queueSource{q}, write, NewCorrelator(), testConfig(30*time.Millisecond), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	start := time.Now()
	p := q.Enqueue(bike.GetWorkoutStateCmd())
	require.NoError(t, p.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// 未应答的命令被放弃，循环继续处理下一条
	p2 := q.Enqueue(bike.AckCmd())
	require.NoError(t, p2.Wait(context.Background()))
	assert.Len(t, rec.all(), 2)
	assert.Equal(t, int64(2), w.Stats()["timeouts"])
}

func TestWorkerWriteErrorStopsLoop(t *testing.T) {
	q := NewQueue()
	q.Open()
	boom := errors.New("gatt write failed")
	w := NewWorker(queueSource{q}, func(ctx context.Context, b []byte) error { return boom },
		NewCorrelator(), testConfig(time.Second), nil)

	p := q.Enqueue(bike.AckCmd())
	err := w.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, p.Err(), boom)
}

func TestWorkerCancelWakesWait(t *testing.T) {
	q := NewQueue()
	q.Open()
	w := NewWorker(queueSource{q}, func(ctx context.Context, b []byte) error { return nil },
		NewCorrelator(), testConfig(time.Hour), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	p := q.Enqueue(bike.AckCmd())
	// 等待写入发生后再取消
	require.Eventually(t, func() bool { return w.Stats()["sent"] == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("断开应提前唤醒等待")
	}
	assert.NoError(t, p.Err())
}

func TestWorkerMinWriteInterval(t *testing.T) {
	q := NewQueue()
	q.Open()
	var mu sync.Mutex
	var stamps []time.Time
	write := func(ctx context.Context, b []byte) error {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return nil
	}
	cfg := Config{ResponseTimeout: time.Millisecond, IdleDelay: time.Millisecond, MinWriteInterval: 40 * time.Millisecond}
	w := NewWorker(queueSource{q}, write, NewCorrelator(), cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	q.Enqueue(bike.AckCmd())
	last := q.Enqueue(bike.AckCmd())
	require.NoError(t, last.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 2)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 35*time.Millisecond)
}
