package outbound

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDisconnected 连接已断开，待发送命令被清空
var ErrDisconnected = errors.New("disconnected")

// Pending 一条待下发命令及其完成句柄
type Pending struct {
	ID         string
	Payload    []byte
	EnqueuedAt time.Time

	done chan struct{}
	once sync.Once
	err  error
}

func newPending(payload []byte) *Pending {
	dup := make([]byte, len(payload))
	copy(dup, payload)
	return &Pending{
		ID:         uuid.NewString(),
		Payload:    dup,
		EnqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

// Resolve 完成句柄，只有第一次调用生效
func (p *Pending) Resolve(err error) bool {
	resolved := false
	p.once.Do(func() {
		p.err = err
		close(p.done)
		resolved = true
	})
	return resolved
}

// Done 完成通知
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err 完成后的结果，未完成时为 nil
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait 等待命令写出或失败
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Queue 下行命令 FIFO 队列。关闭状态下入队立即失败。
type Queue struct {
	mu      sync.Mutex
	items   []*Pending
	open    bool
	onDepth func(int)
}

// NewQueue 创建队列（初始为关闭状态，连接建立后 Open）
func NewQueue() *Queue {
	return &Queue{}
}

// SetDepthCallback 队列长度变化时回调（用于指标）
func (q *Queue) SetDepthCallback(fn func(int)) { q.onDepth = fn }

// Open 允许入队
func (q *Queue) Open() {
	q.mu.Lock()
	q.open = true
	q.mu.Unlock()
}

// Enqueue 追加到队尾，返回完成句柄
func (q *Queue) Enqueue(payload []byte) *Pending {
	p := newPending(payload)
	q.mu.Lock()
	if !q.open {
		q.mu.Unlock()
		p.Resolve(ErrDisconnected)
		return p
	}
	q.items = append(q.items, p)
	n := len(q.items)
	q.mu.Unlock()
	q.depth(n)
	return p
}

// Pop 取出队首，队列为空或已关闭返回 false
func (q *Queue) Pop() (*Pending, bool) {
	q.mu.Lock()
	if !q.open || len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	n := len(q.items)
	q.mu.Unlock()
	q.depth(n)
	return p, true
}

// Close 关闭队列并以 err 失败所有待发送命令，返回失败数量
func (q *Queue) Close(err error) int {
	if err == nil {
		err = ErrDisconnected
	}
	q.mu.Lock()
	q.open = false
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, p := range items {
		p.Resolve(err)
	}
	q.depth(0)
	return len(items)
}

// Len 当前排队数量
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsOpen 是否允许入队
func (q *Queue) IsOpen() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.open
}

func (q *Queue) depth(n int) {
	if q.onDepth != nil {
		q.onDepth(n)
	}
}
