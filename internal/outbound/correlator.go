package outbound

import "sync"

// Correlator 记录最近一次下行命令期望的响应码，收到匹配响应时唤醒发送循环。
// 同一时刻最多一个期望。
type Correlator struct {
	mu     sync.Mutex
	kind   byte
	active bool
	wake   chan struct{}
}

// NewCorrelator 创建关联器
func NewCorrelator() *Correlator {
	return &Correlator{}
}

// Expect 登记期望的响应码，覆盖之前的期望；返回的通道在匹配响应到达时关闭
func (c *Correlator) Expect(kind byte) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kind = kind
	c.active = true
	c.wake = make(chan struct{})
	return c.wake
}

// Observe 上行帧到达时调用，命中当前期望返回 true 并清除期望
func (c *Correlator) Observe(kind byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.kind != kind {
		return false
	}
	c.active = false
	close(c.wake)
	return true
}

// Clear 清除期望（超时或断开）
func (c *Correlator) Clear() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// Pending 当前期望的响应码
func (c *Correlator) Pending() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind, c.active
}
