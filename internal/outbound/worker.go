package outbound

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Source 发送循环的命令来源：显式队列优先，其次当前阶段的默认轮询命令。
// entry 为 nil 表示轮询命令；ok=false 表示暂无可发送内容。
type Source interface {
	Next() (payload []byte, entry *Pending, ok bool)
}

// WriteFunc 向传输层写入一帧
type WriteFunc func(ctx context.Context, payload []byte) error

// Config 发送节奏配置
type Config struct {
	// ResponseTimeout 每次写入后等待响应的上限
	ResponseTimeout time.Duration
	// SettleDelay 收到匹配响应后的额外等待，避免与紧随的第二个响应竞争
	SettleDelay time.Duration
	// IdleDelay 无命令可发时的空转间隔
	IdleDelay time.Duration
	// MinWriteInterval 相邻两次写入的最小间隔，0 表示不限制
	MinWriteInterval time.Duration
}

// DefaultConfig 与设备实测节奏一致的默认值
func DefaultConfig() Config {
	return Config{
		ResponseTimeout:  500 * time.Millisecond,
		SettleDelay:      50 * time.Millisecond,
		IdleDelay:        100 * time.Millisecond,
		MinWriteInterval: 100 * time.Millisecond,
	}
}

// Hooks 可选回调（指标、事件）
type Hooks struct {
	OnSend        func(payload []byte)
	OnCorrelation func(cmd byte, matched bool)
}

// Worker 单连接发送循环：同一时刻只有一条写入在途
type Worker struct {
	src     Source
	write   WriteFunc
	corr    *Correlator
	cfg     Config
	limiter *rate.Limiter
	hooks   Hooks
	logger  *zap.Logger

	// 统计
	sent     atomic.Int64
	matched  atomic.Int64
	timeouts atomic.Int64
}

// NewWorker 创建发送循环
func NewWorker(src Source, write WriteFunc, corr *Correlator, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultConfig().ResponseTimeout
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultConfig().IdleDelay
	}
	w := &Worker{src: src, write: write, corr: corr, cfg: cfg, logger: logger}
	if cfg.MinWriteInterval > 0 {
		w.limiter = rate.NewLimiter(rate.Every(cfg.MinWriteInterval), 1)
	}
	return w
}

// SetHooks 安装回调，需在 Run 之前调用
func (w *Worker) SetHooks(h Hooks) { w.hooks = h }

// Run 阻塞运行直到 ctx 取消（返回 nil）或写入失败（返回该错误）
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("send loop started")
	defer w.logger.Debug("send loop stopped")
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, entry, ok := w.src.Next()
		if !ok {
			if !sleep(ctx, w.cfg.IdleDelay) {
				return nil
			}
			continue
		}
		if err := w.sendOne(ctx, payload, entry); err != nil {
			return err
		}
	}
}

func (w *Worker) sendOne(ctx context.Context, payload []byte, entry *Pending) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			resolve(entry, ErrDisconnected)
			return nil
		}
	}

	var cmd byte
	if len(payload) > 1 {
		cmd = payload[1]
	}
	// 写入前登记期望，响应可能比 write 返回更早到达
	var wake <-chan struct{}
	if kind, ok := bike.ResponseKind(cmd); ok {
		wake = w.corr.Expect(kind)
	}

	if w.hooks.OnSend != nil {
		w.hooks.OnSend(payload)
	}
	if err := w.write(ctx, payload); err != nil {
		w.corr.Clear()
		resolve(entry, err)
		w.logger.Error("write to device failed",
			zap.String("cmd", bike.CommandName(cmd)),
			zap.Error(err))
		return err
	}
	w.sent.Add(1)

	timer := time.NewTimer(w.cfg.ResponseTimeout)
	defer timer.Stop()
	select {
	case <-wake:
		w.matched.Add(1)
		w.correlated(cmd, true)
		sleep(ctx, w.cfg.SettleDelay)
	case <-timer.C:
		w.corr.Clear()
		w.timeouts.Add(1)
		w.correlated(cmd, false)
		w.logger.Debug("no correlated response before ceiling",
			zap.String("cmd", bike.CommandName(cmd)),
			zap.Duration("timeout", w.cfg.ResponseTimeout))
	case <-ctx.Done():
		w.corr.Clear()
	}

	// 帧已写出，即使等待被断开提前唤醒也视为已下发
	resolve(entry, nil)
	return nil
}

func (w *Worker) correlated(cmd byte, matched bool) {
	if w.hooks.OnCorrelation != nil {
		w.hooks.OnCorrelation(cmd, matched)
	}
}

// Stats 获取统计信息
func (w *Worker) Stats() map[string]int64 {
	return map[string]int64{
		"sent":     w.sent.Load(),
		"matched":  w.matched.Load(),
		"timeouts": w.timeouts.Load(),
	}
}

func resolve(p *Pending, err error) {
	if p != nil {
		p.Resolve(err)
	}
}

// sleep 可被 ctx 打断的等待，被打断返回 false
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
