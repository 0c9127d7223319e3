// Package client 单台单车的控制客户端：连接、启动训练、调阻、暂停/恢复，
// 并把解码后的通知以事件形式发布。
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taoyao-code/iot-bike/internal/eventbus"
	"github.com/taoyao-code/iot-bike/internal/metrics"
	"github.com/taoyao-code/iot-bike/internal/outbound"
	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
	"github.com/taoyao-code/iot-bike/internal/session"
	"github.com/taoyao-code/iot-bike/internal/transport"
	"github.com/taoyao-code/iot-bike/internal/workout"
)

// Client 协议引擎门面，一个 Client 对应一个外设连接
type Client struct {
	p    transport.Peripheral
	opts Options
	log  *zap.Logger
	m    *metrics.AppMetrics

	bus     *eventbus.Bus
	queue   *outbound.Queue
	corr    *outbound.Correlator
	machine *session.Machine

	// mu 保证状态迁移与队列出队/清空在同一临界区内
	mu         sync.Mutex
	connecting bool
	destroyed  bool
	connID     string
	cancel     context.CancelFunc
	loopDone   chan struct{}
	worker     *outbound.Worker
}

// New 创建客户端（未连接）
func New(p transport.Peripheral, opts Options) *Client {
	opts.Service = transport.NormalizeUUID(opts.Service)
	opts.CommandChar = transport.NormalizeUUID(opts.CommandChar)
	opts.DataChar = transport.NormalizeUUID(opts.DataChar)
	opts.Aux = append([]AuxCharacteristic(nil), opts.Aux...)
	for i := range opts.Aux {
		opts.Aux[i].Service = transport.NormalizeUUID(opts.Aux[i].Service)
		opts.Aux[i].Characteristic = transport.NormalizeUUID(opts.Aux[i].Characteristic)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("device", p.Address()))

	c := &Client{
		p:       p,
		opts:    opts,
		log:     log,
		m:       opts.Metrics,
		bus:     eventbus.New(opts.EventBuffer, log),
		queue:   outbound.NewQueue(),
		corr:    outbound.NewCorrelator(),
		machine: session.NewMachine(opts.Cycles),
	}
	c.bus.SetDropCallback(c.m.EventDropped)
	c.queue.SetDepthCallback(c.m.SetQueueDepth)
	c.machine.OnChange(func(from, to session.State) {
		c.m.SetLinkState(int(to))
		c.log.Info("link state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	})
	return c
}

// Address 设备地址
func (c *Client) Address() string { return c.p.Address() }

// State 当前阶段
func (c *Client) State() session.State { return c.machine.State() }

// QueueLen 排队中的显式命令数
func (c *Client) QueueLen() int { return c.queue.Len() }

// Subscribe 订阅事件（topic 见 eventbus 与 bike.Kind*），不传 topic 订阅全部
func (c *Client) Subscribe(topics ...string) (<-chan eventbus.Message, func()) {
	return c.bus.Subscribe(topics...)
}

// Stats 发送循环统计
func (c *Client) Stats() map[string]int64 {
	c.mu.Lock()
	w := c.worker
	c.mu.Unlock()
	if w == nil {
		return map[string]int64{}
	}
	return w.Stats()
}

// Connect 连接、发现服务与特征值、订阅通知，成功后进入 Connected 并启动发送循环
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.destroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case c.connecting || c.machine.State() != session.Disconnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	if err := c.p.Connect(ctx); err != nil {
		if errors.Is(err, transport.ErrScanTimeout) {
			return c.scanTimedOut(err)
		}
		return c.connectFailed("connect", err)
	}
	if err := c.discoverAndSubscribe(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		_ = c.p.Disconnect()
		return ErrDestroyed
	}
	connID := uuid.NewString()
	c.connID = connID
	c.queue.Open()
	if _, err := c.machine.Transition(session.Connected); err != nil {
		c.mu.Unlock()
		_ = c.p.Disconnect()
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.loopDone = cancel, done
	w := outbound.NewWorker(source{c}, c.write, c.corr, c.opts.Pacing, c.log.With(zap.String("conn_id", connID)))
	w.SetHooks(outbound.Hooks{OnSend: c.onSend, OnCorrelation: c.onCorrelation})
	c.worker = w
	notifications := c.p.Notifications()
	c.mu.Unlock()

	go c.readLoop(connID, notifications)
	go c.sendLoop(loopCtx, connID, w, done)

	c.log.Info("device connected", zap.String("conn_id", connID))
	return nil
}

func (c *Client) connectFailed(op string, err error) error {
	_ = c.p.Disconnect()
	c.m.TransportError(op)
	te := &TransportError{Op: op, Err: err}
	c.log.Error("connect failed", zap.String("op", op), zap.Error(err))
	c.bus.PublishError(te)
	return te
}

// scanTimedOut 扫描超时单独上报，不计入传输错误
func (c *Client) scanTimedOut(err error) error {
	c.m.ScanTimeout()
	c.log.Warn("device not found", zap.String("address", c.p.Address()), zap.Error(err))
	c.bus.PublishError(err)
	return err
}

func (c *Client) discoverAndSubscribe(ctx context.Context) error {
	// 按服务分组，主服务在前
	order := []string{c.opts.Service}
	want := map[string][]string{c.opts.Service: {c.opts.CommandChar, c.opts.DataChar}}
	for _, a := range c.opts.Aux {
		if _, ok := want[a.Service]; !ok {
			order = append(order, a.Service)
		}
		want[a.Service] = append(want[a.Service], a.Characteristic)
	}

	found, err := c.p.DiscoverServices(ctx, order...)
	if err != nil {
		return c.connectFailed("discover", err)
	}
	if !contains(found, c.opts.Service) {
		return c.connectFailed("discover", fmt.Errorf("%w: service %s", ErrServiceNotFound, c.opts.Service))
	}

	var aux []string
	for _, svc := range order {
		main := svc == c.opts.Service
		if !contains(found, svc) {
			c.log.Warn("auxiliary service not found", zap.String("service", svc))
			continue
		}
		chars, err := c.p.DiscoverCharacteristics(ctx, svc, want[svc]...)
		if err != nil {
			if main {
				return c.connectFailed("discover", err)
			}
			c.log.Warn("discover auxiliary characteristics failed", zap.String("service", svc), zap.Error(err))
			continue
		}
		if main && (!contains(chars, c.opts.CommandChar) || !contains(chars, c.opts.DataChar)) {
			return c.connectFailed("discover", fmt.Errorf("%w: command/data characteristic", ErrServiceNotFound))
		}
		for _, ch := range chars {
			if ch != c.opts.CommandChar && ch != c.opts.DataChar {
				aux = append(aux, ch)
			}
		}
	}

	if err := c.p.Subscribe(ctx, c.opts.DataChar); err != nil {
		return c.connectFailed("subscribe", err)
	}
	for _, ch := range aux {
		if err := c.p.Subscribe(ctx, ch); err != nil {
			c.log.Warn("subscribe auxiliary characteristic failed", zap.String("characteristic", ch), zap.Error(err))
		}
	}
	return nil
}

// Disconnect 断开并以 ErrDisconnected 失败所有排队命令；已断开时为空操作
func (c *Client) Disconnect() error {
	if done := c.teardown("", nil); done != nil {
		<-done
	}
	return nil
}

// Destroy 断开并释放所有事件订阅，之后客户端不可再用
func (c *Client) Destroy() error {
	err := c.Disconnect()
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	c.bus.Close()
	return err
}

// teardown 迁移到 Disconnected：状态翻转与队列清空在同一临界区完成。
// connID 非空时只处理对应连接，避免旧连接的循环误伤新连接。
func (c *Client) teardown(connID string, reason error) chan struct{} {
	c.mu.Lock()
	if connID != "" && connID != c.connID {
		c.mu.Unlock()
		return nil
	}
	changed, _ := c.machine.Transition(session.Disconnected)
	if !changed {
		c.mu.Unlock()
		return nil
	}
	flushed := c.queue.Close(outbound.ErrDisconnected)
	cancel, done := c.cancel, c.loopDone
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.corr.Clear()
	if err := c.p.Disconnect(); err != nil {
		c.log.Warn("transport disconnect failed", zap.Error(err))
	}

	c.log.Info("device disconnected", zap.Int("flushed", flushed), zap.Error(reason))
	if reason != nil {
		c.bus.PublishError(reason)
	}
	c.bus.Publish(eventbus.Message{Topic: eventbus.TopicDisconnect, Err: reason})
	return done
}

// Start 从 Connected 启动训练：进入 Starting，依次排入
// ack、模式、参数、恢复、阻力；五条全部下发后进入 Started
func (c *Client) Start(ctx context.Context, p workout.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	switch st := c.machine.State(); st {
	case session.Connected:
	case session.Disconnected:
		c.mu.Unlock()
		return ErrNotConnected
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, st)
	}
	if _, err := c.machine.Transition(session.Starting); err != nil {
		c.mu.Unlock()
		return err
	}
	handles := c.enqueueLocked(
		bike.AckCmd(),
		bike.SetWorkoutModeCmd(p.WorkoutMode),
		bike.SetWorkoutParamsCmd(p.TimeInMinute, p.DistanceInKM, p.Calories, p.Pulse, p.Watt, p.Unit),
		bike.SetWorkoutControlStateCmd(bike.ControlResume),
		bike.SetResistanceLevelCmd(p.Level),
	)
	c.mu.Unlock()

	// 等待在独立 goroutine 中完成，调用方 ctx 取消不影响状态推进
	result := make(chan error, 1)
	go func() {
		for _, h := range handles {
			if err := h.Wait(context.Background()); err != nil {
				result <- err
				return
			}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.machine.State() != session.Starting {
			result <- ErrNotConnected
			return
		}
		_, err := c.machine.Transition(session.Started)
		result <- err
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetResistance 设置阻力等级，命令写出后返回
func (c *Client) SetResistance(ctx context.Context, level int) error {
	if err := workout.ValidateLevel(level); err != nil {
		return err
	}
	return c.send(ctx, bike.SetResistanceLevelCmd(level))
}

// Pause 暂停训练
func (c *Client) Pause(ctx context.Context) error {
	return c.send(ctx, bike.SetWorkoutControlStateCmd(bike.ControlPause))
}

// Resume 恢复训练
func (c *Client) Resume(ctx context.Context) error {
	return c.send(ctx, bike.SetWorkoutControlStateCmd(bike.ControlResume))
}

func (c *Client) send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	h := c.enqueueLocked(payload)[0]
	c.mu.Unlock()
	return h.Wait(ctx)
}

// enqueueLocked 需持有 c.mu，保证一组命令在队列中连续
func (c *Client) enqueueLocked(payloads ...[]byte) []*outbound.Pending {
	out := make([]*outbound.Pending, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, c.queue.Enqueue(p))
	}
	return out
}

func (c *Client) write(ctx context.Context, payload []byte) error {
	return c.p.Write(ctx, c.opts.CommandChar, payload)
}

func (c *Client) sendLoop(ctx context.Context, connID string, w *outbound.Worker, done chan struct{}) {
	defer close(done)
	if err := w.Run(ctx); err != nil {
		c.m.TransportError("write")
		c.teardown(connID, &TransportError{Op: "write", Err: err})
	}
}

func (c *Client) readLoop(connID string, ch <-chan transport.Notification) {
	for n := range ch {
		c.handleNotification(n)
	}
	// 通知流关闭：链路由传输层断开
	c.teardown(connID, ErrLinkLost)
}

func (c *Client) handleNotification(n transport.Notification) {
	data := append([]byte(nil), n.Data...)
	if transport.NormalizeUUID(n.Characteristic) != c.opts.DataChar {
		c.m.MysteryFrame()
		c.log.Debug("mystery data", zap.String("characteristic", n.Characteristic), zap.Binary("data", data))
		c.bus.Publish(eventbus.Message{
			Topic:          eventbus.TopicMysteryData,
			Raw:            data,
			Characteristic: n.Characteristic,
		})
		return
	}

	d := bike.Decode(data)
	if d.Anomaly != nil {
		reason := "checksum"
		if errors.Is(d.Anomaly, bike.ErrShortFrame) {
			reason = "short"
		}
		c.m.DecodeAnomaly(reason)
		c.log.Warn("decode anomaly", zap.String("hex", fmt.Sprintf("%x", data)), zap.Error(d.Anomaly))
		c.bus.PublishError(fmt.Errorf("decode notification: %w", d.Anomaly))
	}
	if d.Frame != nil {
		c.corr.Observe(d.Frame.Cmd)
	}
	c.m.FrameReceived(d.Event.Kind())
	c.bus.PublishEvent(d.Event, data)
}

func (c *Client) onSend(payload []byte) {
	// 订阅方拿到的是副本，改写它不会影响之后下发的帧
	payload = append([]byte(nil), payload...)
	msg := eventbus.Message{Topic: eventbus.TopicSend, Raw: payload}
	if cmd, err := bike.DecodeCommand(payload); err == nil {
		msg.Command = &cmd
	}
	var name string
	if len(payload) > 1 {
		name = bike.CommandName(payload[1])
	}
	c.m.FrameSent(name)
	c.log.Debug("send", zap.String("cmd", name), zap.String("hex", fmt.Sprintf("%x", payload)))
	c.bus.Publish(msg)
}

func (c *Client) onCorrelation(cmd byte, matched bool) {
	c.m.Correlation(matched)
}

// source 发送循环的取数：显式队列优先，其次当前阶段默认轮询；
// 与 teardown 共用 c.mu，断开后不会再取出任何命令
type source struct{ c *Client }

func (s source) Next() ([]byte, *outbound.Pending, bool) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.State() == session.Disconnected {
		return nil, nil, false
	}
	if p, ok := c.queue.Pop(); ok {
		return p.Payload, p, true
	}
	if cmd, ok := c.machine.NextDefault(); ok {
		return cmd, nil, true
	}
	return nil, nil, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if transport.NormalizeUUID(v) == s {
			return true
		}
	}
	return false
}
