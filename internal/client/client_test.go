package client

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/iot-bike/internal/eventbus"
	"github.com/taoyao-code/iot-bike/internal/metrics"
	"github.com/taoyao-code/iot-bike/internal/outbound"
	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
	"github.com/taoyao-code/iot-bike/internal/session"
	"github.com/taoyao-code/iot-bike/internal/transport"
	"github.com/taoyao-code/iot-bike/internal/transport/fake"
	"github.com/taoyao-code/iot-bike/internal/workout"
)

const testAddr = "aa:bb:cc:dd:ee:ff"

func newDevice() *fake.Peripheral {
	p := fake.New(testAddr, map[string][]string{
		bike.ServiceS1UUID: {bike.CharCommandInputUUID, bike.CharDataOutputUUID, bike.CharS1MysteryUUID},
		bike.ServiceS2UUID: {bike.CharS2MysteryUUID},
	})
	p.DataChar = bike.CharDataOutputUUID
	return p
}

// echoResponder 模拟设备：对每个下行命令回一个 cmd+0x10 的响应
func echoResponder(char string, data []byte) []byte {
	if len(data) < 2 {
		return nil
	}
	kind, ok := bike.ResponseKind(data[1])
	if !ok {
		return nil
	}
	return bike.Build(kind, bike.Encode8(1))
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.Pacing = outbound.Config{
		ResponseTimeout: 30 * time.Millisecond,
		SettleDelay:     time.Millisecond,
		IdleDelay:       2 * time.Millisecond,
	}
	return opts
}

func connected(t *testing.T, p *fake.Peripheral, opts Options) *Client {
	t.Helper()
	c := New(p, opts)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Destroy() })
	return c
}

func waitMessage(t *testing.T, ch <-chan eventbus.Message, topic string) eventbus.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-ch:
			require.True(t, ok, "subscription closed before %s", topic)
			if m.Topic == topic {
				return m
			}
		case <-deadline:
			t.Fatalf("no %s event", topic)
		}
	}
}

func indexOf(writes [][]byte, frame []byte) int {
	for i, w := range writes {
		if bytes.Equal(w, frame) {
			return i
		}
	}
	return -1
}

func TestConnectSubscribesAndPolls(t *testing.T) {
	p := newDevice()
	p.SetResponder(echoResponder)
	c := connected(t, p, fastOptions())

	assert.Equal(t, session.Connected, c.State())
	assert.True(t, p.Subscribed(bike.CharDataOutputUUID))
	assert.True(t, p.Subscribed(bike.CharS1MysteryUUID))
	assert.True(t, p.Subscribed(bike.CharS2MysteryUUID))

	// Connected 阶段轮询 ack 与 getMaxLevel
	require.Eventually(t, func() bool { return len(p.Writes()) >= 4 }, 2*time.Second, 5*time.Millisecond)
	w := p.Writes()
	assert.Equal(t, bike.AckCmd(), w[0])
	assert.Equal(t, bike.GetMaxLevelCmd(), w[1])
	assert.Equal(t, bike.AckCmd(), w[2])

	assert.Equal(t, ErrAlreadyConnected, c.Connect(context.Background()))
}

func TestConnectFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(p *fake.Peripheral)
		op    string
	}{
		{"连接失败", func(p *fake.Peripheral) { p.ConnectErr = boom }, "connect"},
		{"发现失败", func(p *fake.Peripheral) { p.DiscoverErr = boom }, "discover"},
		{"订阅失败", func(p *fake.Peripheral) { p.SubscribeErr = boom }, "subscribe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newDevice()
			tt.setup(p)
			c := New(p, fastOptions())
			defer c.Destroy()

			err := c.Connect(context.Background())
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.op, te.Op)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, session.Disconnected, c.State())
		})
	}
}

func TestConnectScanTimeoutIsNotTransportError(t *testing.T) {
	opts := fastOptions()
	opts.Metrics = metrics.NewAppMetrics(metrics.NewRegistry())
	p := transport.NewDeferred(&fake.Scanner{}, testAddr, 10*time.Millisecond)
	c := New(p, opts)
	defer c.Destroy()
	errs, cancel := c.Subscribe(eventbus.TopicError)
	defer cancel()

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, transport.ErrScanTimeout)
	var te *TransportError
	assert.False(t, errors.As(err, &te))
	assert.Equal(t, session.Disconnected, c.State())

	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.ScanTimeouts))
	assert.Equal(t, 0, testutil.CollectAndCount(opts.Metrics.TransportErrors))
	m := waitMessage(t, errs, eventbus.TopicError)
	assert.ErrorIs(t, m.Err, transport.ErrScanTimeout)
}

func TestSendSubscriberCannotAlterWire(t *testing.T) {
	p := newDevice()
	p.SetResponder(echoResponder)
	c := New(p, fastOptions())
	defer c.Destroy()
	sends, cancel := c.Subscribe(eventbus.TopicSend)
	defer cancel()
	require.NoError(t, c.Connect(context.Background()))

	m := waitMessage(t, sends, eventbus.TopicSend)
	m.Raw[1] = 0xEE

	require.Eventually(t, func() bool { return len(p.Writes()) >= 5 }, 2*time.Second, 5*time.Millisecond)
	for _, w := range p.Writes() {
		require.NoError(t, bike.VerifyChecksum(w))
		assert.NotEqual(t, byte(0xEE), w[1])
	}
}

func TestConnectMissingService(t *testing.T) {
	p := fake.New(testAddr, map[string][]string{bike.ServiceS2UUID: {bike.CharS2MysteryUUID}})
	c := New(p, fastOptions())
	defer c.Destroy()

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.Equal(t, session.Disconnected, c.State())
}

func TestConnectWithoutAuxServiceStillSucceeds(t *testing.T) {
	p := fake.New(testAddr, map[string][]string{
		bike.ServiceS1UUID: {bike.CharCommandInputUUID, bike.CharDataOutputUUID},
	})
	p.DataChar = bike.CharDataOutputUUID
	c := connected(t, p, fastOptions())
	assert.Equal(t, session.Connected, c.State())
}

func TestStartDispatchesSequenceInOrder(t *testing.T) {
	p := newDevice()
	p.SetResponder(echoResponder)
	c := connected(t, p, fastOptions())

	params := workout.Params{TimeInMinute: 30, DistanceInKM: 5.5, Calories: 200, Pulse: 120, Watt: 100, WorkoutMode: 1, Level: 8}
	require.NoError(t, c.Start(context.Background(), params))
	assert.Equal(t, session.Started, c.State())

	want := [][]byte{
		bike.AckCmd(),
		bike.SetWorkoutModeCmd(params.WorkoutMode),
		bike.SetWorkoutParamsCmd(params.TimeInMinute, params.DistanceInKM, params.Calories, params.Pulse, params.Watt, params.Unit),
		bike.SetWorkoutControlStateCmd(bike.ControlResume),
		bike.SetResistanceLevelCmd(params.Level),
	}
	w := p.Writes()
	i := indexOf(w, want[1])
	require.Greater(t, i, 0)
	require.GreaterOrEqual(t, len(w), i+4)
	assert.Equal(t, want, w[i-1:i+4])

	// Started 阶段只轮询训练状态
	n := len(p.Writes())
	require.Eventually(t, func() bool { return len(p.Writes()) >= n+2 }, 2*time.Second, 5*time.Millisecond)
	for _, f := range p.Writes()[n:] {
		assert.Equal(t, bike.GetWorkoutStateCmd(), f)
	}
}

func TestStartRequiresConnected(t *testing.T) {
	c := New(newDevice(), fastOptions())
	defer c.Destroy()
	assert.ErrorIs(t, c.Start(context.Background(), workout.Params{}), ErrNotConnected)

	p := newDevice()
	p.SetResponder(echoResponder)
	c2 := connected(t, p, fastOptions())
	require.NoError(t, c2.Start(context.Background(), workout.Params{}))
	assert.ErrorIs(t, c2.Start(context.Background(), workout.Params{}), ErrInvalidState)
}

func TestStartRejectsOutOfRange(t *testing.T) {
	p := newDevice()
	c := connected(t, p, fastOptions())
	err := c.Start(context.Background(), workout.Params{Calories: 10000})
	assert.ErrorIs(t, err, workout.ErrOutOfRange)
	assert.Equal(t, session.Connected, c.State())
}

func TestSetResistanceDuringStartingIsQueued(t *testing.T) {
	p := newDevice()
	// 不应答：每条命令都等满超时，Starting 阶段足够长
	opts := fastOptions()
	opts.Pacing.ResponseTimeout = 20 * time.Millisecond
	c := connected(t, p, opts)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.Start(context.Background(), workout.Params{Level: 3}))
	}()
	require.Eventually(t, func() bool { return c.State() == session.Starting }, time.Second, time.Millisecond)
	require.NoError(t, c.SetResistance(context.Background(), 12))
	wg.Wait()

	w := p.Writes()
	first := indexOf(w, bike.SetResistanceLevelCmd(3))
	second := indexOf(w, bike.SetResistanceLevelCmd(12))
	require.GreaterOrEqual(t, first, 0)
	assert.Greater(t, second, first)
}

func TestExplicitCommandsFIFO(t *testing.T) {
	p := newDevice()
	p.SetResponder(echoResponder)
	c := connected(t, p, fastOptions())

	var wg sync.WaitGroup
	for _, lvl := range []int{1, 2, 3} {
		require.NoError(t, c.SetResistance(context.Background(), lvl))
	}
	wg.Add(2)
	go func() { defer wg.Done(); assert.NoError(t, c.Pause(context.Background())) }()
	go func() { defer wg.Done(); assert.NoError(t, c.Resume(context.Background())) }()
	wg.Wait()

	w := p.Writes()
	i1 := indexOf(w, bike.SetResistanceLevelCmd(1))
	i2 := indexOf(w, bike.SetResistanceLevelCmd(2))
	i3 := indexOf(w, bike.SetResistanceLevelCmd(3))
	assert.True(t, i1 < i2 && i2 < i3, "order %d %d %d", i1, i2, i3)
	assert.GreaterOrEqual(t, indexOf(w, bike.SetWorkoutControlStateCmd(bike.ControlPause)), 0)
}

func TestSetResistanceWhenDisconnectedFailsImmediately(t *testing.T) {
	c := New(newDevice(), fastOptions())
	defer c.Destroy()
	assert.ErrorIs(t, c.SetResistance(context.Background(), 5), outbound.ErrDisconnected)
	assert.ErrorIs(t, c.SetResistance(context.Background(), 300), workout.ErrOutOfRange)
}

func TestDisconnectFailsQueuedCommands(t *testing.T) {
	p := newDevice()
	opts := fastOptions()
	// 无应答 + 长超时：发送循环卡在第一条轮询的等待中
	opts.Pacing.ResponseTimeout = 5 * time.Second
	c := connected(t, p, opts)
	require.Eventually(t, func() bool { return len(p.Writes()) == 1 }, time.Second, time.Millisecond)

	const k = 3
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		go func(lvl int) { errs <- c.SetResistance(context.Background(), lvl) }(i + 1)
	}
	require.Eventually(t, func() bool { return c.QueueLen() == k }, time.Second, time.Millisecond)

	ch, unsub := c.Subscribe(eventbus.TopicDisconnect)
	defer unsub()
	start := time.Now()
	require.NoError(t, c.Disconnect())
	assert.Less(t, time.Since(start), time.Second)

	for i := 0; i < k; i++ {
		assert.ErrorIs(t, <-errs, outbound.ErrDisconnected)
	}
	m := waitMessage(t, ch, eventbus.TopicDisconnect)
	assert.NoError(t, m.Err)
	assert.Equal(t, session.Disconnected, c.State())
	assert.Len(t, p.Writes(), 1)

	// 幂等
	require.NoError(t, c.Disconnect())
}

func TestLinkLossDisconnects(t *testing.T) {
	p := newDevice()
	p.SetResponder(echoResponder)
	c := connected(t, p, fastOptions())
	ch, unsub := c.Subscribe(eventbus.TopicDisconnect)
	defer unsub()

	p.Drop()
	m := waitMessage(t, ch, eventbus.TopicDisconnect)
	assert.ErrorIs(t, m.Err, ErrLinkLost)
	assert.Equal(t, session.Disconnected, c.State())

	// 断开后可重连
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, session.Connected, c.State())
}

func TestWriteErrorForcesDisconnect(t *testing.T) {
	p := newDevice()
	p.SetResponder(echoResponder)
	c := connected(t, p, fastOptions())
	ch, unsub := c.Subscribe(eventbus.TopicError, eventbus.TopicDisconnect)
	defer unsub()

	boom := errors.New("gatt write failed")
	p.SetWriteErr(boom)

	e := waitMessage(t, ch, eventbus.TopicError)
	var te *TransportError
	require.ErrorAs(t, e.Err, &te)
	assert.Equal(t, "write", te.Op)
	assert.ErrorIs(t, e.Err, boom)
	waitMessage(t, ch, eventbus.TopicDisconnect)
	assert.Equal(t, session.Disconnected, c.State())
}

func TestChecksumMismatchIsReportedAndAccepted(t *testing.T) {
	p := newDevice()
	opts := fastOptions()
	opts.Pacing.ResponseTimeout = time.Second
	c := connected(t, p, opts)
	ch, unsub := c.Subscribe(eventbus.TopicError, bike.KindResistanceLevel)
	defer unsub()

	frame := bike.Build(bike.RespResistanceLevel, bike.Encode8(7))
	frame[len(frame)-1]++
	p.Notify(bike.CharDataOutputUUID, frame)

	e := waitMessage(t, ch, eventbus.TopicError)
	assert.ErrorIs(t, e.Err, bike.ErrChecksumMismatch)
	ev := waitMessage(t, ch, bike.KindResistanceLevel)
	lvl := ev.Event.(bike.ResistanceLevelEvent)
	require.NotNil(t, lvl.Level)
	assert.Equal(t, 7, *lvl.Level)
	assert.Equal(t, frame, ev.Raw)
}

func TestEventsAndSendPublished(t *testing.T) {
	p := newDevice()
	p.SetResponder(echoResponder)
	c := New(p, fastOptions())
	defer c.Destroy()
	ch, unsub := c.Subscribe(eventbus.TopicSend, eventbus.TopicData, eventbus.TopicMysteryData, eventbus.TopicUnknown)
	defer unsub()
	require.NoError(t, c.Connect(context.Background()))

	s := waitMessage(t, ch, eventbus.TopicSend)
	require.NotNil(t, s.Command)
	assert.Equal(t, bike.CmdAck, s.Command.Cmd)

	d := waitMessage(t, ch, eventbus.TopicData)
	assert.Equal(t, bike.KindAck, d.Event.Kind())

	p.Notify(bike.CharS2MysteryUUID, []byte{0x01, 0x02})
	m := waitMessage(t, ch, eventbus.TopicMysteryData)
	assert.Equal(t, []byte{0x01, 0x02}, m.Raw)
	assert.Equal(t, bike.CharS2MysteryUUID, m.Characteristic)

	p.Notify(bike.CharDataOutputUUID, bike.Build(0xC3, 0x09))
	u := waitMessage(t, ch, "unknown:c3")
	assert.Equal(t, "unknown:c3", u.Event.Kind())
}

func TestDestroyClosesSubscriptions(t *testing.T) {
	p := newDevice()
	c := New(p, fastOptions())
	ch, _ := c.Subscribe()
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Destroy())

	closed := false
	deadline := time.After(2 * time.Second)
	for !closed {
		select {
		case _, ok := <-ch:
			closed = !ok
		case <-deadline:
			t.Fatal("subscription not closed")
		}
	}
	assert.Equal(t, ErrDestroyed, c.Connect(context.Background()))
}
