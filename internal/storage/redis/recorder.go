package redis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/iot-bike/internal/eventbus"
	"github.com/taoyao-code/iot-bike/internal/metrics"
	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
)

// Recorder 把 workoutState 事件写入 TelemetryStore
type Recorder struct {
	store   *TelemetryStore
	device  string
	logger  *zap.Logger
	metrics *metrics.AppMetrics
	timeout time.Duration
}

// NewRecorder 创建记录器
func NewRecorder(store *TelemetryStore, device string, logger *zap.Logger, m *metrics.AppMetrics) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, device: device, logger: logger, metrics: m, timeout: 2 * time.Second}
}

// Run 消费事件直到 ctx 取消或通道关闭；写入失败只记录不退出
func (r *Recorder) Run(ctx context.Context, events <-chan eventbus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-events:
			if !ok {
				return
			}
			ev, ok := m.Event.(bike.WorkoutStateEvent)
			if !ok {
				continue
			}
			r.record(ctx, m.Timestamp, ev.WorkoutState)
		}
	}
}

func (r *Recorder) record(ctx context.Context, at time.Time, st bike.WorkoutState) {
	if at.IsZero() {
		at = time.Now()
	}
	wctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.store.Save(wctx, Snapshot{Device: r.device, At: at, State: st})
	r.metrics.TelemetryWrite(err)
	if err != nil {
		r.logger.Warn("record telemetry failed", zap.String("device", r.device), zap.Error(err))
	}
}
