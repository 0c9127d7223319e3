package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 业务指标。所有方法允许 nil 接收者（未启用指标时直接忽略）
type AppMetrics struct {
	FramesSent       *prometheus.CounterVec // labels: cmd
	FramesReceived   *prometheus.CounterVec // labels: kind
	DecodeAnomalies  *prometheus.CounterVec // labels: reason=checksum|short
	Correlations     *prometheus.CounterVec // labels: result=matched|timeout
	MysteryFrames    prometheus.Counter
	QueueDepth       prometheus.Gauge
	LinkState        prometheus.Gauge       // 0=disconnected 1=connected 2=starting 3=started
	TransportErrors  *prometheus.CounterVec // labels: op
	ScanTimeouts     prometheus.Counter
	EventsDropped    *prometheus.CounterVec // labels: topic
	TelemetryWritten *prometheus.CounterVec // labels: result=ok|error
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bike_frames_sent_total",
			Help: "Frames written to the command characteristic.",
		}, []string{"cmd"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bike_frames_received_total",
			Help: "Decoded notification frames by kind.",
		}, []string{"kind"}),
		DecodeAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bike_decode_anomalies_total",
			Help: "Inbound frames with checksum mismatch or short length.",
		}, []string{"reason"}),
		Correlations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bike_correlation_total",
			Help: "Send-loop waits ended by a matched response or the ceiling delay.",
		}, []string{"result"}),
		MysteryFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bike_mystery_frames_total",
			Help: "Notifications received on auxiliary characteristics.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bike_queue_depth",
			Help: "Commands waiting in the outbound queue.",
		}),
		LinkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bike_link_state",
			Help: "Connection phase (0=disconnected 1=connected 2=starting 3=started).",
		}),
		TransportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bike_transport_errors_total",
			Help: "Transport failures by operation.",
		}, []string{"op"}),
		ScanTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bike_scan_timeouts_total",
			Help: "Connect attempts where the device was not found before the scan timeout.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bike_events_dropped_total",
			Help: "Bus events dropped for slow subscribers.",
		}, []string{"topic"}),
		TelemetryWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bike_telemetry_writes_total",
			Help: "Workout state snapshots written to the telemetry store.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.FramesSent, m.FramesReceived, m.DecodeAnomalies, m.Correlations, m.MysteryFrames,
		m.QueueDepth, m.LinkState, m.TransportErrors, m.ScanTimeouts, m.EventsDropped, m.TelemetryWritten)
	return m
}

func (m *AppMetrics) FrameSent(cmd string) {
	if m != nil {
		m.FramesSent.WithLabelValues(cmd).Inc()
	}
}

func (m *AppMetrics) FrameReceived(kind string) {
	if m != nil {
		m.FramesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *AppMetrics) DecodeAnomaly(reason string) {
	if m != nil {
		m.DecodeAnomalies.WithLabelValues(reason).Inc()
	}
}

func (m *AppMetrics) Correlation(matched bool) {
	if m == nil {
		return
	}
	if matched {
		m.Correlations.WithLabelValues("matched").Inc()
		return
	}
	m.Correlations.WithLabelValues("timeout").Inc()
}

func (m *AppMetrics) MysteryFrame() {
	if m != nil {
		m.MysteryFrames.Inc()
	}
}

func (m *AppMetrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *AppMetrics) SetLinkState(state int) {
	if m != nil {
		m.LinkState.Set(float64(state))
	}
}

func (m *AppMetrics) TransportError(op string) {
	if m != nil {
		m.TransportErrors.WithLabelValues(op).Inc()
	}
}

func (m *AppMetrics) ScanTimeout() {
	if m != nil {
		m.ScanTimeouts.Inc()
	}
}

func (m *AppMetrics) EventDropped(topic string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(topic).Inc()
	}
}

func (m *AppMetrics) TelemetryWrite(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.TelemetryWritten.WithLabelValues("error").Inc()
		return
	}
	m.TelemetryWritten.WithLabelValues("ok").Inc()
}
