package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/iot-bike/internal/client"
	"github.com/taoyao-code/iot-bike/internal/eventbus"
	"github.com/taoyao-code/iot-bike/internal/outbound"
	"github.com/taoyao-code/iot-bike/internal/session"
	redisstorage "github.com/taoyao-code/iot-bike/internal/storage/redis"
	"github.com/taoyao-code/iot-bike/internal/transport"
	"github.com/taoyao-code/iot-bike/internal/workout"
)

// Controller 单车控制面（client.Client 实现）
type Controller interface {
	Address() string
	State() session.State
	QueueLen() int
	Stats() map[string]int64
	Connect(ctx context.Context) error
	Disconnect() error
	Start(ctx context.Context, p workout.Params) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	SetResistance(ctx context.Context, level int) error
	Subscribe(topics ...string) (<-chan eventbus.Message, func())
}

// TelemetryReader 遥测查询
type TelemetryReader interface {
	Latest(ctx context.Context, device string) (*redisstorage.Snapshot, error)
	History(ctx context.Context, device string, n int64) ([]redisstorage.Snapshot, error)
}

// BikeHandler 单车控制API处理器
type BikeHandler struct {
	ctl       Controller
	telemetry TelemetryReader
	profile   *workout.Params
	timeout   time.Duration
	logger    *zap.Logger
}

// NewBikeHandler 创建处理器；telemetry 为 nil 表示未启用遥测存储，
// profile 非空时作为 start 请求未带参数时的默认训练方案
func NewBikeHandler(ctl Controller, telemetry TelemetryReader, profile *workout.Params, logger *zap.Logger) *BikeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BikeHandler{ctl: ctl, telemetry: telemetry, profile: profile, timeout: 15 * time.Second, logger: logger}
}

// SetTimeout 单个控制请求的超时
func (h *BikeHandler) SetTimeout(d time.Duration) { h.timeout = d }

// ResistanceRequest 调阻请求
type ResistanceRequest struct {
	Level *int `json:"level" binding:"required"`
}

// GetState 查询连接阶段与发送统计
func (h *BikeHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"device": h.ctl.Address(),
		"state":  h.ctl.State().String(),
		"queued": h.ctl.QueueLen(),
		"stats":  h.ctl.Stats(),
	})
}

// Connect 连接单车
func (h *BikeHandler) Connect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.ctl.Connect(ctx); err != nil {
		h.fail(c, "connect", err)
		return
	}
	h.ok(c)
}

// Disconnect 断开单车
func (h *BikeHandler) Disconnect(c *gin.Context) {
	if err := h.ctl.Disconnect(); err != nil {
		h.fail(c, "disconnect", err)
		return
	}
	h.ok(c)
}

// Start 启动训练，请求体为训练参数，空请求体使用默认方案
func (h *BikeHandler) Start(c *gin.Context) {
	var p workout.Params
	if err := c.ShouldBindJSON(&p); err != nil {
		if !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if h.profile == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "workout params required"})
			return
		}
		p = *h.profile
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.ctl.Start(ctx, p); err != nil {
		h.fail(c, "start", err)
		return
	}
	h.ok(c)
}

// Pause 暂停训练
func (h *BikeHandler) Pause(c *gin.Context) {
	h.control(c, "pause", h.ctl.Pause)
}

// Resume 恢复训练
func (h *BikeHandler) Resume(c *gin.Context) {
	h.control(c, "resume", h.ctl.Resume)
}

// SetResistance 设置阻力等级
func (h *BikeHandler) SetResistance(c *gin.Context) {
	var req ResistanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.control(c, "resistance", func(ctx context.Context) error {
		return h.ctl.SetResistance(ctx, *req.Level)
	})
}

// GetTelemetry 最新训练状态，?history=N 附带最近 N 条
func (h *BikeHandler) GetTelemetry(c *gin.Context) {
	if h.telemetry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "telemetry store disabled"})
		return
	}
	ctx := c.Request.Context()
	latest, err := h.telemetry.Latest(ctx, h.ctl.Address())
	if errors.Is(err, redisstorage.ErrNoTelemetry) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, "telemetry", err)
		return
	}

	resp := gin.H{"latest": latest}
	if v := c.Query("history"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid history"})
			return
		}
		hist, err := h.telemetry.History(ctx, h.ctl.Address(), n)
		if err != nil {
			h.fail(c, "telemetry", err)
			return
		}
		resp["history"] = hist
	}
	c.JSON(http.StatusOK, resp)
}

// Events 以 SSE 推送总线事件，?topic= 可重复，缺省推送全部
func (h *BikeHandler) Events(c *gin.Context) {
	ch, unsub := h.ctl.Subscribe(c.QueryArray("topic")...)
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(m.Topic, eventPayload(m))
			c.Writer.Flush()
		}
	}
}

func eventPayload(m eventbus.Message) gin.H {
	out := gin.H{"timestamp": m.Timestamp}
	if m.Event != nil {
		out["event"] = m.Event
	}
	if m.Command != nil {
		out["command"] = m.Command
	}
	if len(m.Raw) > 0 {
		out["raw"] = m.Raw
	}
	if m.Characteristic != "" {
		out["characteristic"] = m.Characteristic
	}
	if m.Err != nil {
		out["error"] = m.Err.Error()
	}
	return out
}

func (h *BikeHandler) control(c *gin.Context, op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		h.fail(c, op, err)
		return
	}
	h.ok(c)
}

func (h *BikeHandler) ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": h.ctl.State().String()})
}

func (h *BikeHandler) fail(c *gin.Context, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("bike api failed", zap.String("op", op), zap.Error(err))
	} else {
		h.logger.Warn("bike api rejected", zap.String("op", op), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error(), "state": h.ctl.State().String()})
}

// statusFor 错误到 HTTP 状态码
func statusFor(err error) int {
	var te *client.TransportError
	switch {
	case errors.Is(err, workout.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, client.ErrAlreadyConnected),
		errors.Is(err, client.ErrNotConnected),
		errors.Is(err, client.ErrInvalidState),
		errors.Is(err, outbound.ErrDisconnected):
		return http.StatusConflict
	case errors.Is(err, client.ErrDestroyed):
		return http.StatusGone
	case errors.Is(err, transport.ErrScanTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &te), errors.Is(err, client.ErrServiceNotFound):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
