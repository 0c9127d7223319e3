package health

import (
	"context"

	"github.com/taoyao-code/iot-bike/internal/session"
)

// LinkSource 被检查的单车连接
type LinkSource interface {
	Address() string
	State() session.State
	QueueLen() int
}

// LinkChecker 单车链路检查器
type LinkChecker struct {
	link LinkSource
	// MaxQueue 排队命令超过该值视为降级
	MaxQueue int
}

// NewLinkChecker 创建链路检查器
func NewLinkChecker(link LinkSource) *LinkChecker {
	return &LinkChecker{link: link, MaxQueue: 32}
}

// Name 返回检查器名称
func (c *LinkChecker) Name() string {
	return "link"
}

// Check 未连接为降级；排队积压为降级
func (c *LinkChecker) Check(ctx context.Context) CheckResult {
	state := c.link.State()
	queued := c.link.QueueLen()

	status := StatusHealthy
	message := "ok"
	switch {
	case state == session.Disconnected:
		status = StatusDegraded
		message = "device not connected"
	case c.MaxQueue > 0 && queued > c.MaxQueue:
		status = StatusDegraded
		message = "command queue backlog"
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"device": c.link.Address(),
			"state":  state.String(),
			"queued": queued,
		},
	}
}
