package client

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/iot-bike/internal/metrics"
	"github.com/taoyao-code/iot-bike/internal/outbound"
	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
	"github.com/taoyao-code/iot-bike/internal/session"
)

// AuxCharacteristic 辅助（含义未知）的通知特征值
type AuxCharacteristic struct {
	Service        string
	Characteristic string
}

// Options 客户端配置
type Options struct {
	Service     string
	CommandChar string
	DataChar    string
	// Aux 订阅后其通知以 mysteryData 事件发布；发现失败只告警不中断连接
	Aux []AuxCharacteristic

	Pacing      outbound.Config
	Cycles      session.Cycles
	EventBuffer int

	Logger  *zap.Logger
	Metrics *metrics.AppMetrics
}

// DefaultOptions 设备默认 UUID 与发送节奏
func DefaultOptions() Options {
	return Options{
		Service:     bike.ServiceS1UUID,
		CommandChar: bike.CharCommandInputUUID,
		DataChar:    bike.CharDataOutputUUID,
		Aux: []AuxCharacteristic{
			{Service: bike.ServiceS1UUID, Characteristic: bike.CharS1MysteryUUID},
			{Service: bike.ServiceS2UUID, Characteristic: bike.CharS2MysteryUUID},
		},
		Pacing:      outbound.DefaultConfig(),
		EventBuffer: 64,
	}
}
