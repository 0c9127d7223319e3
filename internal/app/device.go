package app

import (
	"go.uber.org/zap"

	"github.com/taoyao-code/iot-bike/internal/client"
	cfgpkg "github.com/taoyao-code/iot-bike/internal/config"
	"github.com/taoyao-code/iot-bike/internal/metrics"
	"github.com/taoyao-code/iot-bike/internal/outbound"
	"github.com/taoyao-code/iot-bike/internal/transport"
	"github.com/taoyao-code/iot-bike/internal/workout"
)

// ClientOptions 配置映射为客户端选项；未配置辅助特征值时沿用设备默认
func ClientOptions(cfg *cfgpkg.Config, logger *zap.Logger, m *metrics.AppMetrics) client.Options {
	opts := client.DefaultOptions()
	if cfg.Device.ServiceUUID != "" {
		opts.Service = cfg.Device.ServiceUUID
	}
	if cfg.Device.CommandCharUUID != "" {
		opts.CommandChar = cfg.Device.CommandCharUUID
	}
	if cfg.Device.DataCharUUID != "" {
		opts.DataChar = cfg.Device.DataCharUUID
	}
	if len(cfg.Device.MysteryChars) > 0 {
		opts.Aux = opts.Aux[:0]
		for _, mc := range cfg.Device.MysteryChars {
			opts.Aux = append(opts.Aux, client.AuxCharacteristic{Service: mc.Service, Characteristic: mc.Characteristic})
		}
	}
	opts.Pacing = outbound.Config{
		ResponseTimeout:  cfg.Pacing.ResponseTimeout,
		SettleDelay:      cfg.Pacing.SettleDelay,
		IdleDelay:        cfg.Pacing.IdleDelay,
		MinWriteInterval: cfg.Pacing.MinWriteInterval,
	}
	opts.EventBuffer = cfg.Events.BufferSize
	opts.Logger = logger
	opts.Metrics = m
	return opts
}

// NewBikeClient 创建单车客户端，连接时才扫描设备
func NewBikeClient(cfg *cfgpkg.Config, scanner transport.Scanner, logger *zap.Logger, m *metrics.AppMetrics) *client.Client {
	p := transport.NewDeferred(scanner, cfg.Device.Address, cfg.Device.ScanTimeout)
	return client.New(p, ClientOptions(cfg, logger, m))
}

// LoadProfile 加载默认训练方案，未配置时返回 nil
func LoadProfile(cfg cfgpkg.WorkoutConfig, logger *zap.Logger) (*workout.Params, error) {
	if cfg.Profile == "" {
		return nil, nil
	}
	p, err := workout.LoadProfile(cfg.Profile)
	if err != nil {
		return nil, err
	}
	logger.Info("workout profile loaded", zap.String("name", p.Name), zap.String("path", cfg.Profile))
	return &p.Params, nil
}
