// Package transport 定义协议引擎所需的 BLE 传输能力。
// 具体实现见 ble（tinygo bluetooth），测试使用 fake。
package transport

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrScanTimeout 扫描超时仍未发现目标设备
var ErrScanTimeout = errors.New("scan timeout")

// Notification 特征值通知
type Notification struct {
	Characteristic string
	Data           []byte
	Timestamp      time.Time
}

// Peripheral 已选中的可连接设备。
// UUID 统一为无连字符小写十六进制（见 NormalizeUUID）。
type Peripheral interface {
	// Address 设备地址
	Address() string
	// Connect 建立链路
	Connect(ctx context.Context) error
	// DiscoverServices 发现服务，返回实际找到的服务 UUID
	DiscoverServices(ctx context.Context, uuids ...string) ([]string, error)
	// DiscoverCharacteristics 发现指定服务下的特征值
	DiscoverCharacteristics(ctx context.Context, service string, uuids ...string) ([]string, error)
	// Subscribe 订阅特征值通知，通知从 Notifications 通道送出
	Subscribe(ctx context.Context, characteristic string) error
	// Write 向特征值写入原始字节
	Write(ctx context.Context, characteristic string, data []byte) error
	// Notifications 通知流；链路断开时关闭
	Notifications() <-chan Notification
	// Disconnect 断开链路，幂等
	Disconnect() error
}

// Scanner 设备选择：在 ctx 期限或 timeout 内按地址扫描，超时返回 ErrScanTimeout
type Scanner interface {
	Scan(ctx context.Context, address string, timeout time.Duration) (Peripheral, error)
}

// NormalizeUUID 去掉连字符并转小写
func NormalizeUUID(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "-", ""))
}

// NormalizeAddress 地址比较统一为大写
func NormalizeAddress(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
