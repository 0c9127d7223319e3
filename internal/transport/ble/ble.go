// Package ble 基于 tinygo.org/x/bluetooth 的 transport 实现
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/taoyao-code/iot-bike/internal/transport"
)

var (
	// ErrNotConnected 未连接
	ErrNotConnected = errors.New("ble: not connected")
	// ErrUnknownCharacteristic 特征值未发现
	ErrUnknownCharacteristic = errors.New("ble: characteristic not discovered")
)

// Scanner 调用方持有的扫描上下文，不使用任何进程级全局标志
type Scanner struct {
	adapter *bluetooth.Adapter
	logger  *zap.Logger

	mu      sync.Mutex
	enabled bool
	// peers 按地址记录最近一次扫描得到的外设，用于分发链路断开
	peers map[string]*Peripheral
}

// NewScanner adapter 为 nil 时使用 bluetooth.DefaultAdapter
func NewScanner(adapter *bluetooth.Adapter, logger *zap.Logger) *Scanner {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{adapter: adapter, logger: logger, peers: make(map[string]*Peripheral)}
}

func (s *Scanner) enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("enable ble adapter: %w", err)
	}
	s.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
		s.onConnectChange(d.Address.String(), connected)
	})
	s.enabled = true
	return nil
}

func (s *Scanner) track(p *Peripheral) *Peripheral {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers == nil {
		s.peers = make(map[string]*Peripheral)
	}
	s.peers[p.Address()] = p
	return p
}

// onConnectChange 适配器的连接状态回调；远端断开时关闭对应外设的通知流
func (s *Scanner) onConnectChange(address string, connected bool) {
	if connected {
		return
	}
	s.mu.Lock()
	p := s.peers[transport.NormalizeAddress(address)]
	s.mu.Unlock()
	if p != nil {
		p.linkLost()
	}
}

// Scan 扫描直到发现 address 或超时；发现后立即停止扫描
func (s *Scanner) Scan(ctx context.Context, address string, timeout time.Duration) (transport.Peripheral, error) {
	if err := s.enable(); err != nil {
		return nil, err
	}
	want := transport.NormalizeAddress(address)

	found := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- s.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			addr := transport.NormalizeAddress(r.Address.String())
			s.logger.Debug("ble device found", zap.String("address", addr), zap.Int16("rssi", r.RSSI))
			if addr != want {
				return
			}
			select {
			case found <- r:
				_ = a.StopScan()
			default:
			}
		})
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case r := <-found:
		return s.track(newPeripheral(s.adapter, r.Address, s.logger)), nil
	case err := <-scanErr:
		if err != nil {
			return nil, fmt.Errorf("ble scan: %w", err)
		}
		return nil, transport.ErrScanTimeout
	case <-timer:
		_ = s.adapter.StopScan()
		return nil, fmt.Errorf("%w (%.2fs)", transport.ErrScanTimeout, timeout.Seconds())
	case <-ctx.Done():
		_ = s.adapter.StopScan()
		return nil, ctx.Err()
	}
}

// Peripheral tinygo bluetooth 设备封装
type Peripheral struct {
	adapter *bluetooth.Adapter
	address bluetooth.Address
	logger  *zap.Logger

	mu        sync.Mutex
	device    *bluetooth.Device
	services  map[string]bluetooth.DeviceService
	chars     map[string]bluetooth.DeviceCharacteristic
	notifyC   chan transport.Notification
	connected bool
}

func newPeripheral(adapter *bluetooth.Adapter, addr bluetooth.Address, logger *zap.Logger) *Peripheral {
	return &Peripheral{adapter: adapter, address: addr, logger: logger}
}

func (p *Peripheral) Address() string { return transport.NormalizeAddress(p.address.String()) }

func (p *Peripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}
	dev, err := p.adapter.Connect(p.address, bluetooth.ConnectionParams{})
	if err != nil {
		return err
	}
	p.device = &dev
	p.services = make(map[string]bluetooth.DeviceService)
	p.chars = make(map[string]bluetooth.DeviceCharacteristic)
	p.notifyC = make(chan transport.Notification, 128)
	p.connected = true
	return nil
}

func (p *Peripheral) DiscoverServices(ctx context.Context, uuids ...string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, ErrNotConnected
	}
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}
	svcs, err := p.device.DiscoverServices(filter)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(svcs))
	for _, s := range svcs {
		id := transport.NormalizeUUID(s.UUID().String())
		p.services[id] = s
		out = append(out, id)
	}
	return out, nil
}

func (p *Peripheral) DiscoverCharacteristics(ctx context.Context, service string, uuids ...string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, ErrNotConnected
	}
	svc, ok := p.services[transport.NormalizeUUID(service)]
	if !ok {
		return nil, fmt.Errorf("ble: service %s not discovered", service)
	}
	filter, err := parseUUIDs(uuids)
	if err != nil {
		return nil, err
	}
	chars, err := svc.DiscoverCharacteristics(filter)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(chars))
	for _, c := range chars {
		id := transport.NormalizeUUID(c.UUID().String())
		p.chars[id] = c
		out = append(out, id)
	}
	return out, nil
}

func (p *Peripheral) Subscribe(ctx context.Context, characteristic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return ErrNotConnected
	}
	id := transport.NormalizeUUID(characteristic)
	c, ok := p.chars[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, characteristic)
	}
	notifyC := p.notifyC
	return c.EnableNotifications(func(buf []byte) {
		data := append([]byte(nil), buf...)
		p.deliver(notifyC, transport.Notification{Characteristic: id, Data: data, Timestamp: time.Now()})
	})
}

// deliver 通知回调运行在蓝牙栈的线程上，不能阻塞
func (p *Peripheral) deliver(c chan transport.Notification, n transport.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected || c != p.notifyC {
		return
	}
	select {
	case c <- n:
	default:
		p.logger.Warn("ble notification dropped", zap.String("characteristic", n.Characteristic))
	}
}

func (p *Peripheral) Write(ctx context.Context, characteristic string, data []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return ErrNotConnected
	}
	c, ok := p.chars[transport.NormalizeUUID(characteristic)]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, characteristic)
	}
	// 设备只接受无响应写入
	_, err := c.WriteWithoutResponse(data)
	return err
}

func (p *Peripheral) Notifications() <-chan transport.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifyC
}

// linkLost 链路已由远端断开：标记未连接并关闭通知流，不再调用设备断开
func (p *Peripheral) linkLost() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return
	}
	p.connected = false
	close(p.notifyC)
	p.logger.Warn("ble link lost", zap.String("address", p.Address()))
}

func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	p.connected = false
	close(p.notifyC)
	return p.device.Disconnect()
}

func parseUUIDs(ids []string) ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(ids))
	for _, s := range ids {
		u, err := bluetooth.ParseUUID(dashed(transport.NormalizeUUID(s)))
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", s, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// dashed 32位十六进制 → 8-4-4-4-12
func dashed(s string) string {
	if len(s) != 32 {
		return s
	}
	return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
}
