// Package fake 内存实现的 transport.Peripheral，用于测试。
// 可配置各步骤失败，并可挂接一个模拟设备自动应答写入。
package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taoyao-code/iot-bike/internal/transport"
)

// Responder 模拟设备：收到写入后返回要通知的数据（nil 表示不应答）
type Responder func(characteristic string, data []byte) []byte

// Peripheral 测试用外设
type Peripheral struct {
	mu sync.Mutex

	addr     string
	services map[string][]string // service -> characteristics

	ConnectErr   error
	DiscoverErr  error
	SubscribeErr error
	WriteErr     error

	// DataChar 应答通知所在的特征值
	DataChar  string
	responder Responder

	connected  bool
	subscribed map[string]bool
	writes     [][]byte
	notifyC    chan transport.Notification
	closed     bool
}

// New 创建外设，services 为 service -> characteristics
func New(addr string, services map[string][]string) *Peripheral {
	return &Peripheral{
		addr:       addr,
		services:   services,
		subscribed: make(map[string]bool),
		notifyC:    make(chan transport.Notification, 256),
	}
}

// SetResponder 安装模拟设备
func (p *Peripheral) SetResponder(r Responder) {
	p.mu.Lock()
	p.responder = r
	p.mu.Unlock()
}

func (p *Peripheral) Address() string { return p.addr }

func (p *Peripheral) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return p.ConnectErr
	}
	p.connected = true
	if p.closed {
		p.notifyC = make(chan transport.Notification, 256)
		p.closed = false
	}
	return nil
}

func (p *Peripheral) DiscoverServices(ctx context.Context, uuids ...string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DiscoverErr != nil {
		return nil, p.DiscoverErr
	}
	var out []string
	for s := range p.services {
		if contains(uuids, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *Peripheral) DiscoverCharacteristics(ctx context.Context, service string, uuids ...string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DiscoverErr != nil {
		return nil, p.DiscoverErr
	}
	var out []string
	for _, c := range p.services[service] {
		if contains(uuids, c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *Peripheral) Subscribe(ctx context.Context, characteristic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SubscribeErr != nil {
		return p.SubscribeErr
	}
	p.subscribed[characteristic] = true
	return nil
}

func (p *Peripheral) Write(ctx context.Context, characteristic string, data []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return errors.New("not connected")
	}
	if p.WriteErr != nil {
		err := p.WriteErr
		p.mu.Unlock()
		return err
	}
	dup := append([]byte(nil), data...)
	p.writes = append(p.writes, dup)
	r := p.responder
	dataChar := p.DataChar
	p.mu.Unlock()

	if r != nil {
		if resp := r(characteristic, dup); resp != nil {
			go p.Notify(dataChar, resp)
		}
	}
	return nil
}

func (p *Peripheral) Notifications() <-chan transport.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notifyC
}

func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	if !p.closed {
		p.closed = true
		close(p.notifyC)
	}
	return nil
}

// Notify 注入一条通知（仅已订阅的特征值会送出）
func (p *Peripheral) Notify(characteristic string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.subscribed[characteristic] {
		return
	}
	p.notifyC <- transport.Notification{Characteristic: characteristic, Data: data, Timestamp: time.Now()}
}

// Drop 模拟链路意外断开
func (p *Peripheral) Drop() { _ = p.Disconnect() }

// Writes 已写入的帧
func (p *Peripheral) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

// SetWriteErr 运行中切换写入错误
func (p *Peripheral) SetWriteErr(err error) {
	p.mu.Lock()
	p.WriteErr = err
	p.mu.Unlock()
}

// Subscribed 是否已订阅
func (p *Peripheral) Subscribed(characteristic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribed[characteristic]
}

// Scanner 测试用扫描器
type Scanner struct {
	Devices map[string]*Peripheral
}

func (s *Scanner) Scan(ctx context.Context, address string, timeout time.Duration) (transport.Peripheral, error) {
	if p, ok := s.Devices[transport.NormalizeAddress(address)]; ok {
		return p, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, transport.ErrScanTimeout
	}
}

func contains(list []string, s string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
