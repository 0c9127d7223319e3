package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotScanned 尚未扫描到设备
var ErrNotScanned = errors.New("peripheral not scanned yet")

// Deferred 每次 Connect 时按地址重新扫描并连接，其余调用转发给最近一次扫描到的设备。
// 进程可以先启动，单车上电后再连接。
type Deferred struct {
	scanner Scanner
	address string
	timeout time.Duration

	mu sync.Mutex
	p  Peripheral
}

// NewDeferred 创建延迟扫描的 Peripheral
func NewDeferred(scanner Scanner, address string, timeout time.Duration) *Deferred {
	return &Deferred{scanner: scanner, address: NormalizeAddress(address), timeout: timeout}
}

func (d *Deferred) Address() string { return d.address }

func (d *Deferred) Connect(ctx context.Context) error {
	p, err := d.scanner.Scan(ctx, d.address, d.timeout)
	if err != nil {
		return fmt.Errorf("scan %s: %w", d.address, err)
	}
	d.mu.Lock()
	d.p = p
	d.mu.Unlock()
	return p.Connect(ctx)
}

func (d *Deferred) current() (Peripheral, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.p == nil {
		return nil, ErrNotScanned
	}
	return d.p, nil
}

func (d *Deferred) DiscoverServices(ctx context.Context, uuids ...string) ([]string, error) {
	p, err := d.current()
	if err != nil {
		return nil, err
	}
	return p.DiscoverServices(ctx, uuids...)
}

func (d *Deferred) DiscoverCharacteristics(ctx context.Context, service string, uuids ...string) ([]string, error) {
	p, err := d.current()
	if err != nil {
		return nil, err
	}
	return p.DiscoverCharacteristics(ctx, service, uuids...)
}

func (d *Deferred) Subscribe(ctx context.Context, characteristic string) error {
	p, err := d.current()
	if err != nil {
		return err
	}
	return p.Subscribe(ctx, characteristic)
}

func (d *Deferred) Write(ctx context.Context, characteristic string, data []byte) error {
	p, err := d.current()
	if err != nil {
		return err
	}
	return p.Write(ctx, characteristic, data)
}

func (d *Deferred) Notifications() <-chan Notification {
	p, err := d.current()
	if err != nil {
		ch := make(chan Notification)
		close(ch)
		return ch
	}
	return p.Notifications()
}

func (d *Deferred) Disconnect() error {
	p, err := d.current()
	if err != nil {
		return nil
	}
	return p.Disconnect()
}
