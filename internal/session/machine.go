package session

import (
	"fmt"
	"sync"

	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
)

// Cycles 每个阶段的默认轮询命令（显式队列为空时循环发送）
type Cycles map[State][][]byte

// DefaultCycles Connected 轮询 ack+最大等级，Started 轮询训练状态；
// Starting 为空，避免与启动命令序列交错
func DefaultCycles() Cycles {
	return Cycles{
		Connected: {bike.AckCmd(), bike.GetMaxLevelCmd()},
		Started:   {bike.GetWorkoutStateCmd()},
	}
}

// Machine 连接状态机，持有当前阶段与默认轮询游标
type Machine struct {
	mu        sync.Mutex
	state     State
	cycles    Cycles
	cursor    int
	listeners []func(from, to State)
}

// NewMachine 创建状态机，初始为 Disconnected；cycles 为 nil 时使用 DefaultCycles
func NewMachine(cycles Cycles) *Machine {
	if cycles == nil {
		cycles = DefaultCycles()
	}
	return &Machine{state: Disconnected, cycles: cycles}
}

// OnChange 注册状态变化回调（同步调用，不要在回调中再次迁移）
func (m *Machine) OnChange(fn func(from, to State)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// State 当前阶段
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition 迁移到 to；与当前相同则为空操作。发生变化时游标归零。
func (m *Machine) Transition(to State) (bool, error) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return false, nil
	}
	if !canTransition(from, to) {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	m.cursor = 0
	listeners := append([]func(from, to State){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}
	return true, nil
}

// NextDefault 取当前阶段默认轮询的下一条命令（副本）并推进游标（循环）；空轮询返回 false
func (m *Machine) NextDefault() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cycle := m.cycles[m.state]
	if len(cycle) == 0 {
		return nil, false
	}
	if m.cursor >= len(cycle) {
		m.cursor = 0
	}
	cmd := append([]byte(nil), cycle[m.cursor]...)
	m.cursor = (m.cursor + 1) % len(cycle)
	return cmd, true
}
