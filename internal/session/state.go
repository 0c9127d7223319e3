package session

import (
	"errors"
	"fmt"
)

// State 连接生命周期阶段，同一时刻只有一个
type State int

const (
	Disconnected State = iota
	Connected
	Starting
	Started
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Starting:
		return "starting"
	case Started:
		return "started"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition 非法状态迁移
var ErrInvalidTransition = errors.New("invalid state transition")

// allowed 合法迁移；任意状态 → Disconnected 单独处理
var allowed = map[State]State{
	Disconnected: Connected,
	Connected:    Starting,
	Starting:     Started,
}

func canTransition(from, to State) bool {
	if to == Disconnected {
		return true
	}
	next, ok := allowed[from]
	return ok && next == to
}
