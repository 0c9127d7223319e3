package client

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyConnected 已连接或正在连接
	ErrAlreadyConnected = errors.New("already connected")
	// ErrNotConnected 当前未连接
	ErrNotConnected = errors.New("not connected")
	// ErrInvalidState 当前阶段不允许该操作
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrDestroyed 客户端已销毁
	ErrDestroyed = errors.New("client destroyed")
	// ErrServiceNotFound 未发现必需的服务或特征值
	ErrServiceNotFound = errors.New("required service or characteristic not found")
	// ErrLinkLost 传输层通知流意外关闭
	ErrLinkLost = errors.New("link lost")
)

// TransportError 传输层失败（connect/discover/subscribe/write），会触发断开
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
