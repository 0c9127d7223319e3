package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
	"go.uber.org/zap"
)

// 传输层相关的 topic；解码事件直接使用 bike.Kind*（如 "workoutState"、"unknown:c3"）
const (
	TopicSend        = "send"
	TopicData        = "data"
	TopicError       = "error"
	TopicDisconnect  = "disconnect"
	TopicMysteryData = "mysteryData"
	// TopicUnknown 订阅所有 "unknown:<id>" 事件
	TopicUnknown = "unknown"
)

// Message 总线上传递的事件信封
type Message struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	// Event 解码后的上行事件（data 与各类型 topic）
	Event bike.Event `json:"event,omitempty"`
	// Command send 事件中下行帧还原出的逻辑命令
	Command *bike.Command `json:"command,omitempty"`
	// Raw 原始字节：send 为即将写入的帧，data/mysteryData 为收到的通知
	Raw []byte `json:"raw,omitempty"`
	// Characteristic mysteryData 来源特征值
	Characteristic string `json:"characteristic,omitempty"`
	Err            error  `json:"-"`
}

type subscriber struct {
	ch     chan Message
	topics map[string]struct{} // 为空表示订阅全部
	once   sync.Once
}

func (s *subscriber) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	if _, ok := s.topics[topic]; ok {
		return true
	}
	if strings.HasPrefix(topic, bike.KindUnknownPrefix) {
		_, ok := s.topics[TopicUnknown]
		return ok
	}
	return false
}

// Bus 进程内事件总线，多订阅者各自独立的缓冲通道
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	bufSize int
	closed  bool
	logger  *zap.Logger

	dropped atomic.Int64
	onDrop  func(topic string)
}

// New 创建事件总线，bufSize<=0 时使用 64
func New(bufSize int, logger *zap.Logger) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{subs: make(map[*subscriber]struct{}), bufSize: bufSize, logger: logger}
}

// SetDropCallback 慢消费者丢弃事件时回调（用于指标）
func (b *Bus) SetDropCallback(fn func(topic string)) { b.onDrop = fn }

// Subscribe 订阅指定 topic（不传则订阅全部），返回接收通道与取消函数。
// 取消函数幂等，调用后通道关闭。
func (b *Bus) Subscribe(topics ...string) (<-chan Message, func()) {
	s := &subscriber{ch: make(chan Message, b.bufSize), topics: make(map[string]struct{}, len(topics))}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		_, ok := b.subs[s]
		delete(b.subs, s)
		b.mu.Unlock()
		if ok {
			s.once.Do(func() { close(s.ch) })
		}
	}
	return s.ch, unsub
}

// Publish 非阻塞投递给所有匹配的订阅者，缓冲满的订阅者丢弃该事件
func (b *Bus) Publish(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if !s.wants(m.Topic) {
			continue
		}
		select {
		case s.ch <- m:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(m.Topic)
			}
			b.logger.Warn("event dropped for slow subscriber", zap.String("topic", m.Topic))
		}
	}
}

// PublishEvent 发布解码事件：按类型 topic 发一次，再以 data 重复发一次
func (b *Bus) PublishEvent(ev bike.Event, raw []byte) {
	b.Publish(Message{Topic: ev.Kind(), Event: ev, Raw: raw})
	b.Publish(Message{Topic: TopicData, Event: ev, Raw: raw})
}

// PublishError 发布错误事件
func (b *Bus) PublishError(err error) {
	b.Publish(Message{Topic: TopicError, Err: err})
}

// Close 关闭总线并释放所有订阅
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.once.Do(func() { close(s.ch) })
	}
}

// Len 当前订阅者数量
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped 累计丢弃的事件数
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
