package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
	"github.com/taoyao-code/iot-bike/internal/transport"
)

const (
	latestKeyFmt  = "%s:telemetry:%s:latest"  // 最新一条（String）
	historyKeyFmt = "%s:telemetry:%s:history" // 最近 N 条（List，新的在前）
)

// ErrNoTelemetry 设备尚无遥测
var ErrNoTelemetry = errors.New("no telemetry recorded")

// Snapshot 一次训练状态采样
type Snapshot struct {
	Device string            `json:"device"`
	At     time.Time         `json:"at"`
	State  bike.WorkoutState `json:"state"`
}

// TelemetryStore 训练状态存储
type TelemetryStore struct {
	client      *Client
	prefix      string
	historySize int64
}

// NewTelemetryStore 创建存储，historySize<=0 时只保留最新一条
func NewTelemetryStore(client *Client, prefix string, historySize int64) *TelemetryStore {
	if prefix == "" {
		prefix = "bike"
	}
	return &TelemetryStore{client: client, prefix: prefix, historySize: historySize}
}

func (s *TelemetryStore) latestKey(device string) string {
	return fmt.Sprintf(latestKeyFmt, s.prefix, transport.NormalizeAddress(device))
}

func (s *TelemetryStore) historyKey(device string) string {
	return fmt.Sprintf(historyKeyFmt, s.prefix, transport.NormalizeAddress(device))
}

// Save 写入最新值并追加到定长历史
func (s *TelemetryStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.latestKey(snap.Device), data, 0)
		if s.historySize > 0 {
			pipe.LPush(ctx, s.historyKey(snap.Device), data)
			pipe.LTrim(ctx, s.historyKey(snap.Device), 0, s.historySize-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save telemetry: %w", err)
	}
	return nil
}

// Latest 最新一条
func (s *TelemetryStore) Latest(ctx context.Context, device string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.latestKey(device)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoTelemetry
	}
	if err != nil {
		return nil, fmt.Errorf("get telemetry: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// History 最近 n 条，新的在前
func (s *TelemetryStore) History(ctx context.Context, device string, n int64) ([]Snapshot, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := s.client.LRange(ctx, s.historyKey(device), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list telemetry: %w", err)
	}
	out := make([]Snapshot, 0, len(items))
	for _, it := range items {
		var snap Snapshot
		if err := json.Unmarshal([]byte(it), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, nil
}
