package ble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
	"github.com/taoyao-code/iot-bike/internal/transport"
)

func TestDashed(t *testing.T) {
	assert.Equal(t, "49535343-fe7d-4ae5-8fa9-9fafd205e455", dashed(bike.ServiceS1UUID))
	assert.Equal(t, "abc", dashed("abc"))
}

func TestParseUUIDs(t *testing.T) {
	ids, err := parseUUIDs([]string{bike.CharCommandInputUUID, "49535343-1E4D-4BD9-BA61-23C647249616"})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "49535343-8841-43f4-a8d4-ecbe34729bb3", ids[0].String())
	assert.Equal(t, "49535343-1e4d-4bd9-ba61-23c647249616", ids[1].String())

	_, err = parseUUIDs([]string{"zz"})
	assert.Error(t, err)
}

func connectedPeripheral() *Peripheral {
	p := newPeripheral(nil, bluetooth.Address{}, zap.NewNop())
	p.notifyC = make(chan transport.Notification, 1)
	p.chars = make(map[string]bluetooth.DeviceCharacteristic)
	p.connected = true
	return p
}

func TestRemoteDisconnectClosesNotifications(t *testing.T) {
	s := &Scanner{logger: zap.NewNop()}
	p := s.track(connectedPeripheral())

	s.onConnectChange(p.Address(), true)
	s.onConnectChange("11:22:33:44:55:66", false)
	select {
	case <-p.Notifications():
		t.Fatal("notifications closed by unrelated event")
	default:
	}

	s.onConnectChange(p.Address(), false)
	_, ok := <-p.Notifications()
	assert.False(t, ok, "远端断开后通知流关闭")
	assert.ErrorIs(t, p.Write(context.Background(), bike.CharCommandInputUUID, bike.AckCmd()), ErrNotConnected)

	// 已断开：重复回调与本地断开都是空操作
	assert.NotPanics(t, func() { s.onConnectChange(p.Address(), false) })
	assert.NoError(t, p.Disconnect())
}
