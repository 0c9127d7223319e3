package bootstrap

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/iot-bike/internal/config"
	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
	"github.com/taoyao-code/iot-bike/internal/transport/fake"
)

func testConfig(t *testing.T) *cfgpkg.Config {
	t.Helper()
	{
		wd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(wd) })
	}
	t.Setenv("BIKE_CONFIG", "")
	cfg, err := cfgpkg.Load("")
	require.NoError(t, err)
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Device.Address = "AA:BB:CC:DD:EE:FF"
	cfg.Device.ScanTimeout = 50 * time.Millisecond
	cfg.Pacing.ResponseTimeout = 20 * time.Millisecond
	cfg.Pacing.MinWriteInterval = 0
	return cfg
}

func TestRunRequiresAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.Device.Address = ""
	assert.Error(t, run(context.Background(), cfg, zap.NewNop(), &fake.Scanner{}))
}

func TestRunAutoConnectAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Device.AutoConnect = true
	mr := miniredis.RunT(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	dev := fake.New(cfg.Device.Address, map[string][]string{
		bike.ServiceS1UUID: {bike.CharCommandInputUUID, bike.CharDataOutputUUID},
	})
	dev.DataChar = bike.CharDataOutputUUID
	scanner := &fake.Scanner{Devices: map[string]*fake.Peripheral{cfg.Device.Address: dev}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zap.NewNop(), scanner) }()

	require.Eventually(t, func() bool { return len(dev.Writes()) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, bike.AckCmd(), dev.Writes()[0])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunFailsOnBadProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workout.Profile = "missing.yaml"
	assert.Error(t, run(context.Background(), cfg, zap.NewNop(), &fake.Scanner{}))
}
