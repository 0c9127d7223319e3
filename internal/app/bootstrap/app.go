package bootstrap

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/iot-bike/internal/api"
	"github.com/taoyao-code/iot-bike/internal/api/middleware"
	"github.com/taoyao-code/iot-bike/internal/app"
	cfgpkg "github.com/taoyao-code/iot-bike/internal/config"
	"github.com/taoyao-code/iot-bike/internal/metrics"
	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
	redisstorage "github.com/taoyao-code/iot-bike/internal/storage/redis"
	"github.com/taoyao-code/iot-bike/internal/transport"
	"github.com/taoyao-code/iot-bike/internal/transport/ble"
)

// Run 统一启动流程，收到 SIGINT/SIGTERM 后优雅关闭
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg, log, ble.NewScanner(nil, log.Named("ble")))
}

func run(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger, scanner transport.Scanner) error {
	log.Info("starting bike service", zap.String("name", cfg.App.Name), zap.String("env", cfg.App.Env))
	if cfg.Device.Address == "" {
		return errors.New("device.address is required")
	}

	// ========== 阶段1: 初始化基础组件 ==========
	reg, appm := app.NewMetrics()
	metricsHandler := metrics.Handler(reg)

	profile, err := app.LoadProfile(cfg.Workout, log)
	if err != nil {
		log.Error("workout profile load failed", zap.Error(err))
		return err
	}

	bikeClient := app.NewBikeClient(cfg, scanner, log.Named("bike"), appm)
	defer func() {
		_ = bikeClient.Destroy()
		log.Info("bike client destroyed")
	}()
	log.Info("bike client initialized", zap.String("device", bikeClient.Address()))

	healthAgg := app.NewHealthAggregator(bikeClient)

	// ========== 阶段2: 遥测存储（可选）==========
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Error("redis initialization failed", zap.Error(err))
		return err
	}
	var telemetry api.TelemetryReader
	if redisClient != nil {
		defer redisClient.Close()
		app.AddRedisChecker(healthAgg, redisClient)

		store := app.NewTelemetryStore(redisClient, cfg.Redis)
		telemetry = store

		events, unsub := bikeClient.Subscribe(bike.KindWorkoutState)
		defer unsub()
		recorder := redisstorage.NewRecorder(store, bikeClient.Address(), log.Named("telemetry"), appm)
		go recorder.Run(ctx, events)
		log.Info("telemetry recorder started")
	}

	// ========== 阶段3: 启动HTTP服务（非阻塞）==========
	readyFn := func() bool { return healthAgg.Ready(context.Background()) }
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	httpSrv := app.NewHTTPServer(cfg.HTTP, log.Named("http"), cfg.Metrics.Path, metricsHandler, readyFn)

	app.RegisterHealthRoutes(httpSrv.Engine(), healthAgg)
	authCfg := middleware.AuthConfig{
		APIKeys: cfg.HTTP.Auth.APIKeys,
		Enabled: cfg.HTTP.Auth.Enabled,
	}
	api.RegisterBikeRoutes(httpSrv.Engine(), api.NewBikeHandler(bikeClient, telemetry, profile, log.Named("api")), authCfg, log)

	httpErr := make(chan error, 1)
	go func() { httpErr <- httpSrv.Start() }()

	// ========== 阶段4: 自动连接 ==========
	if cfg.Device.AutoConnect {
		go func() {
			if err := bikeClient.Connect(ctx); err != nil {
				log.Warn("auto connect failed", zap.Error(err))
			}
		}()
	}
	log.Info("all services ready")

	// ========== 阶段5: 等待关闭信号 ==========
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal, gracefully shutting down...")
	case err := <-httpErr:
		if err != nil {
			log.Error("http server error", zap.Error(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("http server stopped")
	return nil
}
