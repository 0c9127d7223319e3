package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taoyao-code/iot-bike/internal/api/middleware"
)

// RegisterBikeRoutes 注册单车控制路由
func RegisterBikeRoutes(r gin.IRouter, h *BikeHandler, authCfg middleware.AuthConfig, logger *zap.Logger) {
	if r == nil || h == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bike := r.Group("/api/v1/bike")
	if authCfg.Enabled {
		bike.Use(middleware.APIKeyAuth(authCfg, logger))
		logger.Info("api authentication enabled", zap.Int("api_keys_count", len(authCfg.APIKeys)))
	} else {
		logger.Warn("api authentication disabled - only for development!")
	}

	bike.GET("/state", h.GetState)
	bike.GET("/telemetry", h.GetTelemetry)
	bike.GET("/events", h.Events)

	bike.POST("/connect", h.Connect)
	bike.POST("/disconnect", h.Disconnect)
	bike.POST("/start", h.Start)
	bike.POST("/pause", h.Pause)
	bike.POST("/resume", h.Resume)
	bike.PUT("/resistance", h.SetResistance)

	logger.Info("bike routes registered", zap.Int("endpoints", 9))
}
