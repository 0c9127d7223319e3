package app

import (
	"github.com/gin-gonic/gin"

	"github.com/taoyao-code/iot-bike/internal/health"
	redisstorage "github.com/taoyao-code/iot-bike/internal/storage/redis"
)

// NewHealthAggregator 创建健康检查聚合器，初始只检查单车链路
func NewHealthAggregator(link health.LinkSource) *health.Aggregator {
	return health.NewAggregator(health.NewLinkChecker(link))
}

// RegisterHealthRoutes 注册健康检查HTTP路由
func RegisterHealthRoutes(r *gin.Engine, aggregator *health.Aggregator) {
	health.RegisterHTTPRoutes(r, aggregator)
}

// AddRedisChecker 添加Redis检查器到聚合器
func AddRedisChecker(aggregator *health.Aggregator, redisClient *redisstorage.Client) {
	if redisClient != nil {
		aggregator.AddChecker(health.NewRedisChecker(redisClient))
	}
}
