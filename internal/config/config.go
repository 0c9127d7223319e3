package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/taoyao-code/iot-bike/internal/protocol/bike"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	Pprof        HTTPPprof     `mapstructure:"pprof"`
	Auth         HTTPAuth      `mapstructure:"auth"`
}

// HTTPAuth 控制接口 API Key 认证
type HTTPAuth struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// HTTPPprof HTTP pprof 配置
type HTTPPprof struct {
	Enable bool   `mapstructure:"enable"`
	Prefix string `mapstructure:"prefix"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// MysteryChar 辅助通知特征值
type MysteryChar struct {
	Service        string `mapstructure:"service"`
	Characteristic string `mapstructure:"characteristic"`
}

// DeviceConfig 目标单车与 GATT 布局
type DeviceConfig struct {
	Address         string        `mapstructure:"address"`
	ScanTimeout     time.Duration `mapstructure:"scanTimeout"`
	AutoConnect     bool          `mapstructure:"autoConnect"`
	ServiceUUID     string        `mapstructure:"serviceUUID"`
	CommandCharUUID string        `mapstructure:"commandCharUUID"`
	DataCharUUID    string        `mapstructure:"dataCharUUID"`
	MysteryChars    []MysteryChar `mapstructure:"mysteryChars"`
}

// PacingConfig 发送节奏
type PacingConfig struct {
	ResponseTimeout  time.Duration `mapstructure:"responseTimeout"`
	SettleDelay      time.Duration `mapstructure:"settleDelay"`
	IdleDelay        time.Duration `mapstructure:"idleDelay"`
	MinWriteInterval time.Duration `mapstructure:"minWriteInterval"`
}

// EventsConfig 事件总线
type EventsConfig struct {
	BufferSize int `mapstructure:"bufferSize"`
}

// RedisConfig 遥测存储
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"poolSize"`
	MinIdleConns int           `mapstructure:"minIdleConns"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	KeyPrefix    string        `mapstructure:"keyPrefix"`
	HistorySize  int64         `mapstructure:"historySize"`
}

// WorkoutConfig 训练方案
type WorkoutConfig struct {
	Profile string `mapstructure:"profile"`
}

// Config 顶层配置结构
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Device  DeviceConfig  `mapstructure:"device"`
	Pacing  PacingConfig  `mapstructure:"pacing"`
	Events  EventsConfig  `mapstructure:"events"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Workout WorkoutConfig `mapstructure:"workout"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则尝试从环境变量 BIKE_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("BIKE_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	// 默认值
	setDefaults(v)

	// 环境变量覆盖：前缀 BIKE_，并将点号替换为下划线
	v.SetEnvPrefix("BIKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	if c.Pacing.ResponseTimeout <= 0 {
		return fmt.Errorf("pacing.responseTimeout must be positive, got %s", c.Pacing.ResponseTimeout)
	}
	if c.Pacing.SettleDelay < 0 || c.Pacing.IdleDelay < 0 || c.Pacing.MinWriteInterval < 0 {
		return errors.New("pacing delays must not be negative")
	}
	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events.bufferSize must be positive, got %d", c.Events.BufferSize)
	}
	if c.Redis.Enabled && c.Redis.HistorySize <= 0 {
		return fmt.Errorf("redis.historySize must be positive, got %d", c.Redis.HistorySize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "iot-bike")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")
	v.SetDefault("http.pprof.enable", false)
	v.SetDefault("http.pprof.prefix", "/debug/pprof")
	v.SetDefault("http.auth.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/iot-bike.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("device.address", "")
	v.SetDefault("device.scanTimeout", "10s")
	v.SetDefault("device.autoConnect", false)
	v.SetDefault("device.serviceUUID", bike.ServiceS1UUID)
	v.SetDefault("device.commandCharUUID", bike.CharCommandInputUUID)
	v.SetDefault("device.dataCharUUID", bike.CharDataOutputUUID)

	v.SetDefault("pacing.responseTimeout", "500ms")
	v.SetDefault("pacing.settleDelay", "50ms")
	v.SetDefault("pacing.idleDelay", "100ms")
	v.SetDefault("pacing.minWriteInterval", "100ms")

	v.SetDefault("events.bufferSize", 64)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeout", "5s")
	v.SetDefault("redis.readTimeout", "3s")
	v.SetDefault("redis.writeTimeout", "3s")
	v.SetDefault("redis.keyPrefix", "bike")
	v.SetDefault("redis.historySize", 600)

	v.SetDefault("workout.profile", "")
}
