package config

import (
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
	"github.com/angeloszaimis/mesh-gateway/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type RegistryConfig struct {
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	SweepConcurrency  int           `mapstructure:"sweep_concurrency"`
}

type StrategyConfig struct {
	Type string `mapstructure:"type"`
}

// PolicyConfig overrides the gateway retry defaults for one service.
type PolicyConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	Multiplier      float64       `mapstructure:"multiplier"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryableErrors []string      `mapstructure:"retryable_errors"`
}

type GatewayConfig struct {
	MaxRetries int                     `mapstructure:"max_retries"`
	BaseDelay  time.Duration           `mapstructure:"base_delay"`
	MaxDelay   time.Duration           `mapstructure:"max_delay"`
	Multiplier float64                 `mapstructure:"multiplier"`
	Timeout    time.Duration           `mapstructure:"timeout"`
	Policies   map[string]PolicyConfig `mapstructure:"policies"`
}

// BreakerConfig configures the breaker for one service. Preset names an
// entry of circuitbreaker.Presets() used as the base; non-zero fields
// override it.
type BreakerConfig struct {
	Preset           string        `mapstructure:"preset"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MonitoringPeriod time.Duration `mapstructure:"monitoring_period"`
	ExpectedErrors   []string      `mapstructure:"expected_errors"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Logging  LoggingConfig            `mapstructure:"logging"`
	Registry RegistryConfig           `mapstructure:"registry"`
	Strategy StrategyConfig           `mapstructure:"strategy"`
	Gateway  GatewayConfig            `mapstructure:"gateway"`
	Breakers map[string]BreakerConfig `mapstructure:"breakers"`
	Services []registry.Instance      `mapstructure:"services"`
	Metrics  MetricsConfig            `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", true)
	v.SetDefault("registry.sweep_interval", "30s")
	v.SetDefault("registry.heartbeat_timeout", "60s")
	v.SetDefault("registry.heartbeat_interval", "15s")
	v.SetDefault("registry.probe_timeout", "5s")
	v.SetDefault("registry.sweep_concurrency", 8)
	v.SetDefault("strategy.type", strategy.TypeRoundRobin)
	v.SetDefault("gateway.max_retries", 3)
	v.SetDefault("gateway.base_delay", "1s")
	v.SetDefault("gateway.max_delay", "0s")
	v.SetDefault("gateway.multiplier", 2)
	v.SetDefault("gateway.timeout", "0s")
	v.SetDefault("metrics.buffer_size", 1000)
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.Required, validation.By(validateServer)),
		validation.Field(&c.Logging, validation.Required, validation.By(validateLogging)),
		validation.Field(&c.Registry, validation.By(validateRegistry)),
		validation.Field(&c.Strategy, validation.Required, validation.By(validateStrategy)),
		validation.Field(&c.Gateway, validation.By(validateGateway)),
		validation.Field(&c.Breakers, validation.Each(validation.By(validateBreaker))),
		validation.Field(&c.Services, validation.Each(validation.By(validateService))),
		validation.Field(&c.Metrics, validation.By(validateMetrics)),
	)
}

func validateServer(value interface{}) error {
	sc, ok := value.(ServerConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServerConfig")
	}
	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&sc.Address,
			validation.Required,
			validation.By(validateHostPort),
		),
		validation.Field(&sc.ShutdownTimeout, validation.Min(time.Duration(0))),
	)
}

func validateLogging(value interface{}) error {
	lc, ok := value.(LoggingConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
	}
	return validation.ValidateStruct(&lc,
		validation.Field(&lc.Level,
			validation.Required,
			validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
		),
	)
}

func validateRegistry(value interface{}) error {
	rc, ok := value.(RegistryConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RegistryConfig")
	}
	return validation.ValidateStruct(&rc,
		validation.Field(&rc.SweepInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&rc.HeartbeatTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&rc.HeartbeatInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&rc.ProbeTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&rc.SweepConcurrency, validation.Required, validation.Min(1)),
	)
}

func validateStrategy(value interface{}) error {
	sc, ok := value.(StrategyConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a StrategyConfig")
	}

	types := make([]interface{}, 0, len(strategy.Types()))
	for _, t := range strategy.Types() {
		types = append(types, t)
	}

	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Type, validation.Required, validation.In(types...)),
	)
}

func validateGateway(value interface{}) error {
	gc, ok := value.(GatewayConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a GatewayConfig")
	}
	return validation.ValidateStruct(&gc,
		validation.Field(&gc.MaxRetries, validation.Min(0)),
		validation.Field(&gc.BaseDelay, validation.Required, validation.Min(time.Duration(0))),
		validation.Field(&gc.MaxDelay, validation.Min(time.Duration(0))),
		validation.Field(&gc.Multiplier, validation.Required, validation.Min(1.0)),
		validation.Field(&gc.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&gc.Policies, validation.Each(validation.By(validatePolicy))),
	)
}

func validatePolicy(value interface{}) error {
	pc, ok := value.(PolicyConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a PolicyConfig")
	}
	return validation.ValidateStruct(&pc,
		validation.Field(&pc.MaxRetries, validation.Min(0)),
		validation.Field(&pc.BaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&pc.MaxDelay, validation.Min(time.Duration(0))),
		validation.Field(&pc.Multiplier, validation.When(pc.Multiplier != 0, validation.Min(1.0))),
		validation.Field(&pc.Timeout, validation.Min(time.Duration(0))),
	)
}

func validateBreaker(value interface{}) error {
	bc, ok := value.(BreakerConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BreakerConfig")
	}

	presets := make([]interface{}, 0)
	for name := range circuitbreaker.Presets() {
		presets = append(presets, name)
	}

	return validation.ValidateStruct(&bc,
		validation.Field(&bc.Preset, validation.In(presets...)),
		validation.Field(&bc.FailureThreshold, validation.Min(0)),
		validation.Field(&bc.SuccessThreshold, validation.Min(0)),
		validation.Field(&bc.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&bc.MonitoringPeriod, validation.Min(time.Duration(0))),
	)
}

func validateService(value interface{}) error {
	instance, ok := value.(registry.Instance)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a service instance")
	}
	return instance.Validate()
}

func validateMetrics(value interface{}) error {
	mc, ok := value.(MetricsConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
	}
	return validation.ValidateStruct(&mc,
		validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
	)
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

// Resolve returns the breaker settings: the preset if one is named, else the
// defaults, overlaid with every non-zero field.
func (b BreakerConfig) Resolve() circuitbreaker.Config {
	resolved := circuitbreaker.DefaultConfig()
	if preset, ok := circuitbreaker.Presets()[b.Preset]; ok {
		resolved = preset
	}

	if b.FailureThreshold > 0 {
		resolved.FailureThreshold = b.FailureThreshold
	}
	if b.SuccessThreshold > 0 {
		resolved.SuccessThreshold = b.SuccessThreshold
	}
	if b.Timeout > 0 {
		resolved.Timeout = b.Timeout
	}
	if b.MonitoringPeriod > 0 {
		resolved.MonitoringPeriod = b.MonitoringPeriod
	}
	if b.ExpectedErrors != nil {
		resolved.ExpectedErrors = b.ExpectedErrors
	}

	return resolved
}
