package config

import (
	"github.com/execledger/execledger/pkg/cache"
	"github.com/execledger/execledger/pkg/database"
	"github.com/execledger/execledger/pkg/events"
	"github.com/execledger/execledger/pkg/logger"
	"github.com/execledger/execledger/pkg/resilience"
	"github.com/execledger/execledger/pkg/telemetry"
)

// ToLoggerConfig converts LoggerConfig to logger.Config
func (c LoggerConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		AddCaller:  c.AddCaller,
		Stacktrace: c.Stacktrace,
	}
}

// ToDatabaseConfig converts DatabaseConfig to database.Config
func (c DatabaseConfig) ToDatabaseConfig() database.Config {
	return database.Config{
		Driver:       c.Driver,
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		Password:     c.Password,
		Name:         c.Name,
		SSLMode:      c.SSLMode,
		Path:         c.Path,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
	}
}

// ToCacheConfig converts RedisConfig to cache.Config
func (c RedisConfig) ToCacheConfig() cache.Config {
	return cache.Config{
		Host:     c.Host,
		Port:     c.Port,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	}
}

// ToCacheOptions converts RedisConfig to cache.Options
func (c RedisConfig) ToCacheOptions() *cache.Options {
	opts := cache.DefaultOptions()
	opts.Namespace = c.Namespace
	if c.CacheTTL > 0 {
		opts.DefaultTTL = c.CacheTTL
	}
	return opts
}

// ToKafkaConfig converts KafkaConfig to events.KafkaConfig
func (c KafkaConfig) ToKafkaConfig() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers:      c.Brokers,
		Topic:        c.Topic,
		BatchTimeout: c.BatchTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// ToTelemetryConfig converts TelemetryConfig to telemetry.Config
func (c TelemetryConfig) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Enabled,
		JaegerURL:    c.JaegerURL,
		ServiceName:  c.ServiceName,
		Environment:  c.Environment,
		SamplingRate: c.SamplingRate,
	}
}

// ToBreakerConfig converts SinkConfig to resilience.CircuitBreakerConfig
func (c SinkConfig) ToBreakerConfig(name string) resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig(name)
	cfg.MaxRequests = c.BreakerMaxRequests
	cfg.Interval = c.BreakerInterval
	cfg.Timeout = c.BreakerTimeout
	cfg.FailureRatio = c.BreakerFailureRatio
	cfg.MinRequests = c.BreakerMinRequests
	return cfg
}

// ToRetryConfig converts SinkConfig to resilience.RetryConfig
func (c SinkConfig) ToRetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = c.RetryAttempts
	cfg.InitialDelay = c.RetryInitialDelay
	cfg.MaxDelay = c.RetryMaxDelay
	return cfg
}
