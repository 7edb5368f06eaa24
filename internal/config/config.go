package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	ProviderRateLimitPerSec int `env:"PROVIDER_RATE_LIMIT_PER_SEC,default=100"`

	RetryMaxAttempts int `env:"RETRY_MAX_ATTEMPTS,default=3"`
	RetryBaseDelayMs int `env:"RETRY_BASE_DELAY_MS,default=200"`
	RetryMaxDelayMs  int `env:"RETRY_MAX_DELAY_MS,default=5000"`

	BreakerFailureThreshold  int `env:"BREAKER_FAILURE_THRESHOLD,default=5"`
	BreakerCooldownSec       int `env:"BREAKER_COOLDOWN_SEC,default=60"`
	BreakerHalfOpenMaxProbes int `env:"BREAKER_HALF_OPEN_MAX_PROBES,default=3"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSec) * time.Second
}
