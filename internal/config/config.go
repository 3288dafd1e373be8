package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL      string `env:"DATABASE_URL,required"`
	ServiceJWTSecret string `env:"SERVICE_JWT_SECRET,required"`
	WebhookSecret    string `env:"WEBHOOK_SECRET,required"`

	ProcessorURL     string `env:"PROCESSOR_URL" envDefault:"http://mock-processor:8081"`
	TrustProviderURL string `env:"TRUST_PROVIDER_URL" envDefault:"http://mock-processor:8081"`
	CatalogURL       string `env:"CATALOG_URL" envDefault:"http://mock-processor:8081"`

	RedisAddr       string `env:"REDIS_ADDR" envDefault:""`
	RedisPassword   string `env:"REDIS_PASSWORD" envDefault:""`
	BalanceCacheTTL int    `env:"BALANCE_CACHE_TTL_S" envDefault:"30"`

	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string `env:"APP_ENV" envDefault:"production"`

	EventPollIntervalMS int `env:"EVENT_POLL_INTERVAL_MS" envDefault:"500"`
	EventPollBatchSize  int `env:"EVENT_POLL_BATCH_SIZE" envDefault:"10"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}
