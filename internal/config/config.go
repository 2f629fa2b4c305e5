package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	ProviderSynthetic     = "synthetic"
	ProviderCryptoCompare = "cryptocompare"
	ProviderBinance       = "binance"
)

type Config struct {
	ListenAddress string `env:"ADDR" envDefault:":8080"`
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// Market data provider selection; synthetic needs no network access.
	Provider            string        `env:"PROVIDER" envDefault:"synthetic"`
	ProviderBaseURL     string        `env:"PROVIDER_BASE_URL"`
	ProviderAPIKey      string        `env:"PROVIDER_API_KEY"`
	ProviderPageSize    int           `env:"PROVIDER_PAGE_SIZE" envDefault:"2000"`
	ProviderThrottle    time.Duration `env:"PROVIDER_THROTTLE" envDefault:"150ms"`
	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	ProviderMaxAttempts int           `env:"PROVIDER_MAX_ATTEMPTS" envDefault:"5"`
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
