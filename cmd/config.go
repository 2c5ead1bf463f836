package main

import (
	"log"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

var logLevels = map[uint8]slog.Level{
	0: slog.LevelDebug,
	1: slog.LevelInfo,
	2: slog.LevelWarn,
	3: slog.LevelError,
}

type System struct {
	Port            string        `env:"SYSTEM_PORT" envDefault:"9090"`
	Origin          string        `env:"SYSTEM_ORIGIN" required:"true"`
	BaseURL         string        `env:"SYSTEM_BASE_URL" required:"true"`
	AdminAuthTokens string        `env:"SYSTEM_ADMIN_AUTH_TOKENS" envDefault:""`
	LogLevel        uint8         `env:"SYSTEM_LOG_LEVEL" envDefault:"1"` // 0 - debug, 1 - info, 2 - warn, 3 - error
	SessionLifetime time.Duration `env:"SYSTEM_SESSION_LIFETIME" envDefault:"30m"`
}

type Metrics struct {
	Namespace        string `env:"NAMESPACE" default:"dkey"`
	ServerSubsystem  string `env:"SERVER_SUBSYSTEM" default:"dkey-server"`
	WorkersSubsystem string `env:"WORKERS_SUBSYSTEM" default:"dkey-workers"`
	DbSubsystem      string `env:"DB_SUBSYSTEM" default:"dkey-db"`
}

type Pinning struct {
	NodeURL          string `env:"PINNING_NODE_URL" required:"true"`
	ProverParamsPath string `env:"PROVER_PARAMS_PATH" envDefault:""`
}

type Chain struct {
	WalletKey string            `env:"CHAIN_WALLET_KEY" envDefault:""`
	Contracts map[uint64]string `env:"CHAIN_CONTRACTS" required:"true" envSeparator:"," envKeyValSeparator:"="`
}

type Postgress struct {
	Host     string `env:"DB_HOST" required:"true"`
	Port     string `env:"DB_PORT" required:"true"`
	User     string `env:"DB_USER" required:"true"`
	Password string `env:"DB_PASSWORD" required:"true"`
	Name     string `env:"DB_NAME" required:"true"`
}

type Config struct {
	System  System
	Metrics Metrics
	Pinning Pinning
	Chain   Chain
	DB      Postgress
}

func loadConfig() *Config {
	cfg := &Config{}
	if err := env.Parse(&cfg.System); err != nil {
		log.Fatalf("Failed to parse system config: %v", err)
	}
	if err := env.Parse(&cfg.Metrics); err != nil {
		log.Fatalf("Failed to parse metrics config: %v", err)
	}
	if err := env.Parse(&cfg.Pinning); err != nil {
		log.Fatalf("Failed to parse pinning config: %v", err)
	}
	if err := env.Parse(&cfg.Chain); err != nil {
		log.Fatalf("Failed to parse chain config: %v", err)
	}
	if err := env.Parse(&cfg.DB); err != nil {
		log.Fatalf("Failed to parse db config: %v", err)
	}

	return cfg
}
