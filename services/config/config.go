// Package config loads service configuration from the environment with
// sensible defaults for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type ServerConfig struct {
	HTTPPort int
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

type Config struct {
	Environment string
	Server      ServerConfig
	ClickHouse  ClickHouseConfig
}

func mustEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func Load() (*Config, error) {
	port, err := strconv.Atoi(mustEnv("HTTP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("parse HTTP_PORT: %w", err)
	}
	return &Config{
		Environment: mustEnv("ENVIRONMENT", "dev"),
		Server:      ServerConfig{HTTPPort: port},
		ClickHouse: ClickHouseConfig{
			Addr:     mustEnv("CLICKHOUSE_ADDR", "localhost:9000"),
			Database: mustEnv("CH_DATABASE", "backtest"),
			Username: mustEnv("CH_USER", "backtest"),
			Password: mustEnv("CH_PASSWORD", "backtest123"),
			Table:    mustEnv("CH_TABLE", "data"),
		},
	}, nil
}
