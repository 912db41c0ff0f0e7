// Package config содержит логику чтения конфигурации сервиса витрины.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса витрины.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	DatabasePath string `env:"DATABASE_PATH"`
	AuthSecret   string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envDatabasePath := cfg.DatabasePath
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "PostgreSQL URI; when empty the embedded store is used")
	flag.StringVar(&cfg.DatabasePath, "f", "storefront.db", "path to the embedded store file")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for signing auth tokens")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envDatabasePath != "" {
		cfg.DatabasePath = envDatabasePath
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	// Значения из окружения нередко приходят обёрнутыми в кавычки
	// (экспорт из .env-файлов), срезаем их вместе с пробелами.
	cfg.DatabaseURI = trimCredential(cfg.DatabaseURI)
	cfg.DatabasePath = trimCredential(cfg.DatabasePath)
	cfg.AuthSecret = trimCredential(cfg.AuthSecret)

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

func trimCredential(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, `"'`)
	return strings.TrimSpace(v)
}
