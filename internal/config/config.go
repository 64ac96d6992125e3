// Package config provides environment-aware configuration management for
// fightcore: process-level settings from the environment (in the style of
// the rest of the stack) plus the pipeline's nested tuning surface loaded
// from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds process-level configuration, loaded from the environment.
type Config struct {
	Env Environment

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// Service ports
	HTTPPort    int
	MetricsPort int

	// Redis (stats aggregator cache backend)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Worker transport: CV worker websocket endpoints dialed at startup.
	WorkerEndpoints []string

	// Pipeline tuning surface
	Pipeline PipelineConfig
}

// Load reads process config from the environment, loading an optional
// FIGHTCORE_ENV-named .env file first, then loads the pipeline tuning
// surface from a YAML file (or its built-in defaults if the file is absent).
func Load() (*Config, error) {
	envStr := os.Getenv("FIGHTCORE_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(envStr)
	if env != Development && env != Testing && env != Production {
		return nil, fmt.Errorf("invalid FIGHTCORE_ENV: %s (must be development, testing, or production)", envStr)
	}

	envFile := fmt.Sprintf("config/%s.env", env)
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("warning: could not load %s: %v\n", envFile, err)
		}
	}

	cfg := &Config{Env: env}
	cfg.loadFromEnv()

	pipelinePath := getEnv("FIGHTCORE_PIPELINE_CONFIG", "config/pipeline.yaml")
	pipeline, err := LoadPipelineConfig(pipelinePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline configuration: %w", err)
	}
	cfg.Pipeline = pipeline

	return cfg, nil
}

func (c *Config) loadFromEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "text")
	c.LogOutput = getEnv("LOG_OUTPUT", "stdout")

	c.HTTPPort = getIntEnv("HTTP_PORT", 8080)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	c.RedisAddr = getEnv("REDIS_ADDR", "")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = getIntEnv("REDIS_DB", 0)

	c.WorkerEndpoints = getListEnv("WORKER_ENDPOINTS", nil)
}

// IsDevelopment reports whether the configured environment is development.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsProduction reports whether the configured environment is production.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate checks invariants that must hold regardless of environment.
func (c *Config) Validate() error {
	if c.HTTPPort < 1024 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d (must be between 1024 and 65535)", c.HTTPPort)
	}
	if c.MetricsPort < 1024 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d (must be between 1024 and 65535)", c.MetricsPort)
	}
	return c.Pipeline.Validate()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getListEnv reads a comma-separated list, trimming whitespace and
// dropping empty elements. Returns defaultValue when the variable is unset.
func getListEnv(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

