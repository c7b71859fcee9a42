package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig        `json:"server"`
	Orchestrator OrchestratorConfig  `json:"orchestrator"`
	Coordinators []CoordinatorConfig `json:"coordinators,omitempty"`
	Agents       []AgentConfig       `json:"agents,omitempty"`
	Database     DatabaseConfig      `json:"database"`
	Migrations   string              `json:"migrations_dir,omitempty"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type OrchestratorConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds"`
	MaxPipelineSteps    int `json:"max_pipeline_steps"`
	DefaultTimeoutSecs  int `json:"default_timeout_seconds"`
	DefaultMaxRetries   int `json:"default_max_retries"`
}

// PollInterval returns the configured poll period, zero when unset.
func (c OrchestratorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// DefaultTimeout returns the configured task timeout, zero when unset.
func (c OrchestratorConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSecs) * time.Second
}

type CoordinatorConfig struct {
	Name        string `json:"name"`
	MaxParallel int    `json:"max_parallel"`
}

type AgentConfig struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Role          string   `json:"role"`
	Coordinator   string   `json:"coordinator"`
	Capabilities  []string `json:"capabilities,omitempty"`
	HeartbeatSecs int      `json:"heartbeat_seconds,omitempty"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8420
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	return &cfg, nil
}
