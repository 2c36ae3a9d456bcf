package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration loaded from config.yaml.
type Config struct {
	Storage string `yaml:"storage"` // "postgres" or "memory"

	Game struct {
		CountdownStart int    `yaml:"countdown_start"`
		StepInterval   string `yaml:"step_interval"`
		MaxPlayers     int    `yaml:"max_players"`
	} `yaml:"game"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Storage == "" {
		config.Storage = "postgres"
	}
	if config.Game.CountdownStart <= 0 {
		config.Game.CountdownStart = 3
	}
	if config.NATS.URL == "" {
		config.NATS.URL = getEnv("NATS_URL", "nats://localhost:4222")
	}

	return &config, nil
}

// stepInterval parses the configured countdown step, defaulting to one
// second.
func (c *Config) stepInterval() (time.Duration, error) {
	if c.Game.StepInterval == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(c.Game.StepInterval)
	if err != nil {
		return 0, fmt.Errorf("failed to parse step_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("step_interval must be positive, got %s", c.Game.StepInterval)
	}
	return d, nil
}
