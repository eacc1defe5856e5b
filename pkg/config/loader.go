package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Interval: 60 * time.Second,
		Predictor: Predictor{
			Timeout:   5 * time.Second,
			Threshold: 0.7,
		},
		Metrics: Metrics{
			Timeout: 5 * time.Second,
		},
		State: State{
			Backend: StateBackendKubernetes,
		},
		Actions: Actions{
			CacheClearCommand: []string{"sh", "-c", "rm -rf /tmp/*"},
			Cooldown:          120 * time.Second,
		},
		Notifier: Notifier{
			Timeout:       5 * time.Second,
			RatePerMinute: 10,
		},
		Server: Server{
			Port:            8080,
			RateLimit:       100,
			RateLimitBurst:  200,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: Logging{Level: "info"},
	}

	applyEnvOverrides(cfg)
	return cfg
}

// Load reads configuration from a YAML file. Environment variable
// references inside the file (e.g. ${SLACK_WEBHOOK_URL}) are expanded
// before parsing, so secrets never have to live in the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the common deployment knobs be set without
// editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PREDICTOR_URL"); v != "" {
		cfg.Predictor.URL = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notifier.WebhookURL = v
	}
}
