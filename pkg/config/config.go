package config

import (
	"fmt"
	"time"
)

// StateBackend selects where escalation state is persisted.
type StateBackend string

const (
	// StateBackendKubernetes stores state as annotations on the managed
	// Deployment. This is the default: the workload's own metadata is the
	// durable store, so the healer needs no database of its own.
	StateBackendKubernetes StateBackend = "kubernetes"

	// StateBackendRedis stores state in a Redis keyspace. Useful when the
	// orchestration platform is swapped out or annotation writes are
	// restricted.
	StateBackendRedis StateBackend = "redis"

	// StateBackendMemory keeps state in-process. Dry runs and tests only.
	StateBackendMemory StateBackend = "memory"
)

// IsValid reports whether the backend is a supported value.
func (b StateBackend) IsValid() bool {
	switch b {
	case StateBackendKubernetes, StateBackendRedis, StateBackendMemory:
		return true
	}
	return false
}

// Workload identifies one managed Deployment.
type Workload struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
	// Replicas is the replica count applied alongside a restart.
	Replicas int32 `yaml:"replicas"`
}

// Predictor configures the risk inference client.
type Predictor struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	Threshold float64       `yaml:"threshold"`
}

// Metrics configures the feature snapshot source.
type Metrics struct {
	// PrometheusURL points at a Prometheus-compatible query API. When
	// empty, features are derived from the Deployment status instead.
	PrometheusURL string        `yaml:"prometheusUrl"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Redis configures the optional Redis state backend.
type Redis struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// State configures escalation state persistence.
type State struct {
	Backend StateBackend `yaml:"backend"`
	Redis   Redis        `yaml:"redis"`
}

// Actions configures remediation behavior.
type Actions struct {
	// CacheClearCommand is executed inside one pod of the workload at the
	// cache-clear tier.
	CacheClearCommand []string `yaml:"cacheClearCommand"`
	// Cooldown is the wait before the post-escalation risk re-check.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Notifier configures outbound alerting.
type Notifier struct {
	WebhookURL string        `yaml:"webhookUrl"`
	Timeout    time.Duration `yaml:"timeout"`
	// RatePerMinute caps notification volume per process.
	RatePerMinute int `yaml:"ratePerMinute"`
}

// Server configures the healer's own HTTP surface.
type Server struct {
	Address         string        `yaml:"address"`
	Port            int           `yaml:"port"`
	RateLimit       float64       `yaml:"rateLimit"`
	RateLimitBurst  int           `yaml:"rateLimitBurst"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// Logging configures the structured logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Config is the root configuration for the healer process.
type Config struct {
	Workloads []Workload    `yaml:"workloads"`
	Interval  time.Duration `yaml:"interval"`
	Predictor Predictor     `yaml:"predictor"`
	Metrics   Metrics       `yaml:"metrics"`
	State     State         `yaml:"state"`
	Actions   Actions       `yaml:"actions"`
	Notifier  Notifier      `yaml:"notifier"`
	Server    Server        `yaml:"server"`
	Logging   Logging       `yaml:"logging"`
}

// Validate checks the parts of the configuration that would otherwise fail
// deep inside a cycle.
func (c *Config) Validate() error {
	if !c.State.Backend.IsValid() {
		return fmt.Errorf("unknown state backend: %q", c.State.Backend)
	}
	if c.State.Backend == StateBackendRedis && c.State.Redis.URL == "" {
		return fmt.Errorf("state backend %q requires state.redis.url", c.State.Backend)
	}
	if c.Predictor.Threshold < 0 || c.Predictor.Threshold > 1 {
		return fmt.Errorf("predictor threshold %v outside [0,1]", c.Predictor.Threshold)
	}
	for i, w := range c.Workloads {
		if w.Name == "" {
			return fmt.Errorf("workloads[%d]: name is required", i)
		}
	}
	return nil
}
