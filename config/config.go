package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// Driver names accepted in docker.driver.
const (
	DriverDocker = "docker"
	DriverMemory = "memory"
)

// Config represents the complete cortex configuration.
type Config struct {
	Balancer BalancerConfig `mapstructure:"balancer"`
	Docker   DockerConfig   `mapstructure:"docker"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BalancerConfig controls the elastic balancer. It is read once at startup
// and never changes afterwards.
type BalancerConfig struct {
	// AllowProvision enables the on-demand "top up to max" trigger.
	AllowProvision bool `mapstructure:"allow_provision_containers"`
	// ToleranceThreshold is how many queued jobs per worker are acceptable
	// before the balancer grows the pool. Must be > 0.
	ToleranceThreshold int `mapstructure:"tolerance_threshold"`
	MinContainers      int `mapstructure:"min_containers"`
	MaxContainers      int `mapstructure:"max_containers"`
	// MaxBootsPerCycle caps the containers started by a single cycle.
	MaxBootsPerCycle int `mapstructure:"max_boots_per_cycle"`
	// MaxShutdownsPerCycle caps the containers killed by a single cycle.
	MaxShutdownsPerCycle int `mapstructure:"max_shutdowns_per_cycle"`
	// InitialDelay is the wait before the first cycle. Must be < Interval.
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	// Interval is the fixed rate at which cycles fire.
	Interval time.Duration `mapstructure:"interval"`
	// DriverTimeout bounds every single lifecycle driver call.
	DriverTimeout time.Duration `mapstructure:"driver_timeout"`
}

// DockerConfig describes the worker containers and how they are managed.
type DockerConfig struct {
	// Driver is either "docker" or "memory" (in-process, no containers).
	Driver string `mapstructure:"driver"`
	// Pool labels every container owned by this balancer.
	Pool          string   `mapstructure:"pool"`
	Image         string   `mapstructure:"image"`
	NamePrefix    string   `mapstructure:"name_prefix"`
	Env           []string `mapstructure:"env"`
	ExposedPorts  []string `mapstructure:"exposed_ports"`
	Memory        int64    `mapstructure:"memory"`
	CPU           float64  `mapstructure:"cpu"`
	RestartPolicy string   `mapstructure:"restart_policy"`
	// TerminateMode removes killed containers instead of only stopping them.
	TerminateMode bool `mapstructure:"terminate_mode"`
	PullImage     bool `mapstructure:"pull_image"`
	// InventoryTTL is how long a listed inventory is served from cache.
	InventoryTTL time.Duration `mapstructure:"inventory_ttl"`
	// ObserverDelay and ObserverInterval drive the periodic inventory refresh.
	ObserverDelay    time.Duration `mapstructure:"observer_delay"`
	ObserverInterval time.Duration `mapstructure:"observer_interval"`
}

// WorkersConfig controls worker liveness tracking.
type WorkersConfig struct {
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ConfigError reports a missing or invalid parameter. It is fatal: the
// balancer must not start with an invalid configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("balancer.allow_provision_containers", false)
	v.SetDefault("balancer.tolerance_threshold", 0)
	v.SetDefault("balancer.min_containers", 1)
	v.SetDefault("balancer.max_containers", 10)
	v.SetDefault("balancer.max_boots_per_cycle", 5)
	v.SetDefault("balancer.max_shutdowns_per_cycle", 5)
	v.SetDefault("balancer.initial_delay", 15*time.Second)
	v.SetDefault("balancer.interval", 60*time.Second)
	v.SetDefault("balancer.driver_timeout", 30*time.Second)

	v.SetDefault("docker.driver", DriverDocker)
	v.SetDefault("docker.pool", "cortex")
	v.SetDefault("docker.image", "")
	v.SetDefault("docker.name_prefix", "cortex-worker")
	v.SetDefault("docker.env", []string{})
	v.SetDefault("docker.exposed_ports", []string{})
	v.SetDefault("docker.memory", int64(0))
	v.SetDefault("docker.cpu", 0.0)
	v.SetDefault("docker.restart_policy", "on-failure")
	v.SetDefault("docker.terminate_mode", true)
	v.SetDefault("docker.pull_image", false)
	v.SetDefault("docker.inventory_ttl", 3*time.Second)
	v.SetDefault("docker.observer_delay", 1*time.Second)
	v.SetDefault("docker.observer_interval", 3*time.Second)

	v.SetDefault("workers.heartbeat_ttl", 30*time.Second)
	v.SetDefault("workers.reap_interval", 10*time.Second)

	v.SetDefault("server.address", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Load reads the configuration from path (optional) and CORTEX_* environment
// variables, then validates it.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("cortex")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section and returns all violations at once. Each
// violation is a *ConfigError.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := c.Balancer.Validate(); err != nil {
		result = multierror.Append(result, err)
	}

	switch c.Docker.Driver {
	case DriverDocker:
		if c.Docker.Image == "" {
			result = multierror.Append(result, &ConfigError{Field: "docker.image", Reason: "required with the docker driver"})
		}
	case DriverMemory:
	default:
		result = multierror.Append(result, &ConfigError{Field: "docker.driver", Reason: fmt.Sprintf("unknown driver %q", c.Docker.Driver)})
	}
	if c.Docker.Pool == "" {
		result = multierror.Append(result, &ConfigError{Field: "docker.pool", Reason: "must not be empty"})
	}
	if c.Docker.ObserverInterval <= 0 {
		result = multierror.Append(result, &ConfigError{Field: "docker.observer_interval", Reason: "must be positive"})
	}
	if c.Docker.ObserverDelay < 0 || c.Docker.ObserverDelay >= c.Docker.ObserverInterval {
		result = multierror.Append(result, &ConfigError{Field: "docker.observer_delay", Reason: "must be >= 0 and shorter than observer_interval"})
	}

	if c.Workers.HeartbeatTTL <= 0 {
		result = multierror.Append(result, &ConfigError{Field: "workers.heartbeat_ttl", Reason: "must be positive"})
	}
	if c.Workers.ReapInterval <= 0 {
		result = multierror.Append(result, &ConfigError{Field: "workers.reap_interval", Reason: "must be positive"})
	}

	return result.ErrorOrNil()
}

// Validate checks the balancer section. A non-positive tolerance threshold
// is always reported.
func (b BalancerConfig) Validate() error {
	var result *multierror.Error

	if b.ToleranceThreshold <= 0 {
		result = multierror.Append(result, &ConfigError{Field: "balancer.tolerance_threshold", Reason: "must be greater than 0"})
	}
	if b.MinContainers < 0 {
		result = multierror.Append(result, &ConfigError{Field: "balancer.min_containers", Reason: "must not be negative"})
	}
	if b.MaxContainers < b.MinContainers {
		result = multierror.Append(result, &ConfigError{Field: "balancer.max_containers", Reason: "must be >= min_containers"})
	}
	if b.MaxBootsPerCycle < 0 {
		result = multierror.Append(result, &ConfigError{Field: "balancer.max_boots_per_cycle", Reason: "must not be negative"})
	}
	if b.MaxShutdownsPerCycle < 0 {
		result = multierror.Append(result, &ConfigError{Field: "balancer.max_shutdowns_per_cycle", Reason: "must not be negative"})
	}
	if b.Interval <= 0 {
		result = multierror.Append(result, &ConfigError{Field: "balancer.interval", Reason: "must be positive"})
	}
	if b.InitialDelay < 0 || b.InitialDelay >= b.Interval {
		result = multierror.Append(result, &ConfigError{Field: "balancer.initial_delay", Reason: "must be >= 0 and shorter than interval"})
	}
	if b.DriverTimeout <= 0 {
		result = multierror.Append(result, &ConfigError{Field: "balancer.driver_timeout", Reason: "must be positive"})
	}

	return result.ErrorOrNil()
}

// IsConfigError reports whether err contains a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
