package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/dbsync/pkg/errors"
	"github.com/ajitpratap0/dbsync/pkg/logger"
	"github.com/ajitpratap0/dbsync/pkg/observability"
	"github.com/ajitpratap0/dbsync/pkg/retry"
)

// EnvPrefix prefixes every environment override, e.g. DBSYNC_LOG_LEVEL.
const EnvPrefix = "DBSYNC"

// EngineConfig holds process-wide settings shared by every job.
type EngineConfig struct {
	Log     logger.Config               `mapstructure:"log"`
	Metrics MetricsConfig               `mapstructure:"metrics"`
	Tracing observability.TracingConfig `mapstructure:"tracing"`
	Connect retry.Policy                `mapstructure:"connect"`
	// Parallel is how many jobs may run at once.
	Parallel int `mapstructure:"parallel"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// NewEngineConfig returns the engine defaults.
func NewEngineConfig() *EngineConfig {
	return &EngineConfig{
		Log: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9464",
			Path:    "/metrics",
		},
		Tracing:  observability.DefaultTracingConfig(),
		Connect:  *retry.Default(),
		Parallel: 1,
	}
}

// SetEngineDefaults registers the defaults on v so environment variables
// can override keys that never appear in a file.
func SetEngineDefaults(v *viper.Viper) {
	d := NewEngineConfig()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("log.output_paths", []string{})
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.pretty_print", d.Tracing.PrettyPrint)
	v.SetDefault("tracing.batch_timeout", d.Tracing.BatchTimeout)
	v.SetDefault("connect.max_attempts", d.Connect.MaxAttempts)
	v.SetDefault("connect.initial_delay", d.Connect.InitialDelay)
	v.SetDefault("connect.max_delay", d.Connect.MaxDelay)
	v.SetDefault("connect.multiplier", d.Connect.Multiplier)
	v.SetDefault("connect.randomize_factor", d.Connect.RandomizeFactor)
	v.SetDefault("parallel", d.Parallel)
}

// LoadEngineConfig reads engine settings from path (optional), the
// environment and whatever flags were bound on v.
func LoadEngineConfig(v *viper.Viper, path string) (*EngineConfig, error) {
	SetEngineDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read engine config").
				WithDetail("path", path)
		}
	}

	cfg := NewEngineConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode engine config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the engine settings.
func (c *EngineConfig) Validate() error {
	var problems []string
	if c.Parallel < 1 {
		problems = append(problems, "parallel must be at least 1")
	}
	if c.Connect.MaxAttempts < 1 {
		problems = append(problems, "connect.max_attempts must be at least 1")
	}
	if c.Connect.InitialDelay < 0 || c.Connect.MaxDelay < 0 {
		problems = append(problems, "connect delays cannot be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		problems = append(problems, "metrics.address is required when metrics are enabled")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		problems = append(problems, "tracing.sampling_rate must be between 0 and 1")
	}
	if c.Tracing.BatchTimeout < 0 {
		problems = append(problems, "tracing.batch_timeout cannot be negative")
	}
	if len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, "invalid engine config:\n- "+strings.Join(problems, "\n- ")).
			WithDetail("problems", problems)
	}
	return nil
}

// ConnectPolicy returns a copy of the connection retry policy.
func (c *EngineConfig) ConnectPolicy() *retry.Policy {
	p := c.Connect
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 30 * time.Second
	}
	return &p
}
