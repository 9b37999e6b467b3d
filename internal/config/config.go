package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FLUENTD_LAUNCHER_COMMAND
const EnvPrefix = "FLUENTD_LAUNCHER"

// ConfigEnv names the optional YAML config file
const ConfigEnv = EnvPrefix + "_CONFIG"

// Config is the launcher configuration. The launcher takes no flags of its
// own, so everything here comes from defaults, a YAML file or the environment.
type Config struct {
	// Delegated command
	Command     string        `mapstructure:"command" yaml:"command"`
	KillTimeout time.Duration `mapstructure:"kill_timeout" yaml:"kill_timeout"`

	// Library search path
	LibDir        string `mapstructure:"lib_dir" yaml:"lib_dir"`
	SearchPathEnv string `mapstructure:"search_path_env" yaml:"search_path_env"`

	// Memory profiling
	Service        string        `mapstructure:"service" yaml:"service"`
	ReportDir      string        `mapstructure:"report_dir" yaml:"report_dir"`
	Profile        bool          `mapstructure:"profile" yaml:"profile"`
	SampleRate     int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	TopN           int           `mapstructure:"top_n" yaml:"top_n"`
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	HookTimeout    time.Duration `mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// Exit-time metrics (node_exporter textfile format)
	MetricsTextfile string `mapstructure:"metrics_textfile" yaml:"metrics_textfile"`

	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" yaml:"log_json"`
	LogFile  bool   `mapstructure:"log_file" yaml:"log_file"`
}

var defaults = map[string]interface{}{
	"command":          "fluentd",
	"kill_timeout":     "60s",
	"lib_dir":          "../lib",
	"search_path_env":  "RUBYLIB",
	"service":          "fluentd",
	"report_dir":       "/var/log",
	"profile":          true,
	"sample_rate":      4096,
	"top_n":            20,
	"sample_interval":  "5s",
	"hook_timeout":     "10s",
	"metrics_textfile": "",
	"log_level":        "info",
	"log_json":         false,
	"log_file":         false,
}

// Default returns the configuration with no file and no environment applied
func Default() *Config {
	cfg, _ := load(viper.New(), "", false)
	return cfg
}

// Load reads defaults, then the YAML file at path (if any), then
// FLUENTD_LAUNCHER_* environment overrides. On a file error the returned
// config still holds defaults plus environment, so callers can log and go on.
func Load(path string) (*Config, error) {
	return load(viper.New(), path, true)
}

func load(v *viper.Viper, path string, env bool) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if env {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	var fileErr error
	if path != "" {
		fileErr = mergeFile(v, path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		if !env && path == "" {
			return nil, fmt.Errorf("invalid defaults: %w", err)
		}
		// A malformed file or environment value; fall back to pure defaults
		return Default(), fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Validate()

	return &cfg, fileErr
}

func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := v.MergeConfigMap(values); err != nil {
		return fmt.Errorf("failed to merge config file: %w", err)
	}
	return nil
}

// Validate replaces unusable values with defaults
func (c *Config) Validate() {
	if c.Command == "" {
		c.Command = "fluentd"
	}
	if c.Service == "" {
		c.Service = "fluentd"
	}
	if c.ReportDir == "" {
		c.ReportDir = "/var/log"
	}
	if c.SearchPathEnv == "" {
		c.SearchPathEnv = "RUBYLIB"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 4096
	}
	if c.TopN <= 0 {
		c.TopN = 20
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = 5 * time.Second
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = 10 * time.Second
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 60 * time.Second
	}
}
