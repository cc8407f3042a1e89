package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu"
	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/logging"
	"gopkg.in/yaml.v3"
)

// IntervalEnv overrides the poll interval, in whole seconds.
const IntervalEnv = "SMI_DASHBOARD_INTERVAL"

const (
	minInterval = 100 * time.Millisecond
	maxInterval = time.Hour
)

type Config struct {
	Listen         string          `yaml:"listen"`
	Interval       time.Duration   `yaml:"interval"`
	Backend        string          `yaml:"backend"`
	CommandTimeout time.Duration   `yaml:"command_timeout"`
	Metrics        []string        `yaml:"metrics"`
	HostInfo       *bool           `yaml:"host_info"`
	// origins allowed to open the websocket streams, "*" for any
	AllowedOrigins []string        `yaml:"allowed_origins"`
	Timeline       TimelineConfig  `yaml:"timeline"`
	SSH            SSHConfig       `yaml:"ssh"`
	MQTT           MQTTConfig      `yaml:"mqtt"`
	Log            logging.Options `yaml:"log"`
}

type TimelineConfig struct {
	Interval time.Duration `yaml:"interval"`
	Rollover int           `yaml:"rollover"`
}

// SSHConfig selects a remote host from the ssh client config. When Host is
// empty the tools run locally.
type SSHConfig struct {
	Host       string `yaml:"host"`
	ConfigPath string `yaml:"config_path"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// Load reads the YAML file at path, applies the overrides in order, fills
// defaults and validates the result. An empty path yields the defaults.
func Load(path string, overrides ...func(*Config) error) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		if err := override(cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	v := getenv(IntervalEnv)
	if v == "" {
		return nil
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || seconds <= 0 {
		return fmt.Errorf("%s: want a positive number of seconds, got %q", IntervalEnv, v)
	}
	c.Interval = time.Duration(seconds) * time.Second
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	if c.Interval == 0 {
		c.Interval = time.Second
	}
	if c.Backend == "" {
		c.Backend = gpu.BackendAuto
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.HostInfo == nil {
		on := true
		c.HostInfo = &on
	}
	if c.Timeline.Interval == 0 {
		c.Timeline.Interval = time.Second
	}
	if c.Timeline.Rollover == 0 {
		c.Timeline.Rollover = 1000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "smi-dashboard"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "smi-dashboard"
	}
}

func (c *Config) validate() error {
	if c.Interval < minInterval || c.Interval > maxInterval {
		return fmt.Errorf("interval %s out of range [%s, %s]", c.Interval, minInterval, maxInterval)
	}
	if c.Timeline.Interval < minInterval || c.Timeline.Interval > maxInterval {
		return fmt.Errorf("timeline.interval %s out of range [%s, %s]", c.Timeline.Interval, minInterval, maxInterval)
	}
	if c.Timeline.Rollover <= 0 {
		return errors.New("timeline.rollover must be > 0")
	}
	if c.CommandTimeout <= 0 {
		return errors.New("command_timeout must be > 0")
	}
	switch c.Backend {
	case gpu.BackendAuto, gpu.BackendAMD, gpu.BackendNvidia:
	default:
		return fmt.Errorf("backend must be one of auto, amd, nvidia; got %q", c.Backend)
	}
	if _, err := c.EnabledMetrics(); err != nil {
		return err
	}
	if c.MQTT.Enabled && c.MQTT.Server == "" {
		return errors.New("mqtt.server is required when mqtt is enabled")
	}
	return nil
}

// EnabledMetrics resolves the configured metric names; an empty list
// enables every per-device metric.
func (c *Config) EnabledMetrics() ([]base.Metric, error) {
	if len(c.Metrics) == 0 {
		return append([]base.Metric(nil), base.DeviceMetrics...), nil
	}

	out := make([]base.Metric, 0, len(c.Metrics))
	seen := map[base.Metric]bool{}
	for _, name := range c.Metrics {
		m, err := base.ParseMetric(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		if m == base.Count {
			return nil, errors.New("metrics: count is always polled and cannot be listed")
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *Config) WantHostInfo() bool {
	return c.HostInfo == nil || *c.HostInfo
}
