package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Flags holds the command-line overrides shared by every subcommand.
// Precedence is flag, then environment, then file, then default.
type Flags struct {
	fs *pflag.FlagSet

	path           string
	listen         string
	interval       time.Duration
	backend        string
	commandTimeout time.Duration
	metrics        []string
	noHostInfo     bool
	allowOrigins   []string
	sshHost        string
	logLevel       string
	logFile        string
	mqttServer     string
	mqttTopic      string
}

func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.path, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&f.listen, "listen", "", "dashboard listen address (default :8000)")
	fs.DurationVarP(&f.interval, "interval", "i", 0, "poll interval (default 1s, or "+IntervalEnv+" seconds)")
	fs.StringVar(&f.backend, "backend", "", "gpu backend: auto, amd or nvidia")
	fs.DurationVar(&f.commandTimeout, "command-timeout", 0, "timeout of one smi invocation")
	fs.StringSliceVar(&f.metrics, "metrics", nil, "metrics to poll (utilization,memory,clock,pcie,voltage)")
	fs.BoolVar(&f.noHostInfo, "no-host-info", false, "do not poll CPU and RAM usage")
	fs.StringSliceVar(&f.allowOrigins, "allow-origin", nil, "origins allowed to embed the live charts (\"*\" for any)")
	fs.StringVar(&f.sshHost, "ssh-host", "", "poll a host from ~/.ssh/config instead of the local machine")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&f.logFile, "log-file", "", "write logs to a rotated file")
	fs.StringVar(&f.mqttServer, "mqtt-server", "", "publish snapshots to an MQTT broker (tcp://host:port)")
	fs.StringVar(&f.mqttTopic, "mqtt-topic", "", "MQTT topic prefix")
	return f
}

// SetPort applies the positional port of serve. It conflicts with an
// explicit --listen.
func (f *Flags) SetPort(arg string) error {
	port, err := strconv.Atoi(arg)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", arg)
	}
	if f.fs.Changed("listen") {
		return fmt.Errorf("port %s conflicts with --listen %s", arg, f.listen)
	}
	f.listen = ":" + strconv.Itoa(port)
	return nil
}

// Load builds the configuration from the file named by --config, the
// environment and the flags that were set on the command line.
func (f *Flags) Load(getenv func(string) string) (*Config, error) {
	return Load(f.path,
		func(cfg *Config) error { return cfg.applyEnv(getenv) },
		func(cfg *Config) error {
			f.apply(cfg)
			return nil
		},
	)
}

func (f *Flags) apply(cfg *Config) {
	changed := f.fs.Changed

	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if changed("interval") {
		cfg.Interval = f.interval
	}
	if changed("backend") {
		cfg.Backend = f.backend
	}
	if changed("command-timeout") {
		cfg.CommandTimeout = f.commandTimeout
	}
	if changed("metrics") {
		cfg.Metrics = f.metrics
	}
	if f.noHostInfo {
		off := false
		cfg.HostInfo = &off
	}
	if changed("allow-origin") {
		cfg.AllowedOrigins = f.allowOrigins
	}
	if changed("ssh-host") {
		cfg.SSH.Host = f.sshHost
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-file") {
		cfg.Log.File = f.logFile
	}
	if changed("mqtt-server") {
		cfg.MQTT.Server = f.mqttServer
		cfg.MQTT.Enabled = f.mqttServer != ""
	}
	if changed("mqtt-topic") {
		cfg.MQTT.Topic = f.mqttTopic
	}
}
