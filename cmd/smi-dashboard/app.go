package main

import (
	"context"
	"fmt"

	"github.com/alpindale/smi-dashboard/internal/config"
	"github.com/alpindale/smi-dashboard/internal/gpu"
	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/observability"
	"github.com/alpindale/smi-dashboard/internal/output"
	"github.com/alpindale/smi-dashboard/internal/output/mqtt"
	"github.com/alpindale/smi-dashboard/internal/runner"
	"github.com/alpindale/smi-dashboard/internal/sampler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds what every subcommand needs: the command runner for the
// monitored machine, the selected backend and the metrics registry.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	source   string
	runCmd   base.RunCmdFunc
	provider base.Provider
	registry *prometheus.Registry
	metrics  *observability.Metrics
	ssh      *runner.SSHClient
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, source: "localhost"}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.New(a.registry)

	if cfg.SSH.Host != "" {
		host, err := runner.LookupSSHHost(cfg.SSH.ConfigPath, cfg.SSH.Host)
		if err != nil {
			return nil, err
		}
		client, err := runner.DialSSH(host, cfg.CommandTimeout)
		if err != nil {
			return nil, err
		}
		log.Info("connected", zap.String("host", host.Name), zap.String("hostname", host.Hostname))
		a.ssh = client
		a.runCmd = client.Run
		a.source = host.Name
	} else {
		a.runCmd = runner.Local(cfg.CommandTimeout)
	}

	provider, err := gpu.Select(ctx, cfg.Backend, a.runCmd, log, a.metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.provider = provider
	log.Info("backend selected",
		zap.String("backend", provider.Name()),
		zap.Int("devices", provider.Count()),
		zap.String("source", a.source))

	return a, nil
}

// startSampler resolves the sampler options before it opens the outputs,
// so a bad configuration leaves no broker connection behind. The extra
// outputs are closed on failure.
func (a *app) startSampler(extra ...output.Output) (*sampler.Sampler, error) {
	opts, err := a.samplerOptions()
	if err != nil {
		a.closeOutputs(extra)
		return nil, err
	}

	outs := append([]output.Output(nil), extra...)
	if a.cfg.MQTT.Enabled {
		out, err := mqtt.NewMQTT(a.cfg.MQTT, a.log)
		if err != nil {
			a.closeOutputs(outs)
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		outs = append(outs, out)
	}
	return sampler.New(a.provider, opts, a.log, a.metrics, outs...), nil
}

func (a *app) samplerOptions() (sampler.Options, error) {
	metrics, err := a.cfg.EnabledMetrics()
	if err != nil {
		return sampler.Options{}, err
	}

	opts := sampler.Options{
		Interval:         a.cfg.Interval,
		TimelineInterval: a.cfg.Timeline.Interval,
		Rollover:         a.cfg.Timeline.Rollover,
		Metrics:          metrics,
	}
	if a.cfg.WantHostInfo() {
		opts.HostCmd = a.runCmd
	}
	return opts, nil
}

func (a *app) closeOutputs(outs []output.Output) {
	for _, out := range outs {
		if err := out.Close(); err != nil {
			a.log.Warn("closing output", zap.Error(err))
		}
	}
}

func (a *app) Close() {
	if a.ssh != nil {
		if err := a.ssh.Close(); err != nil {
			a.log.Warn("closing ssh connection", zap.Error(err))
		}
	}
}
