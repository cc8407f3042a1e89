package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alpindale/smi-dashboard/internal/config"
	"github.com/alpindale/smi-dashboard/internal/dashboard"
	"github.com/alpindale/smi-dashboard/internal/logging"
	"github.com/alpindale/smi-dashboard/internal/output/console"
	"github.com/alpindale/smi-dashboard/internal/ui"
	"github.com/alpindale/smi-dashboard/internal/version"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const usage = `smi-dashboard - GPU SMI dashboard

Usage:
  smi-dashboard [serve] [port] [flags]   serve the web dashboard (default :8000)
  smi-dashboard top [flags]              live terminal view
  smi-dashboard probe [flags]            poll once and print the readings
  smi-dashboard version [--check]        print the version

Run "smi-dashboard <command> --help" for the flags of a command.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	command := "serve"
	if len(args) > 0 {
		switch args[0] {
		case "serve", "top", "probe", "version":
			command, args = args[0], args[1:]
		case "help", "-h", "--help":
			fmt.Fprint(stdout, usage)
			return nil
		}
	}

	switch command {
	case "top":
		return runTop(ctx, args)
	case "probe":
		return runProbe(ctx, args, stdout)
	case "version":
		return runVersion(ctx, args, stdout)
	default:
		return runServe(ctx, args)
	}
}

func parseFlags(name string, args []string) (*pflag.FlagSet, *config.Flags, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return fs, flags, nil
}

func runServe(ctx context.Context, args []string) error {
	fs, flags, err := parseFlags("serve", args)
	if err != nil {
		return err
	}
	switch fs.NArg() {
	case 0:
	case 1:
		if err := flags.SetPort(fs.Arg(0)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("serve takes at most one port argument")
	}

	cfg, err := flags.Load(os.Getenv)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.startSampler()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sampled := make(chan error, 1)
	go func() { sampled <- s.Run(ctx) }()

	srv := dashboard.New(s, dashboard.Options{
		Rollover:       cfg.Timeline.Rollover,
		HostInfo:       cfg.WantHostInfo(),
		AllowedOrigins: cfg.AllowedOrigins,
		Gatherer:       a.registry,
	}, log)
	log.Info("starting", zap.String("version", version.FullVersion()), zap.Duration("interval", cfg.Interval))

	err = srv.ListenAndServe(ctx, cfg.Listen)
	cancel()
	<-sampled
	return err
}

func runTop(ctx context.Context, args []string) error {
	_, flags, err := parseFlags("top", args)
	if err != nil {
		return err
	}
	cfg, err := flags.Load(os.Getenv)
	if err != nil {
		return err
	}

	// stderr belongs to the terminal view; log only when a file is set
	log := logging.Discard()
	if cfg.Log.File != "" {
		if log, err = logging.New(cfg.Log); err != nil {
			return err
		}
	}
	defer log.Sync()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.startSampler()
	if err != nil {
		return err
	}
	defer s.Close()

	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sampled := make(chan error, 1)
	go func() { sampled <- s.Run(ctx) }()

	model := ui.NewModel(ui.Options{
		Source:       a.source,
		Backend:      s.Backend(),
		Interval:     cfg.Interval,
		Metrics:      s.Metrics(),
		Updates:      updates,
		Refresh:      s.RefreshCount,
		CheckUpdates: true,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	cancel()
	<-sampled

	// a signal cancels ctx, which kills the program
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func runProbe(ctx context.Context, args []string, stdout io.Writer) error {
	_, flags, err := parseFlags("probe", args)
	if err != nil {
		return err
	}
	cfg, err := flags.Load(os.Getenv)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.startSampler(console.NewConsole(stdout))
	if err != nil {
		return err
	}
	defer s.Close()

	s.Poll(ctx)
	return nil
}

func runVersion(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("version", pflag.ContinueOnError)
	check := fs.Bool("check", false, "check GitHub for a newer release")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "smi-dashboard %s (commit %s, built %s)\n", version.FullVersion(), version.GitCommit, version.BuildDate)
	if !*check {
		return nil
	}

	info, err := version.CheckForUpdates(ctx)
	if err != nil {
		return fmt.Errorf("update check: %w", err)
	}
	if info.Available {
		fmt.Fprintf(stdout, "update available: %s (%s)\n", info.LatestVersion, info.URL)
	} else {
		fmt.Fprintln(stdout, "up to date")
	}
	return nil
}
