package gpu

import (
	"context"
	"fmt"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"go.uber.org/zap"
)

const (
	BackendAuto   = "auto"
	BackendAMD    = "amd"
	BackendNvidia = "nvidia"
)

type constructor func(context.Context, base.RunCmdFunc, *zap.Logger, FailureObserver) base.Provider

// the list of all available GPU providers
// They will be checked in order, and the first one that detects
// its tooling on the host will be used
var providers = []struct {
	name string
	new  constructor
}{
	{BackendAMD, func(ctx context.Context, run base.RunCmdFunc, log *zap.Logger, obs FailureObserver) base.Provider {
		return NewAMD(ctx, run, log, obs)
	}},
	{BackendNvidia, func(ctx context.Context, run base.RunCmdFunc, log *zap.Logger, obs FailureObserver) base.Provider {
		return NewNvidia(ctx, run, log, obs)
	}},
}

// Select builds the provider for the configured backend. With "auto" the
// first provider whose tool is installed wins; when none is, the AMD provider
// is returned so every query degrades to unavailable samples.
func Select(ctx context.Context, backend string, runCmd base.RunCmdFunc, log *zap.Logger, obs FailureObserver) (base.Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}

	switch backend {
	case BackendAMD, BackendNvidia:
		for _, p := range providers {
			if p.name == backend {
				return p.new(ctx, runCmd, log, obs), nil
			}
		}
	case BackendAuto, "":
		for _, p := range providers {
			if detect(ctx, runCmd, p.name) {
				log.Info("gpu backend detected", zap.String("backend", p.name))
				return p.new(ctx, runCmd, log, obs), nil
			}
		}
		log.Warn("no smi tool detected, falling back", zap.String("backend", BackendAMD))
		return NewAMD(ctx, runCmd, log, obs), nil
	}

	return nil, fmt.Errorf("unknown gpu backend %q", backend)
}

// detect checks for the tool without building the provider, which would
// already invoke it for the device count
func detect(ctx context.Context, runCmd base.RunCmdFunc, backend string) bool {
	tool := rocmSMI
	if backend == BackendNvidia {
		tool = nvidiaSMI
	}
	_, err := runCmd(ctx, "which", tool)
	return err == nil
}
