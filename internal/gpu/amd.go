package gpu

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"go.uber.org/zap"
)

const rocmSMI = "rocm-smi"

// rocm-smi flag per metric; the device count uses a bare invocation
var amdFlags = map[base.Metric]string{
	base.Utilization:    "-u",
	base.MemoryUse:      "--showmemuse",
	base.ClockFrequency: "-g",
	base.PCIeBandwidth:  "-b", // takes a few seconds
	base.Voltage:        "--showvoltage",
}

var amdParsers = map[base.Metric]func(string) (base.Reading, error){
	base.Utilization:    ParseUtilization,
	base.MemoryUse:      ParseMemoryUse,
	base.ClockFrequency: ParseClockFrequency,
	base.PCIeBandwidth:  ParsePCIeBandwidth,
	base.Voltage:        ParseVoltage,
}

// AMDProvider reads device properties from rocm-smi. Every query runs the
// tool anew; failures are logged and masked with unavailable samples sized by
// the device count cached at construction.
type AMDProvider struct {
	runCmd base.RunCmdFunc
	report failureReporter
	gpus   atomic.Int64
}

func NewAMD(ctx context.Context, runCmd base.RunCmdFunc, log *zap.Logger, obs FailureObserver) *AMDProvider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &AMDProvider{
		runCmd: runCmd,
		report: failureReporter{backend: "amd", log: log.Named("amd"), obs: obs},
	}
	p.RefreshCount(ctx)
	return p
}

func (p *AMDProvider) Name() string {
	return "amd"
}

func (p *AMDProvider) Detect(ctx context.Context) bool {
	_, err := p.runCmd(ctx, "which", rocmSMI)
	return err == nil
}

func (p *AMDProvider) Count() int {
	return int(p.gpus.Load())
}

// RefreshCount re-runs the bare rocm-smi report. A missing tool, unexpected
// output or an empty table all leave a count of zero.
func (p *AMDProvider) RefreshCount(ctx context.Context) int {
	n, err := p.queryCount(ctx)
	if err != nil {
		p.report.report(base.Count, err)
		n = 0
	}
	p.gpus.Store(int64(n))
	return n
}

func (p *AMDProvider) queryCount(ctx context.Context) (int, error) {
	out, err := p.runCmd(ctx, rocmSMI)
	if err = invocationError(out, err); err != nil {
		return 0, err
	}
	return ParseDeviceCount(out)
}

func (p *AMDProvider) Utilization(ctx context.Context) base.Reading {
	return p.Query(ctx, base.Utilization)
}

func (p *AMDProvider) MemoryUse(ctx context.Context) base.Reading {
	return p.Query(ctx, base.MemoryUse)
}

func (p *AMDProvider) ClockFrequency(ctx context.Context) base.Reading {
	return p.Query(ctx, base.ClockFrequency)
}

func (p *AMDProvider) PCIeBandwidth(ctx context.Context) base.Reading {
	return p.Query(ctx, base.PCIeBandwidth)
}

func (p *AMDProvider) Voltage(ctx context.Context) base.Reading {
	return p.Query(ctx, base.Voltage)
}

func (p *AMDProvider) Query(ctx context.Context, m base.Metric) base.Reading {
	flag, ok := amdFlags[m]
	if !ok {
		p.report.report(m, base.ErrUnsupported)
		return base.Unavailable(p.Count())
	}

	out, err := p.runCmd(ctx, rocmSMI, flag)
	if err = invocationError(out, err); err != nil {
		p.report.report(m, err)
		return base.Unavailable(p.Count())
	}

	reading, err := amdParsers[m](out)
	if err != nil {
		var lineErr *LineError
		p.report.report(m, err)
		if errors.As(err, &lineErr) && len(reading) > 0 {
			return reading
		}
		return base.Unavailable(p.Count())
	}
	return reading
}

// invocationError decides whether a runner failure is terminal. rocm-smi exits
// non-zero on some warnings while still printing a full report, so output
// carrying the marker is parsed regardless.
func invocationError(out string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, base.ErrToolMissing) {
		return err
	}
	if strings.Contains(out, rocmMarker) {
		return nil
	}
	return errors.Join(base.ErrUnexpectedOutput, err)
}
