package gpu

import (
	"context"
	"strings"
	"sync"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
)

const (
	rocmHeader = "\n\n======================= ROCm System Management Interface =======================\n"
	rocmFooter = "================================================================================\n" +
		"============================= End of ROCm SMI Log ==============================\n"
)

// rocmReport wraps device lines in the banner, section title and footer that
// rocm-smi prints around every report
func rocmReport(section string, lines ...string) string {
	var b strings.Builder
	b.WriteString(rocmHeader)
	b.WriteString(section)
	b.WriteString("\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString(rocmFooter)
	return b.String()
}

const (
	conciseSection = "================================= Concise Info ================================="
	busySection    = "============================== % time GPU is busy =============================="
	clockSection   = "========================== Current clock frequencies ==========================="
	pcieSection    = "=========================== Measured PCIe Bandwidth ============================"
	voltageSection = "=============================== Current voltage ================================"
	memuseSection  = "============================== Current Memory Use =============================="
)

var conciseEight = rocmReport(conciseSection,
	"GPU  Temp   AvgPwr  SCLK    MCLK    Fan   Perf  PwrCap  VRAM%  GPU% ",
	"0    20.0c  14.0W   925Mhz  350Mhz  0.0%  auto  225.0W    0%   0%   ",
	"1    22.0c  19.0W   930Mhz  350Mhz  0.0%  auto  225.0W    0%   0%   ",
	"2    18.0c  17.0W   930Mhz  350Mhz  0.0%  auto  225.0W    0%   0%   ",
	"3    19.0c  24.0W   930Mhz  350Mhz  0.0%  auto  225.0W    0%   0%   ",
	"4    22.0c  17.0W   930Mhz  350Mhz  0.0%  auto  225.0W    0%   0%   ",
	"5    22.0c  15.0W   930Mhz  350Mhz  0.0%  auto  225.0W    0%   0%   ",
	"6    20.0c  18.0W   930Mhz  350Mhz  0.0%  auto  225.0W    0%   0%   ",
	"7    22.0c  16.0W   930Mhz  350Mhz  0.0%  auto  225.0W    0%   0%   ",
)

var clockEight = rocmReport(clockSection,
	"GPU[0]\t\t: sclk clock level: 0 (925Mhz)",
	"GPU[1]\t\t: sclk clock level: 1 (930Mhz)",
	"GPU[2]\t\t: sclk clock level: 1 (930Mhz)",
	"GPU[3]\t\t: sclk clock level: 1 (930Mhz)",
	"GPU[4]\t\t: sclk clock level: 1 (930Mhz)",
	"GPU[5]\t\t: sclk clock level: 1 (930Mhz)",
	"GPU[6]\t\t: sclk clock level: 1 (930Mhz)",
	"GPU[7]\t\t: sclk clock level: 1 (930Mhz)",
)

var toolMissing = []string{
	"rocm-smi: command not found",
	"-sh: rocm-smi: not found",
}

// fakeRunner answers invocations from a table keyed by the joined command
// line and records every call
type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeRunner) on(cmd, out string) *fakeRunner {
	f.outputs[cmd] = out
	return f
}

func (f *fakeRunner) fail(cmd string, err error) *fakeRunner {
	f.errs[cmd] = err
	return f
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) (string, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	if err, ok := f.errs[cmd]; ok {
		return f.outputs[cmd], err
	}
	out, ok := f.outputs[cmd]
	if !ok {
		return "", base.ErrToolMissing
	}
	return out, nil
}

func (f *fakeRunner) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type recordedFailure struct {
	backend string
	metric  base.Metric
	reason  string
}

type fakeObserver struct {
	mu       sync.Mutex
	failures []recordedFailure
}

func (o *fakeObserver) QueryFailed(backend string, m base.Metric, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, recordedFailure{backend, m, reason})
}

func (o *fakeObserver) reasons() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.failures))
	for i, f := range o.failures {
		out[i] = f.reason
	}
	return out
}
