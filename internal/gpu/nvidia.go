package gpu

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"go.uber.org/zap"
)

const nvidiaSMI = "nvidia-smi"

// query-gpu fields per metric, after the leading index column
var nvidiaFields = map[base.Metric][]string{
	base.Utilization:    {"utilization.gpu"},
	base.MemoryUse:      {"memory.used", "memory.total"},
	base.ClockFrequency: {"clocks.sm"},
}

// NvidiaProvider reads the same per-device metrics from nvidia-smi's CSV
// query mode. PCIe bandwidth and voltage are not exposed by nvidia-smi and are
// always unavailable.
type NvidiaProvider struct {
	runCmd base.RunCmdFunc
	report failureReporter
	gpus   atomic.Int64
}

func NewNvidia(ctx context.Context, runCmd base.RunCmdFunc, log *zap.Logger, obs FailureObserver) *NvidiaProvider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &NvidiaProvider{
		runCmd: runCmd,
		report: failureReporter{backend: "nvidia", log: log.Named("nvidia"), obs: obs},
	}
	p.RefreshCount(ctx)
	return p
}

func (p *NvidiaProvider) Name() string {
	return "nvidia"
}

func (p *NvidiaProvider) Detect(ctx context.Context) bool {
	_, err := p.runCmd(ctx, "which", nvidiaSMI)
	return err == nil
}

func (p *NvidiaProvider) Count() int {
	return int(p.gpus.Load())
}

func (p *NvidiaProvider) RefreshCount(ctx context.Context) int {
	rows, err := p.query(ctx, nil)
	n := len(rows)
	if err == nil && n == 0 {
		err = base.ErrNoDevices
	}
	if err != nil {
		p.report.report(base.Count, err)
		n = 0
	}
	p.gpus.Store(int64(n))
	return n
}

func (p *NvidiaProvider) Query(ctx context.Context, m base.Metric) base.Reading {
	fields, ok := nvidiaFields[m]
	if !ok {
		p.report.report(m, fmt.Errorf("%s: %w", m, base.ErrUnsupported))
		return base.Unavailable(p.Count())
	}

	rows, err := p.query(ctx, fields)
	if err != nil {
		p.report.report(m, err)
		return base.Unavailable(p.Count())
	}

	reading := make(base.Reading, 0, len(rows))
	var errs []error
	for _, row := range rows {
		sample, err := nvidiaSample(m, row)
		if err != nil {
			errs = append(errs, &LineError{Line: row.line, Text: row.text, Err: err})
		}
		reading = append(reading, sample)
	}
	if len(reading) == 0 {
		p.report.report(m, base.ErrNoDevices)
		return base.Unavailable(p.Count())
	}
	if err := errors.Join(errs...); err != nil {
		p.report.report(m, err)
	}
	return reading
}

type nvidiaRow struct {
	index  int
	values []string
	line   int
	text   string
}

func (p *NvidiaProvider) query(ctx context.Context, fields []string) ([]nvidiaRow, error) {
	query := "--query-gpu=" + strings.Join(append([]string{"index"}, fields...), ",")
	output, err := p.runCmd(ctx, nvidiaSMI, query, "--format=csv,noheader,nounits")
	if err != nil {
		if errors.Is(err, base.ErrToolMissing) {
			return nil, err
		}
		return nil, errors.Join(base.ErrUnexpectedOutput, err)
	}
	return parseNvidiaCSV(output, len(fields)+1)
}

// parseNvidiaCSV keeps the rows that have the expected column count and an
// integer index. Output without a single such row is unexpected.
func parseNvidiaCSV(output string, columns int) ([]nvidiaRow, error) {
	var rows []nvidiaRow
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for n, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != columns {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}

		values := make([]string, 0, len(parts)-1)
		for _, part := range parts[1:] {
			values = append(values, strings.TrimSpace(part))
		}
		rows = append(rows, nvidiaRow{index: index, values: values, line: n + 1, text: line})
	}

	if len(rows) == 0 && strings.TrimSpace(output) != "" {
		return nil, base.ErrUnexpectedOutput
	}
	return rows, nil
}

func nvidiaSample(m base.Metric, row nvidiaRow) (base.Sample, error) {
	sample := base.Sample{Index: row.index}

	if m == base.MemoryUse {
		used, err := strconv.ParseFloat(row.values[0], 64)
		if err != nil {
			return sample, err
		}
		total, err := strconv.ParseFloat(row.values[1], 64)
		if err != nil {
			return sample, err
		}
		if total <= 0 {
			return sample, fmt.Errorf("memory.total %v", total)
		}
		sample.Value = float64(int(used / total * 100))
		sample.Valid = true
		return sample, nil
	}

	val, err := strconv.ParseFloat(row.values[0], 64)
	if err != nil {
		return sample, err
	}
	sample.Value = val
	sample.Valid = true
	return sample, nil
}
