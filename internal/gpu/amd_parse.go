package gpu

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
)

// every rocm-smi report starts with this banner
const rocmMarker = "ROCm System Management Interface"

// a device line that names the metric but carries an unparsable value
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

var (
	// GPU[3]		: Voltage (mV): 737
	deviceLineRe = regexp.MustCompile(`^\s*GPU\[(\d+)\]\s*:\s*([^:]+?)\s*:\s*(.*?)\s*$`)
	// 3    19.0c  24.0W   930Mhz ...
	conciseRowRe = regexp.MustCompile(`^\s*(\d+)\s+\S`)

	integerRe   = regexp.MustCompile(`^(\d+)$`)
	decimalRe   = regexp.MustCompile(`^(\d+(?:\.\d+)?)$`)
	clockFreqRe = regexp.MustCompile(`(?i)\((\d+)\s*mhz\)`)
)

// how one metric appears in rocm-smi output
type fieldSpec struct {
	// accepted labels of "GPU[i] : <label>: <value>" lines, matched as
	// case-insensitive prefixes
	labels []string
	// extracts the number from the value text
	value *regexp.Regexp
	// concise-info table column used when no labelled line is present
	column string
}

var fieldSpecs = map[base.Metric]fieldSpec{
	base.Utilization: {
		labels: []string{"GPU use (%)"},
		value:  integerRe,
		column: "GPU%",
	},
	base.MemoryUse: {
		labels: []string{"GPU memory use (%)", "GPU Memory Allocated (VRAM%)"},
		value:  integerRe,
		column: "VRAM%",
	},
	base.ClockFrequency: {
		labels: []string{"sclk clock level"},
		value:  clockFreqRe,
	},
	base.PCIeBandwidth: {
		labels: []string{"Estimated maximum PCIe bandwidth"},
		value:  decimalRe,
	},
	base.Voltage: {
		labels: []string{"Voltage (mV)"},
		value:  integerRe,
	},
}

// ParseDeviceCount counts the rows of the concise-info table printed by a bare
// `rocm-smi` call.
func ParseDeviceCount(out string) (int, error) {
	if !strings.Contains(out, rocmMarker) {
		return 0, base.ErrUnexpectedOutput
	}

	count := 0
	inTable := false
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if isConciseHeader(fields) {
			inTable = true
			continue
		}
		if inTable && conciseRowRe.MatchString(line) {
			count++
		}
	}

	if count == 0 {
		return 0, base.ErrNoDevices
	}
	return count, nil
}

func ParseUtilization(out string) (base.Reading, error) {
	return parseMetric(out, base.Utilization)
}

func ParseMemoryUse(out string) (base.Reading, error) {
	return parseMetric(out, base.MemoryUse)
}

func ParseClockFrequency(out string) (base.Reading, error) {
	return parseMetric(out, base.ClockFrequency)
}

func ParsePCIeBandwidth(out string) (base.Reading, error) {
	return parseMetric(out, base.PCIeBandwidth)
}

func ParseVoltage(out string) (base.Reading, error) {
	return parseMetric(out, base.Voltage)
}

// parseMetric extracts one sample per matching device line. Malformed lines
// produce an invalid sample and a *LineError; the rest of the reading is still
// returned.
func parseMetric(out string, m base.Metric) (base.Reading, error) {
	spec, ok := fieldSpecs[m]
	if !ok {
		return nil, fmt.Errorf("%s: %w", m, base.ErrUnsupported)
	}
	if !strings.Contains(out, rocmMarker) {
		return nil, base.ErrUnexpectedOutput
	}

	lines := splitLines(out)
	reading, errs := parseLabelled(lines, spec)
	if len(reading) == 0 && spec.column != "" {
		reading, errs = parseConcise(lines, spec)
	}

	if len(reading) == 0 {
		return base.Reading{}, base.ErrNoDevices
	}
	return reading, errors.Join(errs...)
}

func parseLabelled(lines []string, spec fieldSpec) (base.Reading, []error) {
	var reading base.Reading
	var errs []error

	for n, line := range lines {
		match := deviceLineRe.FindStringSubmatch(line)
		if match == nil || !hasLabel(match[2], spec.labels) {
			continue
		}

		index, err := strconv.Atoi(match[1])
		if err != nil {
			errs = append(errs, &LineError{Line: n + 1, Text: line, Err: err})
			continue
		}

		value, err := extractValue(match[3], spec.value)
		if err != nil {
			errs = append(errs, &LineError{Line: n + 1, Text: line, Err: err})
			reading = append(reading, base.Sample{Index: index})
			continue
		}
		reading = append(reading, base.Sample{Index: index, Value: value, Valid: true})
	}

	return reading, errs
}

// parseConcise reads a column of the concise-info table. Rows whose field
// count differs from the header are aligned from the right, the percentage
// columns being the last ones in every rocm-smi release.
func parseConcise(lines []string, spec fieldSpec) (base.Reading, []error) {
	var reading base.Reading
	var errs []error

	var header []string
	column := -1
	for n, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if isConciseHeader(fields) {
			header = fields
			column = indexOf(fields, spec.column)
			continue
		}
		if column < 0 || !conciseRowRe.MatchString(line) {
			continue
		}

		index, _ := strconv.Atoi(fields[0])
		pos := column
		if len(fields) != len(header) {
			pos = len(fields) - (len(header) - column)
		}
		if pos <= 0 || pos >= len(fields) {
			errs = append(errs, &LineError{Line: n + 1, Text: line, Err: fmt.Errorf("no %s column", spec.column)})
			reading = append(reading, base.Sample{Index: index})
			continue
		}

		value, err := extractValue(strings.TrimSuffix(fields[pos], "%"), spec.value)
		if err != nil {
			errs = append(errs, &LineError{Line: n + 1, Text: line, Err: err})
			reading = append(reading, base.Sample{Index: index})
			continue
		}
		reading = append(reading, base.Sample{Index: index, Value: value, Valid: true})
	}

	return reading, errs
}

func extractValue(text string, re *regexp.Regexp) (float64, error) {
	match := re.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return 0, fmt.Errorf("value %q does not match %s", text, re)
	}
	return strconv.ParseFloat(match[1], 64)
}

func hasLabel(label string, labels []string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	for _, l := range labels {
		if strings.HasPrefix(label, strings.ToLower(l)) {
			return true
		}
	}
	return false
}

func isConciseHeader(fields []string) bool {
	return fields[0] == "GPU" || fields[0] == "Device"
}

func indexOf(fields []string, name string) int {
	for i, f := range fields {
		if f == name {
			return i
		}
	}
	return -1
}

func splitLines(out string) []string {
	return strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
}
