package base

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

var (
	// the vendor tool is not installed (or not on PATH of the remote host)
	ErrToolMissing = errors.New("smi tool not found")
	// the tool ran but its output did not carry the expected marker
	ErrUnexpectedOutput = errors.New("unexpected smi output")
	// the tool ran but reported no devices
	ErrNoDevices = errors.New("no devices reported")
	// the backend cannot measure the requested metric at all
	ErrUnsupported = errors.New("metric not supported by backend")
)

type Metric int

const (
	Count Metric = iota
	Utilization
	MemoryUse
	ClockFrequency
	PCIeBandwidth
	Voltage
)

// the metrics that produce one sample per device, in display order
var DeviceMetrics = []Metric{Utilization, MemoryUse, ClockFrequency, PCIeBandwidth, Voltage}

var metricNames = map[Metric]string{
	Count:          "count",
	Utilization:    "utilization",
	MemoryUse:      "memory",
	ClockFrequency: "clock",
	PCIeBandwidth:  "pcie",
	Voltage:        "voltage",
}

var metricUnits = map[Metric]string{
	Utilization:    "%",
	MemoryUse:      "%",
	ClockFrequency: "MHz",
	PCIeBandwidth:  "MB/s",
	Voltage:        "mV",
}

func (m Metric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return "metric(" + strconv.Itoa(int(m)) + ")"
}

func (m Metric) Unit() string {
	return metricUnits[m]
}

// reports whether samples of this metric are whole numbers
func (m Metric) Integer() bool {
	return m != PCIeBandwidth
}

func (m Metric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func ParseMetric(name string) (Metric, error) {
	for m, n := range metricNames {
		if n == name {
			return m, nil
		}
	}
	return 0, errors.New("unknown metric " + strconv.Quote(name))
}

// one measurement for one device. Valid is false when the value could not be
// measured; that is the only "unavailable" representation in the module.
type Sample struct {
	Index int
	Value float64
	Valid bool
}

type sampleJSON struct {
	Index int      `json:"index"`
	Value *float64 `json:"value"`
}

func (s Sample) MarshalJSON() ([]byte, error) {
	out := sampleJSON{Index: s.Index}
	if s.Valid {
		v := s.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var in sampleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.Index = in.Index
	s.Valid = in.Value != nil
	s.Value = 0
	if in.Value != nil {
		s.Value = *in.Value
	}
	return nil
}

// one poll's values, one sample per device in the order the tool emitted them
type Reading []Sample

// a same-length reading of invalid samples for devices 0..n-1
func Unavailable(n int) Reading {
	if n < 0 {
		n = 0
	}
	r := make(Reading, n)
	for i := range r {
		r[i] = Sample{Index: i}
	}
	return r
}

func (r Reading) Len() int { return len(r) }

// values in order; invalid samples are reported as nil
func (r Reading) Values() []*float64 {
	out := make([]*float64, len(r))
	for i, s := range r {
		if s.Valid {
			v := s.Value
			out[i] = &v
		}
	}
	return out
}

func (r Reading) Sum() float64 {
	var sum float64
	for _, s := range r {
		if s.Valid {
			sum += s.Value
		}
	}
	return sum
}

// number of valid samples
func (r Reading) Available() int {
	n := 0
	for _, s := range r {
		if s.Valid {
			n++
		}
	}
	return n
}

// mean of the valid samples; ok is false when none are valid
func (r Reading) Mean() (float64, bool) {
	n := r.Available()
	if n == 0 {
		return 0, false
	}
	return r.Sum() / float64(n), true
}

type RunCmdFunc func(ctx context.Context, name string, args ...string) (string, error)

type Provider interface {
	// returns the vendor name (e.g., "nvidia", "amd")
	Name() string

	// returns true if the required tooling exists on the host
	Detect(ctx context.Context) bool

	// the cached device count
	Count() int

	// re-queries the device count and caches it
	RefreshCount(ctx context.Context) int

	// one fresh reading of a per-device metric; never fails, unmeasurable
	// samples come back invalid
	Query(ctx context.Context, m Metric) Reading
}
