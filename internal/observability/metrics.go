package observability

import (
	"strconv"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/host"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smi_dashboard"

// Metrics exports the sampled readings as Prometheus gauges. Unavailable
// samples remove their series instead of reporting a placeholder value.
type Metrics struct {
	devices   map[base.Metric]*prometheus.GaugeVec
	gpuCount  prometheus.Gauge
	failures  *prometheus.CounterVec
	pollTime  prometheus.Histogram
	hostCPU   prometheus.Gauge
	hostRAM   prometheus.Gauge
	lastPolls prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	deviceGauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"gpu"})
	}

	m := &Metrics{
		devices: map[base.Metric]*prometheus.GaugeVec{
			base.Utilization:    deviceGauge("gpu_utilization_percent", "GPU busy time in percent."),
			base.MemoryUse:      deviceGauge("gpu_memory_use_percent", "GPU memory in use in percent."),
			base.ClockFrequency: deviceGauge("gpu_sclk_megahertz", "Current shader clock frequency."),
			base.PCIeBandwidth:  deviceGauge("gpu_pcie_bandwidth_megabytes_per_second", "Estimated maximum PCIe bandwidth over the last second."),
			base.Voltage:        deviceGauge("gpu_voltage_millivolts", "Current GPU voltage."),
		},
		gpuCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gpu_count",
			Help:      "Number of devices reported by the smi tool.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_failures_total",
			Help:      "Queries masked with unavailable samples, by reason.",
		}, []string{"backend", "metric", "reason"}),
		pollTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Wall time of one poll round over all metrics.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		hostCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_usage_percent",
			Help:      "Host CPU usage in percent.",
		}),
		hostRAM: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_usage_percent",
			Help:      "Host memory usage in percent.",
		}),
		lastPolls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_poll_timestamp_seconds",
			Help:      "Unix time of the last completed poll.",
		}),
	}

	if reg != nil {
		for _, g := range m.devices {
			reg.MustRegister(g)
		}
		reg.MustRegister(m.gpuCount, m.failures, m.pollTime, m.hostCPU, m.hostRAM, m.lastPolls)
	}
	return m
}

// QueryFailed implements gpu.FailureObserver.
func (m *Metrics) QueryFailed(backend string, metric base.Metric, reason string) {
	m.failures.WithLabelValues(backend, metric.String(), reason).Inc()
}

func (m *Metrics) ObserveReading(metric base.Metric, r base.Reading) {
	g, ok := m.devices[metric]
	if !ok {
		return
	}
	// devices missing from r lose their series too
	g.Reset()
	for _, s := range r {
		if s.Valid {
			g.WithLabelValues(strconv.Itoa(s.Index)).Set(s.Value)
		}
	}
}

func (m *Metrics) SetDeviceCount(n int) {
	m.gpuCount.Set(float64(n))
}

func (m *Metrics) ObservePoll(took time.Duration, at time.Time) {
	m.pollTime.Observe(took.Seconds())
	m.lastPolls.Set(float64(at.Unix()))
}

func (m *Metrics) ObserveHost(info host.Info) {
	if info.CPU.Usage >= 0 {
		m.hostCPU.Set(info.CPU.Usage)
	}
	m.hostRAM.Set(info.RAM.UsagePercent)
}
