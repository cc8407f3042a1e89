package observability

import (
	"testing"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/host"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveReading(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveReading(base.ClockFrequency, base.Reading{
		{Index: 0, Value: 925, Valid: true},
		{Index: 1, Value: 930, Valid: true},
	})
	g := m.devices[base.ClockFrequency]
	assert.Equal(t, 925.0, testutil.ToFloat64(g.WithLabelValues("0")))
	assert.Equal(t, 2, testutil.CollectAndCount(g))

	m.ObserveReading(base.ClockFrequency, base.Unavailable(2))
	assert.Equal(t, 0, testutil.CollectAndCount(g))
}

func TestObserveReadingDropsMissingDevices(t *testing.T) {
	m := New(prometheus.NewRegistry())
	g := m.devices[base.Voltage]

	m.ObserveReading(base.Voltage, base.Reading{
		{Index: 0, Value: 737, Valid: true},
		{Index: 1, Value: 740, Valid: true},
	})
	require.Equal(t, 2, testutil.CollectAndCount(g))

	m.ObserveReading(base.Voltage, base.Reading{{Index: 0, Value: 750, Valid: true}})
	assert.Equal(t, 1, testutil.CollectAndCount(g))
	assert.Equal(t, 750.0, testutil.ToFloat64(g.WithLabelValues("0")))

	m.ObserveReading(base.Voltage, base.Unavailable(0))
	assert.Equal(t, 0, testutil.CollectAndCount(g))
}

func TestQueryFailedCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.QueryFailed("amd", base.Voltage, "tool_missing")
	m.QueryFailed("amd", base.Voltage, "tool_missing")
	m.QueryFailed("amd", base.PCIeBandwidth, "malformed_line")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.failures.WithLabelValues("amd", "voltage", "tool_missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("amd", "pcie", "malformed_line")))
}

func TestPollAndHostGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	at := time.Unix(1700000000, 0)
	m.ObservePoll(250*time.Millisecond, at)
	m.SetDeviceCount(8)
	m.ObserveHost(host.Info{CPU: host.CPUInfo{Usage: -1}, RAM: host.RAMInfo{UsagePercent: 40}})

	assert.Equal(t, 1, testutil.CollectAndCount(m.pollTime))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastPolls))
	assert.Equal(t, 8.0, testutil.ToFloat64(m.gpuCount))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.hostCPU))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.hostRAM))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
