package gpu

import (
	"context"
	"errors"
	"testing"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewAMDCachesDeviceCount(t *testing.T) {
	runner := newFakeRunner().on("rocm-smi", conciseEight)

	p := NewAMD(context.Background(), runner.run, zap.NewNop(), nil)

	assert.Equal(t, 8, p.Count())
	assert.Equal(t, []string{"rocm-smi"}, runner.called())
}

func TestAMDQueriesUseMetricFlags(t *testing.T) {
	runner := newFakeRunner().
		on("rocm-smi", conciseEight).
		on("rocm-smi -g", clockEight)
	p := NewAMD(context.Background(), runner.run, zap.NewNop(), nil)

	got := p.ClockFrequency(context.Background())
	assert.Equal(t, 8, got.Len())
	assert.Equal(t, 7435.0, got.Sum())

	p.Utilization(context.Background())
	p.MemoryUse(context.Background())
	p.PCIeBandwidth(context.Background())
	p.Voltage(context.Background())

	assert.Equal(t, []string{
		"rocm-smi",
		"rocm-smi -g",
		"rocm-smi -u",
		"rocm-smi --showmemuse",
		"rocm-smi -b",
		"rocm-smi --showvoltage",
	}, runner.called())
}

func TestAMDMasksUnexpectedOutput(t *testing.T) {
	for _, text := range toolMissing {
		t.Run(text, func(t *testing.T) {
			runner := newFakeRunner().on("rocm-smi", conciseEight)
			obs := &fakeObserver{}
			p := NewAMD(context.Background(), runner.run, zap.NewNop(), obs)

			for _, m := range base.DeviceMetrics {
				runner.on("rocm-smi "+amdFlags[m], text)

				got := p.Query(context.Background(), m)
				require.Equal(t, 8, got.Len(), m.String())
				for i, s := range got {
					assert.Equal(t, base.Sample{Index: i}, s, m.String())
				}
			}

			assert.Len(t, obs.reasons(), len(base.DeviceMetrics))
			for _, reason := range obs.reasons() {
				assert.Equal(t, ReasonUnexpectedOutput, reason)
			}
		})
	}
}

func TestAMDToolMissing(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	obs := &fakeObserver{}

	// nothing registered: every call reports the tool as missing
	p := NewAMD(context.Background(), newFakeRunner().run, zap.New(core), obs)

	assert.Equal(t, 0, p.Count())
	assert.Empty(t, p.Voltage(context.Background()))
	assert.Equal(t, []string{ReasonToolMissing, ReasonToolMissing}, obs.reasons())

	entries := logs.FilterMessage("smi query masked").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "count", entries[0].ContextMap()["metric"])
	assert.Equal(t, ReasonToolMissing, entries[1].ContextMap()["reason"])
}

func TestAMDNoDevicesKeepsCachedCount(t *testing.T) {
	runner := newFakeRunner().
		on("rocm-smi", conciseEight).
		on("rocm-smi -u", rocmReport(busySection))
	obs := &fakeObserver{}
	p := NewAMD(context.Background(), runner.run, zap.NewNop(), obs)

	got := p.Utilization(context.Background())
	assert.Equal(t, base.Unavailable(8), got)
	assert.Equal(t, []string{ReasonNoDevices}, obs.reasons())
}

func TestAMDMalformedLineReturnsPartialReading(t *testing.T) {
	runner := newFakeRunner().
		on("rocm-smi", conciseEight).
		on("rocm-smi --showvoltage", rocmReport(voltageSection,
			"GPU[0]\t\t: Voltage (mV): 737",
			"GPU[1]\t\t: Voltage (mV): ???",
		))
	obs := &fakeObserver{}
	p := NewAMD(context.Background(), runner.run, zap.NewNop(), obs)

	got := p.Voltage(context.Background())
	require.Equal(t, 2, got.Len())
	assert.True(t, got[0].Valid)
	assert.False(t, got[1].Valid)
	assert.Equal(t, []string{ReasonMalformedLine}, obs.reasons())
}

func TestAMDParsesReportDespiteExitStatus(t *testing.T) {
	runner := newFakeRunner().
		on("rocm-smi", conciseEight).
		on("rocm-smi -g", clockEight).
		fail("rocm-smi -g", errors.New("exit status 2"))
	p := NewAMD(context.Background(), runner.run, zap.NewNop(), nil)

	assert.Equal(t, 7435.0, p.ClockFrequency(context.Background()).Sum())
}

func TestAMDRefreshCount(t *testing.T) {
	runner := newFakeRunner().on("rocm-smi", rocmReport(conciseSection))
	p := NewAMD(context.Background(), runner.run, zap.NewNop(), nil)
	require.Equal(t, 0, p.Count())

	runner.on("rocm-smi", conciseEight)
	assert.Equal(t, 8, p.RefreshCount(context.Background()))
	assert.Equal(t, 8, p.Count())
}

func TestAMDRejectsCountMetric(t *testing.T) {
	runner := newFakeRunner().on("rocm-smi", conciseEight)
	obs := &fakeObserver{}
	p := NewAMD(context.Background(), runner.run, zap.NewNop(), obs)

	assert.Equal(t, base.Unavailable(8), p.Query(context.Background(), base.Count))
	assert.Equal(t, []string{ReasonUnsupported}, obs.reasons())
	assert.Equal(t, []string{"rocm-smi"}, runner.called())
}

func TestAMDDetect(t *testing.T) {
	runner := newFakeRunner().on("rocm-smi", conciseEight)
	p := NewAMD(context.Background(), runner.run, nil, nil)
	assert.False(t, p.Detect(context.Background()))

	runner.on("which rocm-smi", "/opt/rocm/bin/rocm-smi\n")
	assert.True(t, p.Detect(context.Background()))
}
