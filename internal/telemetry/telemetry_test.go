package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func point(ms int64) Point {
	return Point{Time: ms}
}

func TestTimelineRollover(t *testing.T) {
	t.Log("Give a Timeline with rollover=3")
	tl := NewTimeline(3)
	assert.Empty(t, tl.All())

	tl.Add(point(1))
	tl.Add(point(2))
	assert.Equal(t, []Point{point(1), point(2)}, tl.All())

	t.Log("Add [3, 4] => [1, 2, 3, 4] => [2, 3, 4]")
	tl.Add(point(3))
	tl.Add(point(4))
	assert.Equal(t, 3, tl.Len())
	assert.Equal(t, []Point{point(2), point(3), point(4)}, tl.All())
	assert.Equal(t, []Point{point(3), point(4)}, tl.Last(2))
	assert.Equal(t, 3, len(tl.Last(10)))
}

func TestNewPoint(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	snap := Snapshot{
		Time:    at,
		Devices: 2,
		Readings: map[base.Metric]base.Reading{
			base.Utilization:   {{Index: 0, Value: 40, Valid: true}, {Index: 1, Value: 60, Valid: true}},
			base.MemoryUse:     {{Index: 0, Value: 10, Valid: true}, {Index: 1}},
			base.PCIeBandwidth: base.Unavailable(2),
		},
		Host: &host.Info{CPU: host.CPUInfo{Usage: -1}, RAM: host.RAMInfo{UsagePercent: 12.5}},
	}

	p := NewPoint(snap)
	assert.Equal(t, int64(1700000000123), p.Time)
	require.Len(t, p.Utilization, 2)
	assert.Equal(t, 60.0, *p.Utilization[1])
	assert.Nil(t, p.Memory[1])
	assert.Equal(t, 50.0, *p.UtilizationTotal)
	assert.Equal(t, 10.0, *p.MemoryTotal)
	assert.Nil(t, p.PCIeTotal)
	assert.Nil(t, p.CPU)
	assert.Equal(t, 12.5, *p.RAM)
}

func TestSnapshotReadingDefaultsToUnavailable(t *testing.T) {
	snap := Snapshot{Devices: 3, Readings: map[base.Metric]base.Reading{}}
	assert.Equal(t, base.Unavailable(3), snap.Reading(base.Voltage))
}

func TestSnapshotJSONKeysAreMetricNames(t *testing.T) {
	snap := Snapshot{
		Time:    time.Unix(0, 0).UTC(),
		Backend: "amd",
		Devices: 1,
		Readings: map[base.Metric]base.Reading{
			base.Voltage: {{Index: 0, Value: 737, Valid: true}},
		},
	}

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"time": "1970-01-01T00:00:00Z",
		"backend": "amd",
		"devices": 1,
		"readings": {"voltage": [{"index": 0, "value": 737}]}
	}`, string(raw))
}
