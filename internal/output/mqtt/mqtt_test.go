package mqtt

import (
	"testing"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	snap := telemetry.Snapshot{
		Time:    time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC),
		Backend: "amd",
		Devices: 2,
		Readings: map[base.Metric]base.Reading{
			base.Voltage:     base.Unavailable(2),
			base.Utilization: {{Index: 0, Value: 40, Valid: true}, {Index: 1}},
		},
	}

	msgs, err := encode("lab/gpu", snap)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "lab/gpu/count", msgs[0].topic)
	assert.JSONEq(t, `{"time":"2025-09-19T14:41:54Z","backend":"amd","metric":"count","values":[2]}`, string(msgs[0].payload))

	assert.Equal(t, "lab/gpu/utilization", msgs[1].topic)
	assert.JSONEq(t, `{
		"time":"2025-09-19T14:41:54Z","backend":"amd","metric":"utilization",
		"unit":"%","values":[40,null],"total":40
	}`, string(msgs[1].payload))

	assert.Equal(t, "lab/gpu/voltage", msgs[2].topic)
	assert.JSONEq(t, `{
		"time":"2025-09-19T14:41:54Z","backend":"amd","metric":"voltage",
		"unit":"mV","values":[null,null]
	}`, string(msgs[2].payload))
}
