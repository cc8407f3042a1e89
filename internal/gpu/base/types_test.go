package base

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailable(t *testing.T) {
	r := Unavailable(3)
	require.Len(t, r, 3)
	for i, s := range r {
		assert.Equal(t, Sample{Index: i}, s)
	}
	assert.Equal(t, 0, r.Available())
	assert.Empty(t, Unavailable(-1))

	_, ok := r.Mean()
	assert.False(t, ok)
}

func TestReadingAggregates(t *testing.T) {
	r := Reading{
		{Index: 0, Value: 10, Valid: true},
		{Index: 1},
		{Index: 2, Value: 30, Valid: true},
	}

	assert.Equal(t, 40.0, r.Sum())
	assert.Equal(t, 2, r.Available())
	mean, ok := r.Mean()
	assert.True(t, ok)
	assert.Equal(t, 20.0, mean)

	values := r.Values()
	require.Len(t, values, 3)
	assert.Nil(t, values[1])
	assert.Equal(t, 30.0, *values[2])
}

func TestSampleJSON(t *testing.T) {
	r := Reading{{Index: 0, Value: 925, Valid: true}, {Index: 1}}

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"index":0,"value":925},{"index":1,"value":null}]`, string(raw))

	var back Reading
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, r, back)
}

func TestMetricNames(t *testing.T) {
	for _, m := range DeviceMetrics {
		parsed, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	_, err := ParseMetric("temperature")
	assert.Error(t, err)

	assert.Equal(t, "MHz", ClockFrequency.Unit())
	assert.False(t, PCIeBandwidth.Integer())
	assert.True(t, Voltage.Integer())
}
