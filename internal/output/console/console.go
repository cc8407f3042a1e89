package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/output"
	"github.com/alpindale/smi-dashboard/internal/telemetry"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole(w io.Writer) output.Output { return &ConsoleOutput{w: w} }

// Publish writes the device count and then one line per polled metric, in
// display order.
func (c *ConsoleOutput) Publish(snap telemetry.Snapshot) error {
	ts := snap.Time.Format(time.RFC3339)
	if _, err := fmt.Fprintf(c.w, "%s backend=%s metric=count value=%d\n", ts, snap.Backend, snap.Devices); err != nil {
		return err
	}

	for _, m := range base.DeviceMetrics {
		r, ok := snap.Readings[m]
		if !ok {
			continue
		}
		_, err := fmt.Fprintf(c.w, "%s backend=%s metric=%s unit=%s values=[%s] available=%d/%d\n",
			ts, snap.Backend, m, m.Unit(), FormatReading(m, r), r.Available(), r.Len())
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }

// FormatReading renders the samples separated by spaces, with N/A for
// unavailable ones.
func FormatReading(m base.Metric, r base.Reading) string {
	parts := make([]string, len(r))
	for i, s := range r {
		parts[i] = FormatSample(m, s)
	}
	return strings.Join(parts, " ")
}

func FormatSample(m base.Metric, s base.Sample) string {
	if !s.Valid {
		return "N/A"
	}
	if m.Integer() {
		return strconv.FormatFloat(s.Value, 'f', 0, 64)
	}
	return strconv.FormatFloat(s.Value, 'f', 3, 64)
}
