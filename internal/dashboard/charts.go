package dashboard

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/telemetry"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RdYlBu with four classes, low values first
var rdYlBu4 = []string{"#d7191c", "#fdae61", "#abd9e9", "#2c7bb6"}

// line colors, one per device, cycled
var deviceColors = opts.Colors{
	"blue", "red", "green", "black", "brown",
	"cyan", "orange", "pink", "purple", "gold",
}

const (
	chartWidth  = "100%"
	chartHeight = "85vh"
	paneHeight  = "40vh"
)

// a bar chart of one metric, one bar per device
type barSpec struct {
	id         string
	title      string
	metric     base.Metric
	horizontal bool
	// value axis range; max 0 leaves it to the chart
	min, max float64
	// upper end of the color scale; 0 disables color mapping
	colorHigh float32
}

var (
	utilizationBar = barSpec{
		id: "gpu_utilization", title: "GPU Utilization [%]",
		metric: base.Utilization, horizontal: true, max: 100, colorHigh: 100,
	}
	memoryBar = barSpec{
		id: "gpu_memory", title: "GPU Memory Utilization [%]",
		metric: base.MemoryUse, horizontal: true, max: 100, colorHigh: 100,
	}
	clockBar = barSpec{
		id: "gpu_clock", title: "GPU Clock Frequency [MHz]",
		metric: base.ClockFrequency, max: 2200, colorHigh: 4000,
	}
	pcieBar = barSpec{
		id: "gpu_pcie", title: "Estimated PCIe Bandwidth [MB/s]",
		metric: base.PCIeBandwidth,
	}
	voltageBar = barSpec{
		id: "gpu_voltage", title: "GPU Voltage [mV]",
		metric: base.Voltage,
	}
)

func deviceLabel(i int) string {
	return "GPU " + strconv.Itoa(i)
}

// barValue renders a sample as bar data; "-" is an empty bar
func barValue(s base.Sample) any {
	if !s.Valid {
		return "-"
	}
	return s.Value
}

func newBarChart(spec barSpec, snap telemetry.Snapshot) *charts.Bar {
	reading := snap.Reading(spec.metric)

	labels := make([]string, len(reading))
	data := make([]opts.BarData, len(reading))
	for i, s := range reading {
		labels[i] = deviceLabel(s.Index)
		data[i] = opts.BarData{Name: labels[i], Value: barValue(s)}
	}

	valueAxis := opts.XAxis{Type: "value", Name: spec.metric.Unit(), Min: spec.min}
	if spec.max > 0 {
		valueAxis.Max = spec.max
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: spec.title,
			ChartID:   spec.id,
			Width:     chartWidth,
			Height:    chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{Title: spec.title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	if spec.horizontal {
		bar.SetGlobalOptions(
			charts.WithXAxisOpts(valueAxis),
			charts.WithYAxisOpts(opts.YAxis{Type: "category"}),
		)
		bar.XYReversal()
	} else {
		bar.SetGlobalOptions(
			charts.WithXAxisOpts(opts.XAxis{Type: "category"}),
			charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: spec.metric.Unit(), Min: valueAxis.Min, Max: valueAxis.Max}),
		)
	}
	if spec.colorHigh > 0 {
		bar.SetGlobalOptions(charts.WithVisualMapOpts(opts.VisualMap{
			Show:    opts.Bool(false),
			Min:     0,
			Max:     spec.colorHigh,
			InRange: &opts.VisualMapInRange{Color: rdYlBu4},
		}))
	}

	bar.SetXAxis(labels).AddSeries(spec.metric.String(), data)
	bar.AddJSFuncs(barStreamJS(spec))
	return bar
}

// a line chart fed from timeline points
type lineSpec struct {
	id    string
	title string
	unit  string
	max   float64
	// series names; nil means one series per device
	names []string
	// JS expression over the point p yielding the series values
	pick   string
	values func(telemetry.Point) []*float64
}

var (
	utilizationLine = lineSpec{
		id: "timeline_utilization", title: "GPU Utilization (per Device) [%]", unit: "%", max: 100,
		pick:   "p.utilization",
		values: func(p telemetry.Point) []*float64 { return p.Utilization },
	}
	memoryLine = lineSpec{
		id: "timeline_memory", title: "GPU Memory Utilization (per Device) [%]", unit: "%", max: 100,
		pick:   "p.memory",
		values: func(p telemetry.Point) []*float64 { return p.Memory },
	}
	totalsLine = lineSpec{
		id: "timeline_totals", title: "Total Utilization [%]", unit: "%", max: 100,
		names:  []string{"Total-GPU", "Total-Memory"},
		pick:   "[p.utilization_total, p.memory_total]",
		values: func(p telemetry.Point) []*float64 { return []*float64{p.UtilizationTotal, p.MemoryTotal} },
	}
	pcieLine = lineSpec{
		id: "timeline_pcie", title: "Total PCIe Bandwidth [MB/s]", unit: "MB/s",
		names:  []string{"PCIe"},
		pick:   "[p.pcie_total]",
		values: func(p telemetry.Point) []*float64 { return []*float64{p.PCIeTotal} },
	}
	machineLine = lineSpec{
		id: "machine_resources", title: "Machine Resources [%]", unit: "%", max: 100,
		names:  []string{"CPU", "RAM"},
		pick:   "[p.cpu, p.ram]",
		values: func(p telemetry.Point) []*float64 { return []*float64{p.CPU, p.RAM} },
	}
)

func (spec lineSpec) seriesName(i int) string {
	if spec.names != nil && i < len(spec.names) {
		return spec.names[i]
	}
	return deviceLabel(i)
}

func lineValue(v *float64) any {
	if v == nil {
		return "-"
	}
	return *v
}

func newLineChart(spec lineSpec, points []telemetry.Point, rollover int, height string) *charts.Line {
	var series [][]opts.LineData
	for _, p := range points {
		for i, v := range spec.values(p) {
			for len(series) <= i {
				series = append(series, make([]opts.LineData, 0, len(points)))
			}
			series[i] = append(series[i], opts.LineData{Value: []any{p.Time, lineValue(v)}})
		}
	}
	for len(series) < len(spec.names) {
		series = append(series, []opts.LineData{})
	}

	yAxis := opts.YAxis{Type: "value", Name: spec.unit, Min: 0}
	if spec.max > 0 {
		yAxis.Max = spec.max
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: spec.title,
			ChartID:   spec.id,
			Width:     chartWidth,
			Height:    height,
		}),
		charts.WithTitleOpts(opts.Title{Title: spec.title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithColorsOpts(deviceColors),
		charts.WithXAxisOpts(opts.XAxis{Type: "time"}),
		charts.WithYAxisOpts(yAxis),
	)
	for i, data := range series {
		line.AddSeries(spec.seriesName(i), data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	line.AddJSFuncs(lineStreamJS(spec, rollover))
	return line
}

func newTimelinePage(points []telemetry.Point, rollover int) *components.Page {
	page := components.NewPage()
	page.SetPageTitle("GPU Resource Timeline")
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		newLineChart(utilizationLine, points, rollover, paneHeight),
		newLineChart(memoryLine, points, rollover, paneHeight),
		newLineChart(totalsLine, points, rollover, paneHeight),
		newLineChart(pcieLine, points, rollover, paneHeight),
	)
	return page
}

// the scripts below are appended after the chart is initialised. Newlines
// and tabs are stripped before rendering, so every statement ends in ';'.

const openStreamJS = `var proto = location.protocol === "https:" ? "wss://" : "ws://";
	var ws = new WebSocket(proto + location.host + "/ws/{{stream}}");`

const barJS = `(function () {
	var chart = %MY_ECHARTS%;
	` + openStreamJS + `
	ws.onmessage = function (ev) {
		var snap = JSON.parse(ev.data);
		var reading = (snap.readings || {})["{{metric}}"] || [];
		var opt = {series: [{data: reading.map(function (s) { return s.value === null ? "-" : s.value; })}]};
		opt["{{axis}}"] = [{data: reading.map(function (s) { return "GPU " + s.index; })}];
		chart.setOption(opt);
	};
})();`

const lineJS = `(function () {
	var chart = %MY_ECHARTS%;
	var limit = {{rollover}};
	var names = {{names}};
	var pick = function (p) { return {{pick}}; };
	var series = chart.getOption().series.map(function (s) {
		return {name: s.name, type: "line", showSymbol: false, data: s.data.slice()};
	});
	` + openStreamJS + `
	ws.onmessage = function (ev) {
		var p = JSON.parse(ev.data);
		(pick(p) || []).forEach(function (v, i) {
			if (!series[i]) {
				series[i] = {name: names ? names[i] : "GPU " + i, type: "line", showSymbol: false, data: []};
			}
			series[i].data.push([p.time, v === null || v === undefined ? "-" : v]);
			if (series[i].data.length > limit) { series[i].data.shift(); }
		});
		chart.setOption({series: series});
	};
})();`

func barStreamJS(spec barSpec) string {
	axis := "xAxis"
	if spec.horizontal {
		axis = "yAxis"
	}
	return strings.NewReplacer(
		"{{stream}}", streamSnapshot,
		"{{metric}}", spec.metric.String(),
		"{{axis}}", axis,
	).Replace(barJS)
}

func lineStreamJS(spec lineSpec, rollover int) string {
	names := "null"
	if spec.names != nil {
		raw, err := json.Marshal(spec.names)
		if err == nil {
			names = string(raw)
		}
	}
	return strings.NewReplacer(
		"{{stream}}", streamTimeline,
		"{{rollover}}", strconv.Itoa(rollover),
		"{{names}}", names,
		"{{pick}}", spec.pick,
	).Replace(lineJS)
}

// routeTitle derives the display name of a route: "/GPU-Memory" is
// "GPU Memory".
func routeTitle(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "-", " ")
}
