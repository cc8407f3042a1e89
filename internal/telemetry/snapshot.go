// Package telemetry holds the values that flow from the sampler to the
// dashboard, the terminal view and the outputs.
package telemetry

import (
	"time"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"github.com/alpindale/smi-dashboard/internal/host"
)

// Snapshot is one poll round.
type Snapshot struct {
	Time     time.Time                    `json:"time"`
	Backend  string                       `json:"backend"`
	Devices  int                          `json:"devices"`
	Readings map[base.Metric]base.Reading `json:"readings"`
	Host     *host.Info                   `json:"host,omitempty"`
}

// Reading returns the reading of m, or unavailable samples for every device
// when m was not polled.
func (s Snapshot) Reading(m base.Metric) base.Reading {
	if r, ok := s.Readings[m]; ok {
		return r
	}
	return base.Unavailable(s.Devices)
}

// Point is one entry of the resource timeline. Nil values are gaps.
type Point struct {
	Time             int64      `json:"time"` // unix milliseconds
	Utilization      []*float64 `json:"utilization"`
	Memory           []*float64 `json:"memory"`
	UtilizationTotal *float64   `json:"utilization_total"`
	MemoryTotal      *float64   `json:"memory_total"`
	PCIeTotal        *float64   `json:"pcie_total"`
	CPU              *float64   `json:"cpu,omitempty"`
	RAM              *float64   `json:"ram,omitempty"`
}

// NewPoint derives the timeline entry of a snapshot: per-device utilization
// and memory, their averages over the measured devices and the summed PCIe
// bandwidth.
func NewPoint(s Snapshot) Point {
	util := s.Reading(base.Utilization)
	mem := s.Reading(base.MemoryUse)

	p := Point{
		Time:        s.Time.UnixMilli(),
		Utilization: util.Values(),
		Memory:      mem.Values(),
	}
	if v, ok := util.Mean(); ok {
		p.UtilizationTotal = &v
	}
	if v, ok := mem.Mean(); ok {
		p.MemoryTotal = &v
	}
	if pcie, ok := s.Readings[base.PCIeBandwidth]; ok && pcie.Available() > 0 {
		v := pcie.Sum()
		p.PCIeTotal = &v
	}
	if s.Host != nil {
		ram := s.Host.RAM.UsagePercent
		p.RAM = &ram
		if s.Host.CPU.Usage >= 0 {
			cpu := s.Host.CPU.Usage
			p.CPU = &cpu
		}
	}
	return p
}
