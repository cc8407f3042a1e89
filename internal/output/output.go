package output

import "github.com/alpindale/smi-dashboard/internal/telemetry"

type Output interface {
	Publish(telemetry.Snapshot) error
	Close() error
}

// helper constructors are in subpackages
