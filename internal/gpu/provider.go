package gpu

import (
	"errors"

	"github.com/alpindale/smi-dashboard/internal/gpu/base"
	"go.uber.org/zap"
)

// why a query was masked with unavailable samples
const (
	ReasonToolMissing       = "tool_missing"
	ReasonUnexpectedOutput  = "unexpected_output"
	ReasonMalformedLine     = "malformed_line"
	ReasonNoDevices         = "no_devices"
	ReasonUnsupported       = "unsupported"
	ReasonInvocationFailure = "invocation_failed"
)

// receives every masked failure; observability.Metrics implements it
type FailureObserver interface {
	QueryFailed(backend string, m base.Metric, reason string)
}

// classify maps a runner or parser error onto one of the failure reasons
func classify(err error) string {
	var lineErr *LineError
	switch {
	case errors.Is(err, base.ErrToolMissing):
		return ReasonToolMissing
	case errors.Is(err, base.ErrUnexpectedOutput):
		return ReasonUnexpectedOutput
	case errors.Is(err, base.ErrNoDevices):
		return ReasonNoDevices
	case errors.Is(err, base.ErrUnsupported):
		return ReasonUnsupported
	case errors.As(err, &lineErr):
		return ReasonMalformedLine
	default:
		return ReasonInvocationFailure
	}
}

// shared logging and counting of masked failures
type failureReporter struct {
	backend string
	log     *zap.Logger
	obs     FailureObserver
}

func (r failureReporter) report(m base.Metric, err error) string {
	reason := classify(err)
	r.log.Error("smi query masked",
		zap.String("tool", r.backend),
		zap.Stringer("metric", m),
		zap.String("reason", reason),
		zap.Error(err),
	)
	if r.obs != nil {
		r.obs.QueryFailed(r.backend, m, reason)
	}
	return reason
}
