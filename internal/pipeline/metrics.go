package pipeline

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/loqalabs/loqa-tts-proxy/pipeline"

type instruments struct {
	sessions        metric.Int64Counter
	chunks          metric.Int64Counter
	cleanupFailures metric.Int64Counter
	duration        metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (instruments, error) {
	var (
		in  instruments
		err error
	)
	in.sessions, err = meter.Int64Counter("ttsproxy.sessions",
		metric.WithDescription("Synthesis requests handled, by mode and outcome"))
	if err != nil {
		return in, err
	}
	in.chunks, err = meter.Int64Counter("ttsproxy.chunks",
		metric.WithDescription("Chunks synthesized and staged"))
	if err != nil {
		return in, err
	}
	in.cleanupFailures, err = meter.Int64Counter("ttsproxy.cleanup.failures",
		metric.WithDescription("Session teardowns that left at least one artifact behind"))
	if err != nil {
		return in, err
	}
	in.duration, err = meter.Float64Histogram("ttsproxy.session.duration",
		metric.WithDescription("End-to-end synthesis request latency"),
		metric.WithUnit("s"))
	return in, err
}

func defaultInstruments() (instruments, error) {
	in, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		fallback, _ := newInstruments(noop.NewMeterProvider().Meter(instrumentationName))
		return fallback, err
	}
	return in, nil
}
