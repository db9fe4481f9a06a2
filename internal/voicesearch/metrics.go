package voicesearch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rbright/songscout/voicesearch"

// Metrics records attempt outcomes. A nil *Metrics records nothing.
type Metrics struct {
	outcomes    metric.Int64Counter
	recognition metric.Float64Histogram
	recorded    metric.Float64Histogram
}

// NewMetrics registers instruments on provider, or the global provider when nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	var meter metric.Meter
	if provider != nil {
		meter = provider.Meter(meterName)
	} else {
		meter = otel.Meter(meterName)
	}

	outcomes, err := meter.Int64Counter(
		"songscout.voice_search.outcomes",
		metric.WithDescription("Voice search attempts by terminal outcome"),
	)
	if err != nil {
		return nil, err
	}
	recognition, err := meter.Float64Histogram(
		"songscout.voice_search.recognition_latency",
		metric.WithDescription("Time spent in recognition and catalog reconciliation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	recorded, err := meter.Float64Histogram(
		"songscout.voice_search.recorded_duration",
		metric.WithDescription("Length of captured samples"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{outcomes: outcomes, recognition: recognition, recorded: recorded}, nil
}

func (m *Metrics) recordOutcome(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) recordRecognition(ctx context.Context, elapsed time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.recognition.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Bool("ok", ok)))
}

func (m *Metrics) recordSample(ctx context.Context, recorded time.Duration) {
	if m == nil {
		return
	}
	m.recorded.Record(ctx, recorded.Seconds())
}
