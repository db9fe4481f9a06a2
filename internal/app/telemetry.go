package app

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

// telemetry keeps owner-process metrics in memory; they are flushed to the runtime log
// once when the owner exits.
type telemetry struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newTelemetry() *telemetry {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", binaryName))),
	)
	return &telemetry{reader: reader, provider: provider}
}

// summary flattens collected data points into log fields. Counters report their value;
// histograms report count and sum.
func (t *telemetry) summary(ctx context.Context) ([]any, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	values := map[string]any{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					values[seriesName(m.Name, dp.Attributes)] = dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					name := seriesName(m.Name, dp.Attributes)
					values[name+".count"] = dp.Count
					values[name+".sum"] = dp.Sum
				}
			}
		}
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fields := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		fields = append(fields, key, values[key])
	}
	return fields, nil
}

func (t *telemetry) logSummary(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		return
	}
	fields, err := t.summary(ctx)
	if err != nil {
		logger.Warn("collect metrics failed", "error", err.Error())
		return
	}
	if len(fields) == 0 {
		return
	}
	logger.Info("voice search metrics", fields...)
}

func (t *telemetry) shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

func seriesName(name string, attrs attribute.Set) string {
	var b strings.Builder
	b.WriteString(name)
	for _, kv := range attrs.ToSlice() {
		b.WriteString(".")
		b.WriteString(kv.Value.Emit())
	}
	return b.String()
}
