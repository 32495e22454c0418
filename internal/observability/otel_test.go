package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestSourceSpanFeedsFetchMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	_, span := StartSourceSpan(context.Background(), "caserecords", "case.fetch")
	span.RecordError(errors.New("upstream unavailable"))
	span.End()

	_, span = StartSourceSpan(context.Background(), "partyrecords", "party.fetch")
	span.End()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	var fetches, durations int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch m.Name {
			case "casenotify.source.fetches":
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("unexpected counter data type %T", m.Data)
				}
				for _, dp := range sum.DataPoints {
					fetches += dp.Value
				}
			case "casenotify.source.fetch.duration":
				hist, ok := m.Data.(metricdata.Histogram[float64])
				if !ok {
					t.Fatalf("unexpected histogram data type %T", m.Data)
				}
				for _, dp := range hist.DataPoints {
					durations += int64(dp.Count)
				}
			}
		}
	}
	if fetches != 2 {
		t.Fatalf("expected 2 recorded fetches, got %d", fetches)
	}
	if durations != 2 {
		t.Fatalf("expected 2 recorded durations, got %d", durations)
	}
}

func TestConfiguredSampler(t *testing.T) {
	t.Parallel()

	if got := configuredSampler(1.5).Description(); got != configuredSampler(1).Description() {
		t.Fatalf("ratio above 1 must clamp to always-on, got %q", got)
	}
	if got := configuredSampler(-0.1).Description(); got != configuredSampler(0).Description() {
		t.Fatalf("ratio below 0 must clamp to always-off, got %q", got)
	}
}
