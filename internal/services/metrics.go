package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "mindgrate/backend/services"

type instruments struct {
	searchDuration metric.Float64Histogram
	transitions    metric.Int64Counter
	chunksEmbedded metric.Int64Counter
}

func newInstruments() *instruments {
	meter := otel.Meter(meterName)
	fallback := noop.NewMeterProvider().Meter(meterName)

	searchDuration, err := meter.Float64Histogram("mindgrate.vector.search.duration",
		metric.WithDescription("Semantic search latency"), metric.WithUnit("ms"))
	if err != nil {
		searchDuration, _ = fallback.Float64Histogram("mindgrate.vector.search.duration")
	}
	transitions, err := meter.Int64Counter("mindgrate.collaboration.transitions",
		metric.WithDescription("Collaboration task status transitions"))
	if err != nil {
		transitions, _ = fallback.Int64Counter("mindgrate.collaboration.transitions")
	}
	chunksEmbedded, err := meter.Int64Counter("mindgrate.vector.chunks_embedded",
		metric.WithDescription("Chunks embedded and stored"))
	if err != nil {
		chunksEmbedded, _ = fallback.Int64Counter("mindgrate.vector.chunks_embedded")
	}
	return &instruments{
		searchDuration: searchDuration,
		transitions:    transitions,
		chunksEmbedded: chunksEmbedded,
	}
}

func (i *instruments) recordTransition(ctx context.Context, to string) {
	i.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", to)))
}
