package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	publishedEvents otelmetric.Int64Counter
	droppedEntries  otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("nova/queue/streams")
	var err error
	publishedEvents, err = meter.Int64Counter(
		"nova_stream_events_published_total",
		otelmetric.WithDescription("Events appended to Redis streams"),
	)
	if err != nil {
		log.Printf("streams metrics init: published: %v", err)
	}
	droppedEntries, err = meter.Int64Counter(
		"nova_stream_entries_dropped_total",
		otelmetric.WithDescription("Stream entries acknowledged without processing because they failed to decode"),
	)
	if err != nil {
		log.Printf("streams metrics init: dropped: %v", err)
	}
}

func recordPublished(ctx context.Context, eventType string) {
	metricsOnce.Do(initMetrics)
	if publishedEvents != nil {
		publishedEvents.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("event_type", eventType)))
	}
}

func recordDropped(ctx context.Context, stream string) {
	metricsOnce.Do(initMetrics)
	if droppedEntries != nil {
		droppedEntries.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("stream", stream)))
	}
}
