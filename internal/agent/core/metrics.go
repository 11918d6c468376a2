package core

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("nova/internal/agent/core")

var (
	metricsOnce    sync.Once
	runsTotal      otelmetric.Int64Counter
	toolOutcomes   otelmetric.Int64Counter
	iterationsHist otelmetric.Int64Histogram
)

func initMetrics() {
	meter := otel.Meter("nova/internal/agent/core")
	var err error
	if runsTotal, err = meter.Int64Counter("nova_runs_total",
		otelmetric.WithDescription("AI runs by mode and outcome")); err != nil {
		log.Printf("[ORCH] metrics init: runs: %v", err)
	}
	if toolOutcomes, err = meter.Int64Counter("nova_tool_calls_total",
		otelmetric.WithDescription("Tool calls made by the executor by outcome")); err != nil {
		log.Printf("[ORCH] metrics init: tool calls: %v", err)
	}
	if iterationsHist, err = meter.Int64Histogram("nova_run_iterations",
		otelmetric.WithDescription("Model iterations per run")); err != nil {
		log.Printf("[ORCH] metrics init: iterations: %v", err)
	}
}

func recordRun(ctx context.Context, mode Mode, outcome string, iterations int) {
	metricsOnce.Do(initMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("mode", string(mode)), attribute.String("outcome", outcome))
	if runsTotal != nil {
		runsTotal.Add(ctx, 1, attrs)
	}
	if iterationsHist != nil && iterations > 0 {
		iterationsHist.Record(ctx, int64(iterations), attrs)
	}
}

func recordToolOutcome(ctx context.Context, tool string, failed bool) {
	metricsOnce.Do(initMetrics)
	if toolOutcomes == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	toolOutcomes.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("tool", tool), attribute.String("outcome", outcome)))
}
