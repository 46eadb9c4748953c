package runtime

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/talkatype/talkatype/internal/streaming"
)

// registerMetrics exposes the coordinator's session counters as
// observable instruments, sampled on every Prometheus scrape.
func registerMetrics(coord *streaming.Coordinator) (metric.Registration, error) {
	meter := otel.Meter("github.com/talkatype/talkatype/internal/runtime")

	wordsTyped, err := meter.Int64ObservableCounter("talkatype.words.typed",
		metric.WithDescription("Words emitted into the focused window this session"))
	if err != nil {
		return nil, fmt.Errorf("create words.typed instrument: %w", err)
	}
	wordsCorrected, err := meter.Int64ObservableCounter("talkatype.words.corrected",
		metric.WithDescription("Words retracted and retyped this session"))
	if err != nil {
		return nil, fmt.Errorf("create words.corrected instrument: %w", err)
	}
	chunksProcessed, err := meter.Int64ObservableCounter("talkatype.chunks.processed",
		metric.WithDescription("Successful inference passes this session"))
	if err != nil {
		return nil, fmt.Errorf("create chunks.processed instrument: %w", err)
	}
	pipelineErrors, err := meter.Int64ObservableCounter("talkatype.pipeline.errors",
		metric.WithDescription("Non-fatal pipeline failures this session"))
	if err != nil {
		return nil, fmt.Errorf("create pipeline.errors instrument: %w", err)
	}
	wordsPerMinute, err := meter.Float64ObservableGauge("talkatype.words.per_minute",
		metric.WithDescription("Typing throughput of the current session"))
	if err != nil {
		return nil, fmt.Errorf("create words.per_minute instrument: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := coord.Stats()
		o.ObserveInt64(wordsTyped, int64(stats.WordsTyped))
		o.ObserveInt64(wordsCorrected, int64(stats.WordsCorrected))
		o.ObserveInt64(chunksProcessed, int64(stats.ChunksProcessed))
		o.ObserveInt64(pipelineErrors, int64(stats.Errors))
		o.ObserveFloat64(wordsPerMinute, stats.WordsPerMinute())
		return nil
	}, wordsTyped, wordsCorrected, chunksProcessed, pipelineErrors, wordsPerMinute)
}
