package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the application instruments. A nil *Metrics is valid and
// records nothing, which keeps tests free of telemetry setup.
type Metrics struct {
	IngestedFiles metric.Int64Counter
	Queries       metric.Int64Counter
	EmbedCalls    metric.Int64Counter
	QueryDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates the instruments on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("pdfqa")

	ingested, err := meter.Int64Counter(
		"pdfqa.ingest.files",
		metric.WithDescription("PDF files processed by ingestion, by status"),
	)
	if err != nil {
		return nil, err
	}

	queries, err := meter.Int64Counter(
		"pdfqa.queries",
		metric.WithDescription("Questions answered, by status"),
	)
	if err != nil {
		return nil, err
	}

	embedCalls, err := meter.Int64Counter(
		"pdfqa.embed.calls",
		metric.WithDescription("Calls to the embedding service, by status"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"pdfqa.query.duration",
		metric.WithDescription("End-to-end question answering latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		IngestedFiles: ingested,
		Queries:       queries,
		EmbedCalls:    embedCalls,
		QueryDuration: duration,
	}, nil
}

// RecordIngestedFile counts one file by outcome.
func (m *Metrics) RecordIngestedFile(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.IngestedFiles.Add(ctx, 1, metric.WithAttributes(status(ok)))
}

// RecordQuery counts one question and records its latency in seconds.
func (m *Metrics) RecordQuery(ctx context.Context, seconds float64, ok bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(status(ok))
	m.Queries.Add(ctx, 1, attrs)
	m.QueryDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) RecordEmbedCall(ctx context.Context, model string, ok bool) {
	if m == nil {
		return
	}
	m.EmbedCalls.Add(ctx, 1, metric.WithAttributes(status(ok), attribute.String("model", model)))
}

func status(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("status", "success")
	}
	return attribute.String("status", "failure")
}
