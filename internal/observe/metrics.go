// Package observe provides application-wide observability primitives for
// Parlance: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parlance metrics.
const meterName = "github.com/lmikkelsen/parlance"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks transcription latency. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("source", "ws"|"http")
	TranscriptionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// VADFrames counts VAD frame classifications. Use with attribute:
	//   attribute.String("decision", "voice"|"silence")
	VADFrames metric.Int64Counter

	// JobAdmissions counts transcription job admission attempts. Use with
	// attribute: attribute.String("outcome", "granted"|"denied")
	JobAdmissions metric.Int64Counter

	// Utterances counts completed utterances. Use with attributes:
	//   attribute.String("client_type", ...), attribute.Bool("discarded", ...)
	Utterances metric.Int64Counter

	// WSMessages counts WebSocket control messages. Use with attributes:
	//   attribute.String("direction", "in"|"out"), attribute.String("type", ...)
	WSMessages metric.Int64Counter

	// ActiveSessions tracks the number of live WebSocket sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both quick preview decodes and minute-long file transcriptions.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("parlance.transcription.duration",
		metric.WithDescription("Latency of transcription by engine and source."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parlance.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.VADFrames, err = m.Int64Counter("parlance.vad.frames",
		metric.WithDescription("Total VAD frame classifications by decision."),
	); err != nil {
		return nil, err
	}
	if met.JobAdmissions, err = m.Int64Counter("parlance.job.admissions",
		metric.WithDescription("Total job admission attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("parlance.utterances",
		metric.WithDescription("Total completed utterances by client type."),
	); err != nil {
		return nil, err
	}
	if met.WSMessages, err = m.Int64Counter("parlance.ws.messages",
		metric.WithDescription("Total WebSocket control messages by direction and type."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("parlance.active_sessions",
		metric.WithDescription("Number of live WebSocket sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscription records one transcription with the standard attribute
// set.
func (m *Metrics) RecordTranscription(ctx context.Context, engine, source string, seconds float64) {
	m.TranscriptionDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("source", source),
		),
	)
}

// RecordJobAdmission records one admission attempt.
func (m *Metrics) RecordJobAdmission(ctx context.Context, granted bool) {
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	m.JobAdmissions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordUtterance records one completed utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, clientType string, discarded bool) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("client_type", clientType),
			attribute.Bool("discarded", discarded),
		),
	)
}

// RecordWSMessage records one WebSocket control message.
func (m *Metrics) RecordWSMessage(ctx context.Context, direction, msgType string) {
	m.WSMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("direction", direction),
			attribute.String("type", msgType),
		),
	)
}
