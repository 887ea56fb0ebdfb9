// Package telemetry provides OpenTelemetry instrumentation for the
// reconciliation passes.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the source sync metrics meter
	SyncMetricsMeterName = "github.com/racewatch/racewatch/sync"

	// AnnounceMetricsMeterName is the name used for the announcement metrics meter
	AnnounceMetricsMeterName = "github.com/racewatch/racewatch/announce"
)

// SyncMetrics holds the OpenTelemetry instruments for source sync passes
type SyncMetrics struct {
	passDuration metric.Float64Histogram
	racesTracked metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	passDuration, err := meter.Float64Histogram(
		"racewatch_sync_pass_duration_seconds",
		metric.WithDescription("Duration of source sync passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	racesTracked, err := meter.Int64Gauge(
		"racewatch_sync_races_tracked",
		metric.WithDescription("Number of active races seen in the latest sync pass"),
		metric.WithUnit("{race}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		passDuration: passDuration,
		racesTracked: racesTracked,
	}, nil
}

// RecordPassDuration records the duration of a sync pass for a connector
func (m *SyncMetrics) RecordPassDuration(ctx context.Context, connector string, duration time.Duration, success bool) {
	if m == nil || m.passDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("connector", connector),
		attribute.Bool("success", success),
	}

	m.passDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRacesTracked records how many active races the latest pass saw
func (m *SyncMetrics) RecordRacesTracked(ctx context.Context, connector string, count int64) {
	if m == nil || m.racesTracked == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("connector", connector),
	}

	m.racesTracked.Record(ctx, count, metric.WithAttributes(attrs...))
}

// AnnounceMetrics holds the OpenTelemetry instruments for announcement passes
type AnnounceMetrics struct {
	messagesPosted  metric.Int64Counter
	messagesUpdated metric.Int64Counter
	updateFailures  metric.Int64Counter
}

// NewAnnounceMetrics creates a new AnnounceMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewAnnounceMetrics(provider metric.MeterProvider) (*AnnounceMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(AnnounceMetricsMeterName)

	messagesPosted, err := meter.Int64Counter(
		"racewatch_announce_messages_posted_total",
		metric.WithDescription("Number of new race announcement messages posted"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	messagesUpdated, err := meter.Int64Counter(
		"racewatch_announce_messages_updated_total",
		metric.WithDescription("Number of existing announcement messages updated"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	updateFailures, err := meter.Int64Counter(
		"racewatch_announce_update_failures_total",
		metric.WithDescription("Number of failed announcement update attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	return &AnnounceMetrics{
		messagesPosted:  messagesPosted,
		messagesUpdated: messagesUpdated,
		updateFailures:  updateFailures,
	}, nil
}

// RecordPosted records a newly posted announcement message
func (m *AnnounceMetrics) RecordPosted(ctx context.Context, destination string) {
	if m == nil || m.messagesPosted == nil {
		return
	}

	m.messagesPosted.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

// RecordUpdated records a successfully updated announcement message
func (m *AnnounceMetrics) RecordUpdated(ctx context.Context, destination string) {
	if m == nil || m.messagesUpdated == nil {
		return
	}

	m.messagesUpdated.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}

// RecordUpdateFailure records a failed update attempt against a destination
func (m *AnnounceMetrics) RecordUpdateFailure(ctx context.Context, destination string) {
	if m == nil || m.updateFailures == nil {
		return
	}

	m.updateFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("destination", destination)))
}
