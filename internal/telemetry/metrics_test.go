package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/racewatch/racewatch/internal/config"
)

func TestNilProviderDisablesMetrics(t *testing.T) {
	t.Parallel()

	syncMetrics, err := NewSyncMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, syncMetrics)

	announceMetrics, err := NewAnnounceMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, announceMetrics)
}

func TestNilReceiverRecordsAreSafe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var syncMetrics *SyncMetrics
	syncMetrics.RecordPassDuration(ctx, "racetime", time.Second, true)
	syncMetrics.RecordRacesTracked(ctx, "racetime", 3)

	var announceMetrics *AnnounceMetrics
	announceMetrics.RecordPosted(ctx, "telegram")
	announceMetrics.RecordUpdated(ctx, "telegram")
	announceMetrics.RecordUpdateFailure(ctx, "telegram")
}

func TestNewMeterProviderNilConfig(t *testing.T) {
	t.Parallel()

	provider, err := NewMeterProvider(context.Background(), nil, "dev")
	require.NoError(t, err)
	assert.Nil(t, provider)
}

func TestNewMeterProviderFromConfig(t *testing.T) {
	ctx := context.Background()

	provider, err := NewMeterProvider(ctx, &config.TelemetryConfig{
		Endpoint: "localhost:4318",
		Insecure: true,
	}, "dev")
	require.NoError(t, err)
	require.NotNil(t, provider)
	// No collector is listening; the flush on shutdown is allowed to fail.
	defer func() { _ = provider.Shutdown(ctx) }()

	syncMetrics, err := NewSyncMetrics(provider)
	require.NoError(t, err)
	require.NotNil(t, syncMetrics)
	syncMetrics.RecordPassDuration(ctx, "racetime", time.Second, true)
}

func TestMetricsWithProvider(t *testing.T) {
	t.Parallel()

	provider := noop.NewMeterProvider()

	syncMetrics, err := NewSyncMetrics(provider)
	require.NoError(t, err)
	require.NotNil(t, syncMetrics)
	syncMetrics.RecordPassDuration(context.Background(), "racetime", time.Second, false)

	announceMetrics, err := NewAnnounceMetrics(provider)
	require.NoError(t, err)
	require.NotNil(t, announceMetrics)
	announceMetrics.RecordPosted(context.Background(), "telegram")
}
