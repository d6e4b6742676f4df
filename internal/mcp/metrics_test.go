package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

func newTestMetrics() (*Metrics, *metric.ManualReader) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logging.Nop(),
	}
	m.init()
	return m, reader
}

func collectSums(t *testing.T, reader *metric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return sums
}

func TestMetrics_RecordInvocation(t *testing.T) {
	m, reader := newTestMetrics()
	ctx := context.Background()

	m.RecordInvocation(ctx, "search_documents", 100*time.Millisecond, nil)
	m.RecordInvocation(ctx, "search_documents", 50*time.Millisecond, vectorstore.ErrEmptyQuery)

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums["ragd.mcp.tool.invocations_total"])
	assert.Equal(t, int64(2), sums["ragd.mcp.tool.duration_seconds"])
	assert.Equal(t, int64(1), sums["ragd.mcp.tool.errors_total"])
}

func TestMetrics_Track(t *testing.T) {
	m, reader := newTestMetrics()
	ctx := context.Background()

	done := m.track(ctx, "stats")
	assert.Equal(t, int64(1), collectSums(t, reader)["ragd.mcp.tool.active_requests"])

	done(nil)
	sums := collectSums(t, reader)
	assert.Equal(t, int64(0), sums["ragd.mcp.tool.active_requests"])
	assert.Equal(t, int64(1), sums["ragd.mcp.tool.invocations_total"])
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{vectorstore.ErrEmptyQuery, "validation_error"},
		{fmt.Errorf("scope: %w", vectorstore.ErrInvalidScope), "validation_error"},
		{vectorstore.ErrMissingSession, "validation_error"},
		{fmt.Errorf("%w: document_id is required", errInvalidArgument), "validation_error"},
		{fmt.Errorf("document %q: %w", "x", errNotFound), "not_found"},
		{context.DeadlineExceeded, "timeout"},
		{vectorstore.ErrPersistence, "storage_error"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), "%v", tt.err)
	}
}
