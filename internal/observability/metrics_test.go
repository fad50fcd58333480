// internal/observability/metrics_test.go
package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestAttributesFromTags(t *testing.T) {
	tests := []struct {
		name     string
		tags     []string
		expected int
	}{
		{name: "Empty tags", tags: []string{}, expected: 0},
		{name: "Even number of tags", tags: []string{"key1", "value1", "key2", "value2"}, expected: 2},
		{name: "Odd number of tags", tags: []string{"key1", "value1", "key2", "value2", "orphan"}, expected: 2},
		{name: "Single pair", tags: []string{"key", "value"}, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attributes := attributesFromTags(tt.tags)
			assert.Equal(t, tt.expected, len(attributes))

			for i := 0; i < tt.expected; i++ {
				assert.Equal(t, tt.tags[i*2], string(attributes[i].Key))
				assert.Equal(t, tt.tags[i*2+1], attributes[i].Value.AsString())
			}
		})
	}
}

func TestMetricsInterface(t *testing.T) {
	var _ MetricsClient = (*OTelMetrics)(nil)
	var _ MetricsClient = (*PromMetrics)(nil)
	var _ MetricsClient = NoopMetrics{}
}

func TestOTelMetrics(t *testing.T) {
	logger, err := NewLogger(zapcore.InfoLevel)
	require.NoError(t, err)

	metrics, err := NewMetricsClient(Config{ServiceName: "test-service", ServiceVersion: "1.0.0"}, logger)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.Increment(ctx, "lock.acquire", 1, "result", "acquired")
	assert.NoError(t, metrics.RecordLatency(ctx, 15*time.Millisecond, "route", "/api/conferences/:id"))
}

func scrape(t *testing.T, p *PromMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPromMetrics(t *testing.T) {
	p := NewPromMetrics(Config{ServiceName: "conference-lock"}, NewNopLogger())
	ctx := context.Background()

	p.Increment(ctx, "lock.acquire", 1, "result", "acquired")
	p.Increment(ctx, "lock.acquire", 2, "result", "conflict")
	require.NoError(t, p.RecordLatency(ctx, 250*time.Millisecond, "method", "GET", "status", "200"))

	body := scrape(t, p)
	assert.Contains(t, body, `conference_lock_lock_acquire{result="acquired"} 1`)
	assert.Contains(t, body, `conference_lock_lock_acquire{result="conflict"} 2`)
	assert.Contains(t, body, "conference_lock_request_duration_seconds_count")
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestPromMetricsRejectsMismatchedLabels(t *testing.T) {
	p := NewPromMetrics(Config{ServiceName: "svc"}, NewNopLogger())
	ctx := context.Background()

	require.NoError(t, p.RecordLatency(ctx, time.Second, "method", "GET"))
	assert.Error(t, p.RecordLatency(ctx, time.Second, "route", "/x"))
}

func TestSanitizeMetricName(t *testing.T) {
	assert.Equal(t, "lock_acquire_total", sanitizeMetricName("lock.acquire.total"))
	assert.Equal(t, "conference_lock", sanitizeMetricName("conference-lock"))
}
