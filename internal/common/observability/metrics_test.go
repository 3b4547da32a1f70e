package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRequest_ExportsToPrometheus(t *testing.T) {
	obs, err := New("crm-test")
	require.NoError(t, err)
	defer obs.Shutdown(context.Background())

	obs.RecordRequest(context.Background(), "/api/applications/:id/approve", 200, 12*time.Millisecond)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "http_requests") {
			found = true
		}
	}
	assert.True(t, found, "request counter not exported")
}

func TestZeroValueIsSafe(t *testing.T) {
	obs := &Observability{}
	assert.NotPanics(t, func() {
		obs.RecordRequest(context.Background(), "/health", 200, time.Millisecond)
	})
	assert.NoError(t, obs.Shutdown(context.Background()))
}
