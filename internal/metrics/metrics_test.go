package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Cycles.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Cycles))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Cycles))
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New()
	m.OrdersProcessed.WithLabelValues(OutcomeTransitioned).Add(3)
	m.BatchSize.Set(50)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ordermon_engine_orders_processed_total{outcome="transitioned"} 3`)
	assert.Contains(t, string(body), "ordermon_engine_batch_size 50")
	assert.Contains(t, string(body), "go_goroutines")
}
