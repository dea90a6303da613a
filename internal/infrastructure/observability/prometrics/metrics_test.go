package prometrics

import (
	"testing"

	"github.com/Zhima-Mochi/storefront/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CounterRegisteredOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New("storefront", "", reg)

	c1 := r.Counter("gateway_calls_total", "calls", "gateway")
	c2 := r.Counter("gateway_calls_total", "calls", "gateway")

	c1.Add(1, observability.L("gateway", "dummy"))
	c2.Bind(observability.L("gateway", "dummy")).Add(2)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	v := r.(*registry)
	cv, ok := v.counters.Load("gateway_calls_total")
	require.True(t, ok)
	assert.Equal(t, 3.0, testutil.ToFloat64(cv.(*prometheus.CounterVec).WithLabelValues("dummy")))
}

func TestStandard_RegistersAllKeys(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters, histograms := Standard(New("", "", reg))

	for _, key := range []observability.MetricKey{
		observability.MUsecaseRequests,
		observability.MHTTPRequests,
		observability.MExternalRequests,
		observability.MWebhookDeliveries,
		observability.MEventsHandled,
	} {
		assert.Contains(t, counters, key)
	}
	for _, key := range []observability.MetricKey{
		observability.MUsecaseDuration,
		observability.MHTTPRequestDuration,
		observability.MExternalRequestDuration,
	} {
		assert.Contains(t, histograms, key)
	}
}
