package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := New()
	r.ObserveSignal("BUY", "cross_up+gap")
	r.ObserveSignal("BUY", "cross_up+gap")
	r.ObserveTransition("opened", "entry")
	r.NotifyFailures.Inc()
	r.QuoteFree.Set(950)
	r.TickDuration.Observe(0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Signals.WithLabelValues("BUY", "cross_up+gap")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Transitions.WithLabelValues("opened", "entry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.NotifyFailures))
	assert.Equal(t, 950.0, testutil.ToFloat64(r.QuoteFree))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `crossbot_signals_total{action="BUY",reason="cross_up+gap"} 2`)
	assert.Contains(t, string(body), "crossbot_tick_duration_seconds_count 1")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.NotifyFailures.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.NotifyFailures))
}
