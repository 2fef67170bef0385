package metrics

import (
	"errors"
	"testing"
	"time"

	apperrors "firestore-driver/internal/shared/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(m))

	start := time.Now()
	m.ObserveDriverCall("admin", "get", start, nil)
	m.ObserveDriverCall("client", "get", start, apperrors.NewPermissionDeniedError("no"))
	m.ObserveDriverCall("client", "get", start, errors.New("plain"))
	m.ObserveRuleDecision("get", false)
	m.ObserveRequest("GET", "/documents", "200", time.Millisecond)
	done := m.ListenerStarted("admin")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.driverCalls.WithLabelValues("admin", "get", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.driverCalls.WithLabelValues("client", "get", "PERMISSION_DENIED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.driverCalls.WithLabelValues("client", "get", "INTERNAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ruleDecisions.WithLabelValues("get", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listeners.WithLabelValues("admin")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.listeners.WithLabelValues("admin")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveDriverCall("admin", "get", time.Now(), nil)
	m.ObserveRequest("GET", "/", "200", 0)
	m.ObserveRuleDecision("get", true)
	m.ListenerStarted("admin")()
}
