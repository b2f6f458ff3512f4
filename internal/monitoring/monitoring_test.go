package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingReceiver struct {
	alerts []*Alert
}

func (r *recordingReceiver) SendAlert(alert *Alert) error {
	r.alerts = append(r.alerts, alert)
	return nil
}

func TestAlertManager_TriggerAndResolve(t *testing.T) {
	am := NewAlertManager(zap.NewNop())
	rec := &recordingReceiver{}
	am.AddReceiver(rec)

	var down atomic.Bool
	down.Store(true)
	am.AddRule(StoreUnavailableRule(func(context.Context) error {
		if down.Load() {
			return errors.New("connection refused")
		}
		return nil
	}))

	ctx := context.Background()
	am.CheckRules(ctx)
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, AlertLevelCritical, rec.alerts[0].Level)
	assert.Len(t, am.GetActiveAlerts(), 1)

	// 冷却期内不重复发送
	am.CheckRules(ctx)
	assert.Len(t, rec.alerts, 1)

	// 条件恢复后自动解决
	down.Store(false)
	am.CheckRules(ctx)
	assert.Empty(t, am.GetActiveAlerts())
}

func TestAlertManager_BreakerRule(t *testing.T) {
	am := NewAlertManager(nil)
	rec := &recordingReceiver{}
	am.AddReceiver(rec)
	am.AddRule(BreakerOpenRule(func() bool { return true }))

	am.CheckRules(context.Background())
	require.Len(t, rec.alerts, 1)
	assert.Equal(t, "breaker_open", rec.alerts[0].RuleID)
}

func TestWebhookAlertReceiver(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	receiver := NewWebhookAlertReceiver(srv.URL, zap.NewNop())
	err := receiver.SendAlert(&Alert{ID: "a1", Title: "Store down", Level: AlertLevelCritical})
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	assert.Error(t, NewWebhookAlertReceiver(failing.URL, zap.NewNop()).SendAlert(&Alert{ID: "a2"}))
}

func TestHealthChecker(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("down") }

	report := NewHealthChecker(ok, ok, nil, "test").CheckHealth(context.Background())
	assert.Equal(t, HealthStatusHealthy, report.Status)
	assert.Len(t, report.Checks, 4)

	report = NewHealthChecker(ok, fail, nil, "test").CheckHealth(context.Background())
	assert.Equal(t, HealthStatusDegraded, report.Status, "缓存故障只算降级")

	report = NewHealthChecker(fail, ok, nil, "test").CheckHealth(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.RecordAuthDecision("")
	m1.RecordAuthDecision("invalid")
	m1.RecordCacheLookup("hit")
	m2.RecordAuthDecision("expired")

	assert.Equal(t, 1.0, testutil.ToFloat64(m1.AuthDecisionsTotal.WithLabelValues("allow", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m1.AuthDecisionsTotal.WithLabelValues("deny", "invalid")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.AuthDecisionsTotal.WithLabelValues("deny", "invalid")))

	rec := httptest.NewRecorder()
	m1.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "keyguard_auth_decisions_total"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuthDecision("invalid")
		m.RecordStoreCall("find", time.Millisecond, true)
		m.SetBreakerState("store", 2)
		m.RecordPanic()
	})
}
