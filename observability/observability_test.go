package observability_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
	"github.com/warp/collection-engine/observability"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Output: &buf})

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	observability.Component(logger, "recompute").WithField("contract_id", "c-1").Info("done")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "recompute", line["component"])
	assert.Equal(t, "c-1", line["contract_id"])
	assert.Equal(t, "done", line["msg"])
}

func TestNewLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	logger := observability.NewLogger(observability.LogConfig{Level: "chatty"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger = observability.NewLogger(observability.LogConfig{Level: "WARN"})
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
}

func TestMetrics_Observer(t *testing.T) {
	m := observability.NewMetrics()

	m.ContractRecomputed(loan.OutcomeUpdated, "")
	m.ContractRecomputed(loan.OutcomeUpdated, "")
	m.ContractRecomputed(loan.OutcomeFailed, generic.KindConfiguration)
	m.RunFinished(2*time.Second, loan.RunResult{Failed: []loan.Failure{{ContractID: "c-1"}}})
	m.HolidaysMaterialized("acme", 12)
	m.ContractsPurged(3)
	m.AuditDropped()

	n, err := testutil.GatherAndCount(m.Registry(), "collections_recompute_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	body := scrape(t, m)
	assert.Contains(t, body, `collections_contracts_recomputed_total{kind="",outcome="updated"} 2`)
	assert.Contains(t, body, `collections_contracts_recomputed_total{kind="configuration",outcome="failed"} 1`)
	assert.Contains(t, body, `collections_recompute_run_contract_failures_total 1`)
	assert.Contains(t, body, `collections_holidays_materialized_total{company_id="acme"} 12`)
	assert.Contains(t, body, `collections_contracts_purged_total 3`)
	assert.Contains(t, body, `collections_audit_events_dropped_total 1`)
}

func scrape(t *testing.T, m *observability.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return strings.TrimSpace(rec.Body.String())
}
