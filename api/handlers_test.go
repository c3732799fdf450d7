/*
handlers_test.go - HTTP tests for the admin API

Tests run the full router against the in-memory store with a fixed clock
(Monday 2025-03-10). Contract c-1 is a 10-day daily loan that started on
Monday 2025-03-03 with no payments, so by the 10th six installments are
late (Sunday the 9th is skipped).
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/collection-engine/export"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
	"github.com/warp/collection-engine/store/memory"
)

const acme = generic.CompanyID("acme")

var (
	start = generic.NewTimePoint(2025, time.March, 3)
	now   = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
)

func testParams(company generic.CompanyID) loan.Parameters {
	return loan.Parameters{
		CompanyID:                         company,
		MinimumInstallmentsYellowDaily:    2,
		MinimumInstallmentsRedDaily:       4,
		MinimumInstallmentsYellowWeekly:   1,
		MinimumInstallmentsRedWeekly:      2,
		MinimumInstallmentsYellowBiweekly: 1,
		MinimumInstallmentsRedBiweekly:    2,
		MinimumInstallmentsYellowMonthly:  1,
		MinimumInstallmentsRedMonthly:     2,
		DefaultMaxClientDebtDays:          30,
		RestDay:                           time.Sunday,
	}
}

func dailyContract(id string, company generic.CompanyID) loan.Contract {
	return loan.Contract{
		ID:         generic.ContractID(id),
		CompanyID:  company,
		RouteID:    "r1",
		ClientName: "Client " + id,
		Modality: &loan.PaymentModality{
			ID:        "daily-25",
			CompanyID: company,
			Type:      generic.FrequencyDaily,
			Percent:   decimal.NewFromInt(25),
			Cadence:   loan.Cadence{Days: 10},
		},
		Principal: generic.MustParseMoney("800.00"),
		StartDate: start,
		IsActive:  true,
	}
}

type testEnv struct {
	store   *memory.Store
	handler *Handler
	router  http.Handler
	hook    *test.Hook
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	store.PutParameters(testParams(acme))
	store.PutContract(dailyContract("c-1", acme))

	logger, hook := test.NewNullLogger()
	h := NewHandler(store, logrus.NewEntry(logger))
	h.SetClock(func() time.Time { return now })

	return &testEnv{store: store, handler: h, router: NewRouter(h, nil), hook: hook}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(ActorHeader, "ana")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// RECOMPUTE
// =============================================================================

func TestTriggerRecompute_WritesStatusAndAudit(t *testing.T) {
	// GIVEN: One unpaid daily contract, six installments overdue
	// WHEN: An operator triggers a recompute
	// THEN: The status is written red, the run is manual and audited with the operator

	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/recompute?company_id=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[RunResultDTO](t, rec)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Failed)

	rec = env.do(t, http.MethodGet, "/api/contracts/c-1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[PendingStatusDTO](t, rec)
	assert.Equal(t, "red", st.Color)
	assert.Equal(t, 6, st.PaymentsLate)
	assert.Equal(t, "2025-03-10", st.EvaluatedOn)

	rec = env.do(t, http.MethodGet, "/api/recompute/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[struct {
		Runs []RecomputeRunDTO `json:"runs"`
	}](t, rec)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, loan.TriggerManual, runs.Runs[0].Trigger)
	assert.Equal(t, string(loan.RunCompleted), runs.Runs[0].Status)

	events := env.store.AuditEvents()
	require.NotEmpty(t, events)
	assert.Equal(t, "ana", events[len(events)-1].Actor)
	assert.Equal(t, "192.0.2.1", events[len(events)-1].IP)

	// Second pass changes nothing.
	rec = env.do(t, http.MethodPost, "/api/recompute", nil)
	res = decode[RunResultDTO](t, rec)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.Unchanged)
}

func TestTriggerRecompute_SystemActorHeaderRejected(t *testing.T) {
	// GIVEN: A caller claiming the scheduler's actor
	// WHEN: It triggers a recompute
	// THEN: The request is rejected and no run is recorded

	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/recompute", nil)
	req.Header.Set(ActorHeader, generic.ActorSystem)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	runs, err := env.store.ListRecomputeRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestGetContractStatus_NotComputed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/contracts/c-1/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecomputeContract(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/contracts/c-1/recompute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[ContractResultDTO](t, rec)
	assert.True(t, res.Written)
	assert.NotEmpty(t, res.Changed)
	assert.Equal(t, "red", res.Status.Color)

	rec = env.do(t, http.MethodPost, "/api/contracts/missing/recompute", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecomputeContract_MissingParametersIsUnprocessable(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutContract(dailyContract("c-other", "globex"))

	rec := env.do(t, http.MethodPost, "/api/contracts/c-other/recompute", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "parameters")
}

func TestGetContractSchedule(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/contracts/c-1/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s := decode[ScheduleDTO](t, rec)

	assert.Equal(t, "1000.00", s.Total)
	require.Len(t, s.Installments, 10)
	assert.Equal(t, "2025-03-03", s.Installments[0].DueDate)
	assert.Equal(t, "2025-03-08", s.Installments[5].DueDate)
	assert.Equal(t, "2025-03-10", s.Installments[6].DueDate, "Sunday skipped")
	assert.Equal(t, "100.00", s.Installments[0].Outstanding)
	assert.Zero(t, env.store.StatusWrites(), "schedule view never writes")
}

// =============================================================================
// CALENDAR & ARREARS
// =============================================================================

func TestMaterializeRestDays(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/companies/acme/holidays/rest-days", MaterializeRequest{Through: "2025-03-31"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[map[string]any](t, rec)
	inserted := out["inserted"].(float64)
	assert.Positive(t, inserted)

	rec = env.do(t, http.MethodGet, "/api/companies/acme/holidays", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Holidays []HolidayDTO `json:"holidays"`
	}](t, rec)
	assert.Len(t, list.Holidays, int(inserted))
	for _, hol := range list.Holidays {
		assert.True(t, hol.RestDay)
	}

	rec = env.do(t, http.MethodPost, "/api/companies/acme/holidays/rest-days", MaterializeRequest{Through: "31/03/2025"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/companies/acme/holidays/rest-days", MaterializeRequest{Through: "2024-01-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "window ends before it starts")
}

func TestGetArrear(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutArrear(loan.Arrear{ID: "a-1", CompanyID: acme, Year: 2025, Month: time.March, Percent: decimal.NewFromInt(5)})

	rec := env.do(t, http.MethodGet, "/api/companies/acme/arrears/2025/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	a := decode[ArrearDTO](t, rec)
	assert.Equal(t, "5.00", a.Percent)
	assert.Equal(t, 3, a.Month)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/companies/acme/arrears/2025/4", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/companies/acme/arrears/2025/13", nil).Code)
}

// =============================================================================
// WORK QUEUE & ADMIN
// =============================================================================

func TestDownloadWorkQueue(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/companies/acme/work-queue.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentTypeXLSX, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "work-queue-acme-2025-03-10.xlsx")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"), "xlsx is a zip archive")
}

func TestExportWorkQueue_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/companies/acme/work-queue/export", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestTriggerCleanup(t *testing.T) {
	env := newTestEnv(t)
	finished := now.AddDate(0, 0, -30)
	old := dailyContract("c-old", acme)
	old.IsActive = false
	old.FinishedAt = &finished
	env.store.PutContract(old)

	rec := env.do(t, http.MethodPost, "/api/admin/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]int{"purged": 1}, decode[map[string]int](t, rec))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(generic.ErrNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(generic.ErrInvalidInput))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(&generic.DataIntegrityError{}))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(generic.Transient("read", assert.AnError)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
