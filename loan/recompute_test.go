package loan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
	"github.com/warp/collection-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRecomputer(t *testing.T, today generic.TimePoint) (*loan.Recomputer, *memory.Store, *test.Hook) {
	store := memory.New()
	store.PutParameters(testParams())

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	r := loan.NewRecomputer(store, logrus.NewEntry(logger))
	r.Clock = fixedClock(today)
	r.Calendars.Clock = r.Clock
	r.Workers = 2
	return r, store, hook
}

type countingObserver struct {
	loan.NopObserver
	mu       sync.Mutex
	outcomes map[string]int
	runs     int
}

func (o *countingObserver) ContractRecomputed(outcome, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[outcome]++
}

func (o *countingObserver) RunFinished(time.Duration, loan.RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
}

// =============================================================================
// WRITE MINIMIZATION
// =============================================================================

func TestRunRecompute_SettledContractWritesOnce(t *testing.T) {
	// GIVEN: A fully settled contract
	// WHEN: The runner runs twice
	// THEN: The first run writes the status, the second finds no diff

	r, store, _ := newTestRecomputer(t, date(2025, time.March, 20))
	ctx := context.Background()

	c := tenDaily("c-1", false)
	c.Payments = []loan.Movement{payment("p-1", "1000.00", monday)}
	store.PutContract(c)

	first, err := r.RunRecompute(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Updated)
	assert.Empty(t, first.Failed)

	st, err := store.GetPendingStatus(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.PendingAmount.IsZero())
	assert.Equal(t, loan.ColorGreen, st.Color)

	second, err := r.RunRecompute(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 1, second.Unchanged)
	assert.Equal(t, 1, store.StatusWrites(), "no second write")
}

func TestRunRecompute_NewMovementUpdatesStatus(t *testing.T) {
	r, store, _ := newTestRecomputer(t, date(2025, time.March, 6))
	ctx := context.Background()
	store.PutContract(tenDaily("c-1", false))

	_, err := r.RunRecompute(ctx, testCompany)
	require.NoError(t, err)
	before, _ := store.GetPendingStatus(ctx, "c-1")
	require.NotNil(t, before)
	assert.Equal(t, 3, before.PaymentsLate)

	store.AddMovements("c-1", payment("m-1", "300.00", date(2025, time.March, 5)))

	res, err := r.RunRecompute(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	after, _ := store.GetPendingStatus(ctx, "c-1")
	assert.Equal(t, 0, after.PaymentsLate)
	assert.Equal(t, 3, after.PaymentsUpToDate)
	assert.Equal(t, 2, store.StatusWrites())
}

// =============================================================================
// FAILURE ISOLATION
// =============================================================================

func TestRunRecompute_PartialFailureIsolation(t *testing.T) {
	// GIVEN: One healthy contract, one without modality, one whose read fails,
	//        one with a movement before its origin
	// THEN: Only the healthy one is written; the others are reported by kind

	r, store, hook := newTestRecomputer(t, date(2025, time.March, 6))
	obs := &countingObserver{}
	r.Observer = obs
	ctx := context.Background()

	store.PutContract(tenDaily("c-ok", false))

	noModality := tenDaily("c-config", false)
	noModality.Modality = nil
	store.PutContract(noModality)

	store.PutContract(tenDaily("c-io", false))
	store.Fail("c-io", generic.Transient("get contract", errors.New("connection reset")))

	early := tenDaily("c-data", false)
	early.Movements = []loan.Movement{payment("m-early", "10.00", monday.AddDays(-3))}
	store.PutContract(early)

	res, err := r.RunRecompute(ctx, "")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Failed, 3)
	assert.Equal(t, generic.ContractID("c-config"), res.Failed[0].ContractID)
	assert.Equal(t, generic.KindConfiguration, res.Failed[0].Kind)
	assert.Equal(t, generic.ContractID("c-data"), res.Failed[1].ContractID)
	assert.Equal(t, generic.KindDataIntegrity, res.Failed[1].Kind)
	assert.Equal(t, generic.ContractID("c-io"), res.Failed[2].ContractID)
	assert.Equal(t, generic.KindTransient, res.Failed[2].Kind)

	for _, id := range []generic.ContractID{"c-config", "c-io", "c-data"} {
		st, err := store.GetPendingStatus(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, st, "failed contract %s must not get a status", id)
	}

	assert.Equal(t, 1, obs.outcomes[loan.OutcomeUpdated])
	assert.Equal(t, 3, obs.outcomes[loan.OutcomeFailed])
	assert.Equal(t, 1, obs.runs)

	var logged int
	for _, e := range hook.AllEntries() {
		if e.Message == "contract recompute failed" {
			logged++
			assert.Contains(t, e.Data, "contract_id")
			assert.Contains(t, e.Data, "kind")
		}
	}
	assert.Equal(t, 3, logged)
}

func TestRunRecompute_MissingParameters(t *testing.T) {
	r, store, _ := newTestRecomputer(t, date(2025, time.March, 6))
	ctx := context.Background()

	other := tenDaily("c-other", false)
	other.CompanyID = "no-params"
	store.PutContract(other)
	store.PutContract(tenDaily("c-1", false))

	res, err := r.RunRecompute(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, generic.ContractID("c-other"), res.Failed[0].ContractID)
	assert.Equal(t, generic.KindConfiguration, res.Failed[0].Kind)
}

func TestRunRecompute_CompanyScope(t *testing.T) {
	r, store, _ := newTestRecomputer(t, date(2025, time.March, 6))
	ctx := context.Background()

	other := tenDaily("c-other", false)
	other.CompanyID = "globex"
	store.PutContract(other)
	store.PutContract(tenDaily("c-1", false))

	inactive := tenDaily("c-done", false)
	inactive.IsActive = false
	store.PutContract(inactive)

	res, err := r.RunRecompute(ctx, testCompany)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Failed)
	assert.Equal(t, testCompany, res.CompanyID)
}

// =============================================================================
// RUN HISTORY & AUDIT
// =============================================================================

func TestRunRecompute_RecordsRunAndAudit(t *testing.T) {
	r, store, _ := newTestRecomputer(t, date(2025, time.March, 6))
	r.Audit = store
	store.PutContract(tenDaily("c-1", false))

	ctx := generic.WithActor(context.Background(), "ops@acme", "10.0.0.1")
	res, err := r.RunRecompute(ctx, "")
	require.NoError(t, err)

	runs, err := store.ListRecomputeRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, loan.RunCompleted, runs[0].Status)
	assert.Equal(t, loan.TriggerManual, runs[0].Trigger)
	assert.Equal(t, 1, runs[0].Updated)
	require.NotNil(t, runs[0].CompletedAt)

	events := store.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "ops@acme", events[0].Actor)
	assert.Equal(t, "10.0.0.1", events[0].IP)
	assert.Contains(t, events[0].Description, "1 updated")
}

func TestRunRecompute_ScheduledTrigger(t *testing.T) {
	r, store, _ := newTestRecomputer(t, date(2025, time.March, 6))
	ctx := loan.WithTrigger(context.Background(), loan.TriggerSchedule)

	_, err := r.RunRecompute(ctx, "")
	require.NoError(t, err)

	runs, _ := store.ListRecomputeRuns(ctx, 1)
	require.Len(t, runs, 1)
	assert.Equal(t, loan.TriggerSchedule, runs[0].Trigger)
}

func TestRunRecompute_SystemActorAloneIsManual(t *testing.T) {
	// GIVEN: A context carrying the system actor but no trigger
	// THEN: The run is recorded as manual; only the scheduler marks runs "schedule"

	r, store, _ := newTestRecomputer(t, date(2025, time.March, 6))
	ctx := generic.WithActor(context.Background(), generic.ActorSystem, "")

	_, err := r.RunRecompute(ctx, "")
	require.NoError(t, err)

	runs, _ := store.ListRecomputeRuns(ctx, 1)
	require.Len(t, runs, 1)
	assert.Equal(t, loan.TriggerManual, runs[0].Trigger)
}

// =============================================================================
// SINGLE CONTRACT
// =============================================================================

func TestRecomputeContract(t *testing.T) {
	r, store, _ := newTestRecomputer(t, date(2025, time.March, 6))
	ctx := context.Background()
	store.PutContract(tenDaily("c-1", false))

	res, err := r.RecomputeContract(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.Contains(t, res.Changed, "paymentsLate")

	res, err = r.RecomputeContract(ctx, "c-1")
	require.NoError(t, err)
	assert.False(t, res.Written)
	assert.Empty(t, res.Changed)

	_, err = r.RecomputeContract(ctx, "missing")
	assert.True(t, generic.IsNotFound(err))
}

func TestInspect_DoesNotWrite(t *testing.T) {
	r, store, _ := newTestRecomputer(t, date(2025, time.March, 6))
	ctx := context.Background()
	store.PutContract(tenDaily("c-1", false))

	eval, err := r.Inspect(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, eval.Schedule.Installments, 10)
	assert.Len(t, eval.Reconciliation.Allocations, 10)
	assert.Equal(t, 0, store.StatusWrites())
}
