package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
	"github.com/warp/collection-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const acme = generic.CompanyID("acme")

var monday = generic.NewTimePoint(2025, time.March, 3)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testContract(id string) loan.Contract {
	return loan.Contract{
		ID:         generic.ContractID(id),
		CompanyID:  acme,
		RouteID:    "route-7",
		ClientID:   "client-" + id,
		ClientName: "Client " + id,
		Modality: &loan.PaymentModality{
			ID:        "daily-25",
			CompanyID: acme,
			Type:      generic.FrequencyDaily,
			Percent:   decimal.NewFromInt(25),
			Cadence:   loan.Cadence{Days: 10},
		},
		Principal: generic.MustParseMoney("800.00"),
		StartDate: monday,
		IsActive:  true,
	}
}

func testParams() loan.Parameters {
	return loan.Parameters{
		CompanyID:                         acme,
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

// =============================================================================
// CONTRACT SNAPSHOT
// =============================================================================

func TestStore_ContractRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := testContract("c-1")
	c.Movements = []loan.Movement{
		{ID: "m-2", Amount: generic.MustParseMoney("30.00"), Date: monday.AddDays(2), Validated: true, Kind: loan.MovementCash},
		{ID: "m-1", Amount: generic.MustParseMoney("50.00"), Date: monday.AddDays(1), Validated: true, Kind: loan.MovementCash},
	}
	c.Payments = []loan.Movement{
		{ID: "p-1", Amount: generic.MustParseMoney("100.00"), Date: monday.AddDays(3), Validated: false, Kind: loan.MovementBank},
	}
	require.NoError(t, store.SaveContract(ctx, c))

	got, err := store.GetContract(ctx, "c-1")
	require.NoError(t, err)

	assert.Equal(t, acme, got.CompanyID)
	assert.Equal(t, "route-7", got.RouteID)
	assert.Equal(t, generic.MustParseMoney("800.00"), got.Principal)
	assert.True(t, monday.Equal(got.StartDate))
	require.NotNil(t, got.Modality)
	assert.Equal(t, generic.FrequencyDaily, got.Modality.Type)
	assert.Equal(t, 10, got.Modality.Periods())

	require.Len(t, got.Movements, 2)
	assert.Equal(t, "m-1", got.Movements[0].ID, "ordered by date")
	require.Len(t, got.Payments, 1)
	assert.False(t, got.Payments[0].Validated)
	assert.Equal(t, loan.MovementBank, got.Payments[0].Kind)
	assert.Nil(t, got.PendingStatus)
}

func TestStore_GetContract_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetContract(context.Background(), "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestStore_RecordMovement_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveContract(ctx, testContract("c-1")))

	m := loan.Movement{ID: "m-1", Amount: generic.MustParseMoney("10.00"), Date: monday, Validated: true, Kind: loan.MovementCash}
	require.NoError(t, store.RecordMovement(ctx, "c-1", m, sqlite.SourceMovement))
	require.NoError(t, store.RecordMovement(ctx, "c-1", m, sqlite.SourceMovement))

	got, err := store.GetContract(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, got.Movements, 1)
}

// =============================================================================
// PENDING STATUS
// =============================================================================

func TestStore_PendingStatusRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveContract(ctx, testContract("c-1")))

	last := monday.AddDays(2)
	st := loan.PendingStatus{
		PayedAmount:            generic.MustParseMoney("150.00"),
		PendingAmount:          generic.MustParseMoney("250.00"),
		AmountLateOrIncomplete: generic.MustParseMoney("150.00"),
		SurchargeAmount:        generic.MustParseMoney("15.00"),
		PaymentsLate:           1,
		PaymentsIncomplete:     1,
		PaymentsUpToDate:       1,
		PaymentsRemaining:      7,
		DaysExpired:            2,
		TodayIncomplete:        true,
		DaysPending:            6,
		LastPaymentDate:        &last,
		Color:                  loan.ColorYellow,
		Icon:                   loan.IconYellow,
		EvaluatedOn:            monday.AddDays(3),
	}
	require.NoError(t, store.SavePendingStatus(ctx, "c-1", st))

	got, err := store.GetPendingStatus(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, st.Diff(*got))
	assert.True(t, st.EvaluatedOn.Equal(got.EvaluatedOn))

	// Upsert
	st.Color = loan.ColorRed
	require.NoError(t, store.SavePendingStatus(ctx, "c-1", st))
	got, _ = store.GetPendingStatus(ctx, "c-1")
	assert.Equal(t, loan.ColorRed, got.Color)

	snapshot, err := store.GetContract(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot.PendingStatus)
	assert.Equal(t, loan.ColorRed, snapshot.PendingStatus.Color)
}

func TestStore_SavePendingStatus_UnknownContract(t *testing.T) {
	store := newTestStore(t)
	err := store.SavePendingStatus(context.Background(), "ghost", loan.PendingStatus{Color: loan.ColorGreen})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// PURGE
// =============================================================================

func TestStore_PurgeFinishedBefore_Cascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	finished := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	old := testContract("c-old")
	old.IsActive = false
	old.FinishedAt = &finished
	old.Movements = []loan.Movement{{ID: "m-1", Amount: 100, Date: monday, Validated: true, Kind: loan.MovementCash}}
	require.NoError(t, store.SaveContract(ctx, old))
	require.NoError(t, store.SavePendingStatus(ctx, "c-old", loan.PendingStatus{Color: loan.ColorGreen, Icon: loan.IconGreen}))
	require.NoError(t, store.SaveContract(ctx, testContract("c-live")))

	n, err := store.PurgeFinishedBefore(ctx, finished.AddDate(0, 0, 21))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetContract(ctx, "c-old")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	st, err := store.GetPendingStatus(ctx, "c-old")
	require.NoError(t, err)
	assert.Nil(t, st)

	refs, err := store.ListActiveContracts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []loan.ContractRef{{ID: "c-live", CompanyID: acme}}, refs)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestStore_Parameters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetParameters(ctx, acme)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	p := testParams()
	p.RestDay = time.Saturday
	require.NoError(t, store.SaveParameters(ctx, p))

	got, err := store.GetParameters(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, got.RestDay)
	assert.Equal(t, 4, got.MinimumInstallmentsRedDaily)

	ids, err := store.ListCompanyIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []generic.CompanyID{acme}, ids)
}

func TestStore_Arrears_SoftDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveArrear(ctx, loan.Arrear{ID: "a-1", CompanyID: acme, Year: 2025, Month: time.March, Percent: decimal.NewFromInt(5)}))
	require.NoError(t, store.SaveArrear(ctx, loan.Arrear{ID: "a-2", CompanyID: acme, Year: 2025, Month: time.March, Percent: decimal.RequireFromString("7.5")}))

	a, err := store.GetArrear(ctx, acme, 2025, time.March)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "a-2", a.ID, "replacement supersedes the old row")
	assert.Equal(t, "7.5", a.Percent.String())

	require.NoError(t, store.DeleteArrear(ctx, "a-2"))
	a, err = store.GetArrear(ctx, acme, 2025, time.March)
	require.NoError(t, err)
	assert.Nil(t, a)

	all, err := store.ListArrears(ctx, acme)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func TestStore_InsertHolidays_SkipsExistingDates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.InsertHolidays(ctx, acme, []generic.Holiday{
		{ID: "h-1", Date: monday.AddDays(6), Description: generic.RestDayDescription},
		{ID: "h-2", Date: monday.AddDays(13), Description: generic.RestDayDescription},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.InsertHolidays(ctx, acme, []generic.Holiday{
		{ID: "h-3", Date: monday.AddDays(13), Description: "Founders day"},
		{ID: "h-4", Date: monday.AddDays(20), Description: generic.RestDayDescription},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	holidays, err := store.ListHolidays(ctx, acme)
	require.NoError(t, err)
	require.Len(t, holidays, 3)
	assert.Equal(t, generic.RestDayDescription, holidays[1].Description, "first row for a date wins")
	assert.Equal(t, acme, holidays[0].CompanyID)
}

// =============================================================================
// RUNS, WORK QUEUE & AUDIT
// =============================================================================

func TestStore_RecomputeRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, time.March, 3, 2, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRecomputeRun(ctx, loan.RecomputeRun{ID: "r-1", Status: loan.RunRunning, Trigger: loan.TriggerSchedule, StartedAt: start}))
	done := start.Add(time.Minute)
	require.NoError(t, store.SaveRecomputeRun(ctx, loan.RecomputeRun{ID: "r-1", Status: loan.RunCompleted, Trigger: loan.TriggerSchedule, Updated: 4, StartedAt: start, CompletedAt: &done}))
	require.NoError(t, store.SaveRecomputeRun(ctx, loan.RecomputeRun{ID: "r-2", Status: loan.RunFailed, Trigger: loan.TriggerManual, Error: "boom", StartedAt: start.Add(time.Hour)}))

	runs, err := store.ListRecomputeRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r-2", runs[0].ID)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Equal(t, loan.RunCompleted, runs[1].Status)
	assert.Equal(t, 4, runs[1].Updated)
	require.NotNil(t, runs[1].CompletedAt)
}

func TestStore_ListWorkQueue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveContract(ctx, testContract("c-1")))
	require.NoError(t, store.SaveContract(ctx, testContract("c-2")))
	require.NoError(t, store.SavePendingStatus(ctx, "c-2", loan.PendingStatus{Color: loan.ColorRed, Icon: loan.IconRed, DaysExpired: 9}))

	items, err := store.ListWorkQueue(ctx, acme)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Nil(t, items[0].Status)
	require.NotNil(t, items[1].Status)
	assert.Equal(t, 9, items[1].Status.DaysExpired)
	assert.Equal(t, "Client c-2", items[1].ClientName)
}

func TestStore_AuditEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := generic.WithActor(context.Background(), "ops@acme", "10.0.0.9")

	require.NoError(t, store.RecordEvent(ctx, generic.NewAuditEntry(ctx, "manual recompute")))

	events, err := store.ListAuditEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ops@acme", events[0].Actor)
	assert.Equal(t, "10.0.0.9", events[0].IP)
	assert.NotEmpty(t, events[0].ID)
}

// =============================================================================
// END TO END
// =============================================================================

func TestStore_RecomputeEndToEnd(t *testing.T) {
	// GIVEN: A SQLite store with a settled contract and a late one
	// WHEN: The runner runs twice
	// THEN: Both statuses are written once, then nothing changes

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveParameters(ctx, testParams()))

	settled := testContract("c-settled")
	settled.Payments = []loan.Movement{{ID: "p-1", Amount: generic.MustParseMoney("1000.00"), Date: monday, Validated: true, Kind: loan.MovementBank}}
	require.NoError(t, store.SaveContract(ctx, settled))
	require.NoError(t, store.SaveContract(ctx, testContract("c-late")))

	r := loan.NewRecomputer(store, logrus.NewEntry(logrus.New()))
	r.Clock = func() time.Time { return time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC) }

	res, err := r.RunRecompute(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Empty(t, res.Failed)

	late, err := store.GetPendingStatus(ctx, "c-late")
	require.NoError(t, err)
	assert.Equal(t, 6, late.PaymentsLate, "Mar 3-8, Sunday Mar 9 rolled")
	assert.Equal(t, loan.ColorRed, late.Color)

	res, err = r.RunRecompute(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Unchanged)
}
