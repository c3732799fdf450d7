package loan_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
	"github.com/warp/collection-engine/store/memory"
)

func newTestCalendarService(today generic.TimePoint) (*loan.CalendarService, *memory.Store) {
	store := memory.New()
	svc := loan.NewCalendarService(store, logrus.NewEntry(logrus.New()))
	svc.Clock = fixedClock(today)
	return svc, store
}

func TestMaterializeRestDays_Idempotent(t *testing.T) {
	// GIVEN: Today is 2025-03-03, company has no parameters (Sunday default)
	// WHEN: Materializing through April, then again through May
	// THEN: The overlap is not duplicated; only May's Sundays are added

	svc, store := newTestCalendarService(monday)
	ctx := context.Background()

	n, err := svc.MaterializeRestDaysUntil(ctx, testCompany, date(2025, time.April, 30))
	require.NoError(t, err)
	assert.Equal(t, 12, n, "Sundays from Feb 3 to Apr 30")

	n, err = svc.MaterializeRestDaysUntil(ctx, testCompany, date(2025, time.April, 30))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = svc.MaterializeRestDaysUntil(ctx, testCompany, date(2025, time.May, 31))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	holidays, err := store.ListHolidays(ctx, testCompany)
	require.NoError(t, err)
	assert.Len(t, holidays, 16)

	seen := make(map[string]bool)
	for _, h := range holidays {
		assert.False(t, seen[h.Date.String()], "duplicate %s", h.Date)
		seen[h.Date.String()] = true
		assert.Equal(t, time.Sunday, h.Date.Weekday())
		assert.True(t, h.IsRestDay())
	}
}

func TestMaterializeRestDays_SkipsExistingHoliday(t *testing.T) {
	svc, store := newTestCalendarService(monday)
	ctx := context.Background()

	_, err := store.InsertHolidays(ctx, testCompany, []generic.Holiday{
		{ID: "h-1", CompanyID: testCompany, Date: date(2025, time.April, 20), Description: "Easter"},
	})
	require.NoError(t, err)

	n, err := svc.MaterializeRestDaysUntil(ctx, testCompany, date(2025, time.April, 30))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	holidays, _ := store.ListHolidays(ctx, testCompany)
	for _, h := range holidays {
		if h.Date.Equal(date(2025, time.April, 20)) {
			assert.Equal(t, "Easter", h.Description)
		}
	}
}

func TestMaterializeRestDays_UsesCompanyRestDay(t *testing.T) {
	svc, store := newTestCalendarService(monday)
	params := testParams()
	params.RestDay = time.Saturday
	store.PutParameters(params)

	n, err := svc.MaterializeRestDaysUntil(context.Background(), testCompany, date(2025, time.March, 31))
	require.NoError(t, err)

	holidays, _ := store.ListHolidays(context.Background(), testCompany)
	require.Len(t, holidays, n)
	for _, h := range holidays {
		assert.Equal(t, time.Saturday, h.Date.Weekday())
	}
}

func TestMaterializeRestDays_InvalidInput(t *testing.T) {
	svc, _ := newTestCalendarService(monday)

	_, err := svc.MaterializeRestDaysUntil(context.Background(), testCompany, date(2024, time.December, 1))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = svc.MaterializeRestDaysUntil(context.Background(), "", date(2025, time.May, 1))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestCalendarService_Load(t *testing.T) {
	svc, store := newTestCalendarService(monday)
	ctx := context.Background()
	_, err := store.InsertHolidays(ctx, testCompany, []generic.Holiday{
		{ID: "h-1", CompanyID: testCompany, Date: date(2025, time.March, 5), Description: "Carnival"},
	})
	require.NoError(t, err)

	cal, err := svc.Load(ctx, testCompany)
	require.NoError(t, err)

	assert.False(t, cal.IsPayable(testCompany, date(2025, time.March, 5)))
	assert.False(t, cal.IsPayable(testCompany, date(2025, time.March, 9)), "Sunday by default")
	assert.True(t, cal.IsPayable(testCompany, date(2025, time.March, 6)))
}

// =============================================================================
// PURGE
// =============================================================================

func TestPurger_GracePeriod(t *testing.T) {
	store := memory.New()
	now := time.Date(2025, time.April, 30, 12, 0, 0, 0, time.UTC)

	old := tenDaily("c-old", false)
	old.IsActive = false
	finishedOld := now.AddDate(0, 0, -22)
	old.FinishedAt = &finishedOld
	store.PutContract(old)

	recent := tenDaily("c-recent", false)
	recent.IsActive = false
	finishedRecent := now.AddDate(0, 0, -20)
	recent.FinishedAt = &finishedRecent
	store.PutContract(recent)

	store.PutContract(tenDaily("c-active", false))

	p := loan.NewPurger(store, 0, nil)
	n, err := p.Purge(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetContract(context.Background(), "c-old")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = store.GetContract(context.Background(), "c-recent")
	assert.NoError(t, err)
	_, err = store.GetContract(context.Background(), "c-active")
	assert.NoError(t, err)
}
