package loan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

func threeOfForty() *loan.Schedule {
	return &loan.Schedule{
		ContractID: "c-1",
		CompanyID:  testCompany,
		Frequency:  generic.FrequencyWeekly,
		Origin:     monday,
		Total:      generic.MustParseMoney("120.00"),
		Installments: []loan.Installment{
			{Number: 1, DueDate: monday, DueAmount: generic.MustParseMoney("40.00")},
			{Number: 2, DueDate: monday.AddDays(7), DueAmount: generic.MustParseMoney("40.00")},
			{Number: 3, DueDate: monday.AddDays(14), DueAmount: generic.MustParseMoney("40.00")},
		},
	}
}

// =============================================================================
// FIFO ALLOCATION
// =============================================================================

func TestReconcile_FIFO(t *testing.T) {
	// GIVEN: Installments [40, 40, 40]
	// WHEN: Movements of 50 then 30 are recorded
	// THEN: #1 is filled first, the 10 left over goes to #2 with the 30,
	//       #3 stays fully outstanding

	movements := []loan.Movement{
		payment("m-2", "30.00", monday.AddDays(3)),
		payment("m-1", "50.00", monday.AddDays(1)),
	}

	rec, err := loan.Reconcile(threeOfForty(), movements)
	require.NoError(t, err)

	assert.Equal(t, generic.MustParseMoney("40.00"), rec.Allocations[0].Paid)
	assert.True(t, rec.Allocations[0].IsPaid())
	assert.True(t, monday.AddDays(1).Equal(*rec.Allocations[0].PaidAt))

	assert.Equal(t, generic.MustParseMoney("40.00"), rec.Allocations[1].Paid)
	assert.True(t, rec.Allocations[1].IsPaid())
	assert.True(t, monday.AddDays(3).Equal(*rec.Allocations[1].PaidAt), "completed by the second movement")

	assert.True(t, rec.Allocations[2].Paid.IsZero())
	assert.Equal(t, generic.MustParseMoney("40.00"), rec.Allocations[2].Outstanding())

	assert.Equal(t, generic.MustParseMoney("80.00"), rec.PaidAmount)
	assert.Equal(t, generic.MustParseMoney("40.00"), rec.Outstanding())
	assert.True(t, monday.AddDays(3).Equal(*rec.LastPaymentDate))
}

func TestReconcile_PartialInstallment(t *testing.T) {
	rec, err := loan.Reconcile(threeOfForty(), []loan.Movement{
		payment("m-1", "50.00", monday),
	})
	require.NoError(t, err)

	assert.True(t, rec.Allocations[0].IsPaid())
	assert.True(t, rec.Allocations[1].IsPartial())
	assert.Equal(t, generic.MustParseMoney("30.00"), rec.Allocations[1].Outstanding())
	assert.Nil(t, rec.Allocations[1].PaidAt)
}

func TestReconcile_NotValidatedDoesNotClearDebt(t *testing.T) {
	// GIVEN: A bank transfer whose proof is not yet validated
	// THEN: It is tracked separately and no installment is reduced

	transfer := payment("m-1", "40.00", monday)
	transfer.Validated = false
	transfer.Kind = loan.MovementBank

	rec, err := loan.Reconcile(threeOfForty(), []loan.Movement{transfer})
	require.NoError(t, err)

	assert.Equal(t, generic.MustParseMoney("40.00"), rec.NotValidatedAmount)
	assert.True(t, rec.PaidAmount.IsZero())
	assert.Equal(t, generic.MustParseMoney("120.00"), rec.Outstanding())
	require.NotNil(t, rec.LastPaymentDate)
}

func TestReconcile_OverpaymentIsDiscarded(t *testing.T) {
	rec, err := loan.Reconcile(threeOfForty(), []loan.Movement{
		payment("m-1", "100.00", monday),
		payment("m-2", "50.00", monday.AddDays(8)),
	})
	require.NoError(t, err)

	assert.Equal(t, generic.MustParseMoney("120.00"), rec.PaidAmount)
	assert.Equal(t, generic.MustParseMoney("30.00"), rec.DiscardedAmount)
	assert.True(t, rec.Outstanding().IsZero(), "no negative balance")
	for _, a := range rec.Allocations {
		assert.False(t, a.Outstanding().IsNegative())
	}
}

func TestReconcile_SameDayOrderedByID(t *testing.T) {
	rec, err := loan.Reconcile(threeOfForty(), []loan.Movement{
		payment("m-b", "20.00", monday),
		payment("m-a", "40.00", monday),
	})
	require.NoError(t, err)
	assert.Equal(t, generic.MustParseMoney("40.00"), rec.Allocations[0].Paid)
	assert.Equal(t, generic.MustParseMoney("20.00"), rec.Allocations[1].Paid)
}

// =============================================================================
// REJECTED INPUT
// =============================================================================

func TestReconcile_RejectsMovementBeforeOrigin(t *testing.T) {
	_, err := loan.Reconcile(threeOfForty(), []loan.Movement{
		payment("m-early", "10.00", monday.AddDays(-1)),
	})
	require.Error(t, err)

	var diErr *generic.DataIntegrityError
	require.ErrorAs(t, err, &diErr)
	assert.Equal(t, "m-early", diErr.MovementID)
	assert.Equal(t, generic.KindDataIntegrity, generic.ErrorKind(err))
}

func TestReconcile_RejectsNegativeAmount(t *testing.T) {
	refund := payment("m-neg", "0", monday)
	refund.Amount = generic.NewMoney(-5, 0)

	_, err := loan.Reconcile(threeOfForty(), []loan.Movement{refund})
	assert.ErrorIs(t, err, generic.ErrDataIntegrity)
}

func TestReconcile_EmptySchedule(t *testing.T) {
	_, err := loan.Reconcile(&loan.Schedule{ContractID: "c-1", Origin: date(2025, time.March, 3)}, nil)
	assert.ErrorIs(t, err, generic.ErrConfiguration)
}
