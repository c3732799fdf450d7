package loan_test

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testCompany = generic.CompanyID("acme")

// monday is 2025-03-03; the following Sunday is 2025-03-09.
var monday = generic.NewTimePoint(2025, time.March, 3)

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func dailyModality(days int, offDays bool) *loan.PaymentModality {
	return &loan.PaymentModality{
		ID:        "daily",
		CompanyID: testCompany,
		Type:      generic.FrequencyDaily,
		Percent:   decimal.NewFromInt(25),
		Cadence:   loan.Cadence{Days: days},
		OffDays:   offDays,
	}
}

// tenDaily is 800.00 + 25% = 1000.00 over 10 daily installments of 100.00.
func tenDaily(id string, offDays bool) loan.Contract {
	return loan.Contract{
		ID:         generic.ContractID(id),
		CompanyID:  testCompany,
		RouteID:    "route-1",
		ClientName: "Client " + id,
		Modality:   dailyModality(10, offDays),
		Principal:  generic.MustParseMoney("800.00"),
		StartDate:  monday,
		IsActive:   true,
	}
}

func testParams() loan.Parameters {
	return loan.Parameters{
		CompanyID:                         testCompany,
		MinimumInstallmentsYellowDaily:    2,
		MinimumInstallmentsRedDaily:       4,
		MinimumInstallmentsYellowWeekly:   1,
		MinimumInstallmentsRedWeekly:      2,
		MinimumInstallmentsYellowBiweekly: 1,
		MinimumInstallmentsRedBiweekly:    2,
		MinimumInstallmentsYellowMonthly:  1,
		MinimumInstallmentsRedMonthly:     2,
		DefaultMaxClientDebtDays:          30,
		MaxDaysForCancellation:            60,
		GracePeriodDays:                   0,
		RestDay:                           time.Sunday,
	}
}

func sundayCalendar() *generic.Calendar {
	return generic.NewCalendar().SetRestDay(testCompany, time.Sunday)
}

func payment(id string, amount string, on generic.TimePoint) loan.Movement {
	return loan.Movement{
		ID:        id,
		Amount:    generic.MustParseMoney(amount),
		Date:      on,
		Validated: true,
		Kind:      loan.MovementCash,
	}
}

func fixedClock(tp generic.TimePoint) func() time.Time {
	return func() time.Time { return tp.Time.Add(10 * time.Hour) }
}
