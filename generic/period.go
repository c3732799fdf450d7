package generic

import "fmt"

// =============================================================================
// FREQUENCY - How often an installment falls due
// =============================================================================

// Frequency is the collection cadence of a payment modality.
type Frequency string

const (
	FrequencyDaily       Frequency = "daily"       // every day
	FrequencyWeekly      Frequency = "weekly"      // every 7 days
	FrequencyFortnightly Frequency = "fortnightly" // every 14 days
	FrequencyMonthly     Frequency = "monthly"     // same day each calendar month
)

// Frequencies lists every supported frequency in display order.
var Frequencies = []Frequency{FrequencyDaily, FrequencyWeekly, FrequencyFortnightly, FrequencyMonthly}

func ParseFrequency(s string) (Frequency, error) {
	for _, f := range Frequencies {
		if string(f) == s {
			return f, nil
		}
	}
	// "biweekly" is the historical name used in company parameters.
	if s == "biweekly" {
		return FrequencyFortnightly, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// =============================================================================
// CADENCE STEPPING - Nominal due dates
// =============================================================================

// Step returns the k-th nominal date of the cadence counted from origin
// (k=0 is origin itself). Nominal dates are always computed from origin,
// never from a previously rolled date, so they cannot drift.
func (f Frequency) Step(origin TimePoint, k int) TimePoint {
	switch f {
	case FrequencyDaily:
		return origin.AddDays(k)
	case FrequencyWeekly:
		return origin.AddDays(7 * k)
	case FrequencyFortnightly:
		return origin.AddDays(14 * k)
	case FrequencyMonthly:
		return origin.AddMonths(k)
	default:
		return origin
	}
}

// Span returns the nominal [first, last] dates of n periods.
func (f Frequency) Span(origin TimePoint, n int) (TimePoint, TimePoint) {
	if n <= 0 {
		return origin, origin
	}
	return origin, f.Step(origin, n-1)
}
