/*
calendar.go - Business calendar (which days a company collects on)

PURPOSE:
  Field collectors do not work on the company's weekly rest day or on
  company holidays. Installment due dates that land on such a day roll
  forward to the next payable day.

RULES:
  A date is NOT payable for a company when:
  1. It falls on the company's weekly rest day, or
  2. It matches a stored Holiday for that company

  Whether a contract honours the calendar at all is decided by its payment
  modality (OffDays), not here.

REST-DAY HOLIDAYS:
  Rest days can also be materialized as ordinary Holiday rows tagged with
  RestDayDescription (see loan/calendar.go). Both sources are consulted, so
  a calendar built from materialized rows and a calendar built from the
  configured weekday agree.

SEE ALSO:
  - store.go: HolidayStore persistence interface
  - loan/calendar.go: Loading and rest-day materialization
  - loan/schedule.go: Forward rolling of due dates
*/
package generic

import (
	"sort"
	"time"
)

// RestDayDescription tags holidays generated from the weekly rest day.
const RestDayDescription = "Weekly rest day"

// DefaultRestDay is used when a company has not configured one.
const DefaultRestDay = time.Sunday

// Holiday is a non-collectible date for a company.
type Holiday struct {
	ID          string
	CompanyID   CompanyID
	Date        TimePoint
	Description string
}

// IsRestDay reports whether the holiday was generated from the weekly rest day.
func (h Holiday) IsRestDay() bool { return h.Description == RestDayDescription }

// BusinessCalendar answers whether collection happens on a date.
type BusinessCalendar interface {
	IsPayable(companyID CompanyID, date TimePoint) bool
}

// =============================================================================
// CALENDAR - In-memory snapshot of rest days and holidays
// =============================================================================

// Calendar is a read-only snapshot built once per recompute run.
// It is safe for concurrent reads after construction.
type Calendar struct {
	restDays map[CompanyID]time.Weekday
	holidays map[CompanyID]map[string]Holiday
}

func NewCalendar() *Calendar {
	return &Calendar{
		restDays: make(map[CompanyID]time.Weekday),
		holidays: make(map[CompanyID]map[string]Holiday),
	}
}

// SetRestDay configures the weekly rest day of a company.
func (c *Calendar) SetRestDay(companyID CompanyID, day time.Weekday) *Calendar {
	c.restDays[companyID] = day
	return c
}

// AddHolidays registers holidays. Duplicate dates keep the first entry.
func (c *Calendar) AddHolidays(holidays ...Holiday) *Calendar {
	for _, h := range holidays {
		byDate, ok := c.holidays[h.CompanyID]
		if !ok {
			byDate = make(map[string]Holiday)
			c.holidays[h.CompanyID] = byDate
		}
		if _, exists := byDate[h.Date.String()]; !exists {
			byDate[h.Date.String()] = h
		}
	}
	return c
}

// RestDay returns the company's rest day (DefaultRestDay when unset).
func (c *Calendar) RestDay(companyID CompanyID) time.Weekday {
	if d, ok := c.restDays[companyID]; ok {
		return d
	}
	return DefaultRestDay
}

func (c *Calendar) IsHoliday(companyID CompanyID, date TimePoint) bool {
	_, ok := c.holidays[companyID][date.String()]
	return ok
}

func (c *Calendar) IsPayable(companyID CompanyID, date TimePoint) bool {
	if date.Weekday() == c.RestDay(companyID) {
		return false
	}
	return !c.IsHoliday(companyID, date)
}

// Holidays returns the company's holidays ordered by date.
func (c *Calendar) Holidays(companyID CompanyID) []Holiday {
	out := make([]Holiday, 0, len(c.holidays[companyID]))
	for _, h := range c.holidays[companyID] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// NextPayable returns the first payable date on or after date, looking at
// most maxDays ahead. ok is false when no payable day exists in that window.
func NextPayable(cal BusinessCalendar, companyID CompanyID, date TimePoint, maxDays int) (TimePoint, bool) {
	for i := 0; i <= maxDays; i++ {
		candidate := date.AddDays(i)
		if cal.IsPayable(companyID, candidate) {
			return candidate, true
		}
	}
	return TimePoint{}, false
}

// OccurrencesOf lists every date in [from, to] falling on weekday.
func OccurrencesOf(weekday time.Weekday, from, to TimePoint) []TimePoint {
	var out []TimePoint
	offset := (int(weekday) - int(from.Weekday()) + 7) % 7
	for d := from.AddDays(offset); d.BeforeOrEqual(to); d = d.AddDays(7) {
		out = append(out, d)
	}
	return out
}
