/*
calendar.go - Loading and materializing company business calendars

PURPOSE:
  Bridges the pure generic.Calendar and persistence. Load builds the
  read-only snapshot a recompute run passes into the schedule generator.
  MaterializeRestDaysUntil writes the weekly rest day as explicit holiday
  rows so other readers of the holiday table see the same calendar.

MATERIALIZATION:
  window = [today - 1 month, through]
  Every occurrence of the company rest weekday in the window becomes a
  Holiday tagged generic.RestDayDescription. Dates that already have any
  holiday row are skipped, so overlapping calls never duplicate rows.

  The one-month look-back catches schedules already in flight whose early
  due dates precede today.

SEE ALSO:
  - generic/calendar.go: Calendar, OccurrencesOf
  - recompute.go: Loads one calendar per company per run
*/
package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/collection-engine/generic"
)

// CalendarRepository is what the calendar service needs from the store.
type CalendarRepository interface {
	generic.HolidayStore
	ParameterRepository
}

// CalendarService loads and materializes company calendars.
type CalendarService struct {
	Repo     CalendarRepository
	Audit    generic.AuditSink // optional
	Observer Observer          // optional
	Log      *logrus.Entry
	Clock    func() time.Time
}

func NewCalendarService(repo CalendarRepository, log *logrus.Entry) *CalendarService {
	return &CalendarService{
		Repo:     repo,
		Log:      log,
		Clock:    time.Now,
		Observer: NopObserver{},
	}
}

func (s *CalendarService) today() generic.TimePoint {
	if s.Clock == nil {
		return generic.Today()
	}
	return generic.DateOf(s.Clock())
}

// restDay returns the company rest weekday, DefaultRestDay when the company
// has no parameters yet.
func (s *CalendarService) restDay(ctx context.Context, companyID generic.CompanyID) (time.Weekday, error) {
	params, err := s.Repo.GetParameters(ctx, companyID)
	if errors.Is(err, generic.ErrNotFound) {
		return generic.DefaultRestDay, nil
	}
	if err != nil {
		return 0, err
	}
	return params.RestDay, nil
}

// Load builds the calendar snapshot of one company.
func (s *CalendarService) Load(ctx context.Context, companyID generic.CompanyID) (*generic.Calendar, error) {
	day, err := s.restDay(ctx, companyID)
	if err != nil {
		return nil, err
	}
	holidays, err := s.Repo.ListHolidays(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return generic.NewCalendar().SetRestDay(companyID, day).AddHolidays(holidays...), nil
}

// MaterializeRestDaysUntil inserts a holiday row for every rest day between
// a month ago and through. Returns the number of rows inserted.
func (s *CalendarService) MaterializeRestDaysUntil(ctx context.Context, companyID generic.CompanyID, through generic.TimePoint) (int, error) {
	if companyID == "" {
		return 0, fmt.Errorf("%w: company id is required", generic.ErrInvalidInput)
	}
	from := s.today().AddMonths(-1)
	if through.Before(from) {
		return 0, fmt.Errorf("%w: through date %s is before %s", generic.ErrInvalidInput, through, from)
	}

	day, err := s.restDay(ctx, companyID)
	if err != nil {
		return 0, err
	}
	existing, err := s.Repo.ListHolidays(ctx, companyID)
	if err != nil {
		return 0, err
	}
	taken := make(map[string]bool, len(existing))
	for _, h := range existing {
		taken[h.Date.String()] = true
	}

	var fresh []generic.Holiday
	for _, date := range generic.OccurrencesOf(day, from, through) {
		if taken[date.String()] {
			continue
		}
		fresh = append(fresh, generic.Holiday{
			ID:          uuid.NewString(),
			CompanyID:   companyID,
			Date:        date,
			Description: generic.RestDayDescription,
		})
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	inserted, err := s.Repo.InsertHolidays(ctx, companyID, fresh)
	if err != nil {
		return 0, err
	}

	s.observer().HolidaysMaterialized(companyID, inserted)
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"company_id": companyID,
			"from":       from.String(),
			"through":    through.String(),
			"inserted":   inserted,
		}).Info("rest days materialized")
	}
	if s.Audit != nil && inserted > 0 {
		entry := generic.NewAuditEntry(ctx, fmt.Sprintf("materialized %d rest days through %s", inserted, through))
		entry.CompanyID = companyID
		_ = s.Audit.RecordEvent(ctx, entry)
	}
	return inserted, nil
}

func (s *CalendarService) observer() Observer {
	if s.Observer == nil {
		return NopObserver{}
	}
	return s.Observer
}
