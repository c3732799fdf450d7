/*
scheduler.go - Nightly jobs

PURPOSE:
  Runs the engine's maintenance jobs on cron schedules:
  - recompute: full recompute pass over every company
  - cleanup:   purge contracts finished more than the grace period ago
  - calendar:  materialize weekly rest days for every company up to a
               rolling horizon, so schedules generated months ahead see them

DESIGN:
  - robfig/cron with SkipIfStillRunning: a slow run is never overlapped by
    the next tick of the same job
  - Each job runs with the system actor on its context; the recompute job
    also marks its run with trigger "schedule"
  - The same job bodies are exported (RunRecompute, RunCleanup,
    RunCalendar) for tests and one-off admin use

USAGE:
  s := NewScheduler(handler, SchedulerConfig{RecomputeSpec: "0 2 * * *"}, log)
  if err := s.Start(); err != nil { ... }
  defer s.Stop(ctx)

SEE ALSO:
  - handlers.go: Manual triggers for the same jobs
  - loan/recompute.go: RunRecompute
*/
package api

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

// SchedulerConfig holds the cron specs. An empty spec disables that job.
type SchedulerConfig struct {
	RecomputeSpec string
	CleanupSpec   string
	CalendarSpec  string

	// HorizonMonths is how far ahead rest days are materialized.
	HorizonMonths int
}

// Scheduler runs the nightly jobs.
type Scheduler struct {
	Handler *Handler
	Config  SchedulerConfig
	Log     *logrus.Entry

	cron *cron.Cron
}

func NewScheduler(h *Handler, cfg SchedulerConfig, log *logrus.Entry) *Scheduler {
	if cfg.HorizonMonths <= 0 {
		cfg.HorizonMonths = 3
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	logger := cronLogger{log}
	return &Scheduler{
		Handler: h,
		Config:  cfg,
		Log:     log,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"recompute", s.Config.RecomputeSpec, s.RunRecompute},
		{"cleanup", s.Config.CleanupSpec, s.RunCleanup},
		{"calendar", s.Config.CalendarSpec, s.RunCalendar},
	}

	for _, job := range jobs {
		if job.spec == "" {
			s.Log.WithField("job", job.name).Info("job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", job.name, job.spec, err)
		}
		s.Log.WithFields(logrus.Fields{"job": job.name, "spec": job.spec}).Info("job scheduled")
	}

	s.cron.Start()
	return nil
}

// Stop stops scheduling and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.Log.Info("scheduler stopped")
	case <-ctx.Done():
		s.Log.Warn("scheduler stop timed out with jobs still running")
	}
}

func (s *Scheduler) runJob(name string, run func(context.Context) error) {
	ctx := generic.WithActor(context.Background(), generic.ActorSystem, "")
	if err := run(ctx); err != nil {
		s.Log.WithError(err).WithField("job", name).Error("scheduled job failed")
	}
}

// RunRecompute recomputes every active contract of every company. The run
// is recorded with trigger "schedule".
func (s *Scheduler) RunRecompute(ctx context.Context) error {
	_, err := s.Handler.Recomputer.RunRecompute(loan.WithTrigger(ctx, loan.TriggerSchedule), "")
	return err
}

// RunCleanup purges finished contracts past the grace period.
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	_, err := s.Handler.Purger.Purge(ctx, s.Handler.now())
	return err
}

// RunCalendar materializes rest days for every configured company through
// today + HorizonMonths. A failing company does not stop the others.
func (s *Scheduler) RunCalendar(ctx context.Context) error {
	companies, err := s.Handler.Store.ListCompanyIDs(ctx)
	if err != nil {
		return err
	}

	through := generic.DateOf(s.Handler.now()).AddMonths(s.Config.HorizonMonths)
	var failed int
	for _, companyID := range companies {
		if _, err := s.Handler.Calendars.MaterializeRestDaysUntil(ctx, companyID, through); err != nil {
			failed++
			s.Log.WithError(err).WithField("company_id", companyID).Warn("rest days not materialized")
		}
	}
	if failed > 0 {
		return fmt.Errorf("calendar job: %d of %d companies failed", failed, len(companies))
	}
	return nil
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	log *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error("cron: " + msg)
}

func fields(keysAndValues []any) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
