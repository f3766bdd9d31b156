// Package scheduler runs the periodic jobs of the broadcast service: the
// daily channel refresh, when enabled, and the purge of expired idempotency
// records, which always runs.
//
// Jobs are driven by robfig/cron in the configured timezone. Overlapping
// refreshes inside one process are skipped by the cron chain; across
// processes the broadcast run lock keeps runs exclusive.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/services"
)

// DefaultPurgeSchedule removes expired idempotency rows once an hour.
const DefaultPurgeSchedule = "@hourly"

// Refresher is the job body of the daily refresh.
type Refresher interface {
	RefreshDaily(ctx context.Context) (*services.RefreshReport, error)
}

// Purger deletes records that expired before now and reports how many.
type Purger func(ctx context.Context, now time.Time) (int64, error)

// Options configures the scheduler. Zero values fall back to defaults.
type Options struct {
	Schedule      string         // cron spec of the refresh, e.g. "0 9 * * *"
	PurgeSchedule string         // cron spec of the purge; "-" disables it
	Location      *time.Location // defaults to time.Local
	Timeout       time.Duration  // upper bound of one refresh run
}

// Scheduler wraps robfig/cron and owns the registered jobs.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	purge     Purger
	timeout   time.Duration
	refreshID cron.EntryID
}

// New validates the specs and registers the jobs. A nil refresher leaves
// the daily refresh off while the purge still runs. Nothing runs until Start.
func New(opts Options, refresher Refresher, purge Purger) (*Scheduler, error) {
	if refresher == nil && purge == nil {
		return nil, errors.New("scheduler: nothing to schedule")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	clog := cronLogger{l: log.Logger.With().Str("component", "scheduler").Logger()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	s := &Scheduler{cron: c, refresher: refresher, purge: purge, timeout: opts.Timeout}

	if refresher != nil {
		id, err := c.AddFunc(opts.Schedule, func() { s.RunRefresh(context.Background()) })
		if err != nil {
			return nil, fmt.Errorf("scheduler: refresh schedule %q: %w", opts.Schedule, err)
		}
		s.refreshID = id
	}

	purgeSpec := opts.PurgeSchedule
	if purgeSpec == "" {
		purgeSpec = DefaultPurgeSchedule
	}
	if purge != nil && purgeSpec != "-" {
		if _, err := c.AddFunc(purgeSpec, func() { s.RunPurge(context.Background()) }); err != nil {
			return nil, fmt.Errorf("scheduler: purge schedule %q: %w", purgeSpec, err)
		}
	}
	return s, nil
}

// Start begins firing jobs in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	ev := log.Info().Int("jobs", len(s.cron.Entries()))
	if next := s.NextRefresh(); !next.IsZero() {
		ev = ev.Time("next_refresh", next)
	}
	ev.Msg("scheduler started")
}

// Stop prevents new runs and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextRefresh is the next activation of the refresh job, zero before Start
// or when the refresh is off.
func (s *Scheduler) NextRefresh() time.Time {
	if s.refreshID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.refreshID).Next
}

// RunRefresh executes one refresh bounded by the configured timeout. A busy
// run lock is logged and otherwise ignored.
func (s *Scheduler) RunRefresh(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	lg := log.With().Str("job", "refresh").Logger()
	ctx = lg.WithContext(ctx)

	report, err := s.refresher.RefreshDaily(ctx)
	switch {
	case errors.Is(err, services.ErrRunInProgress):
		lg.Warn().Msg("refresh skipped: another run holds the lock")
	case errors.Is(err, services.ErrNotConfigured):
		lg.Warn().Msg("refresh skipped: telegram integration not configured")
	case err != nil:
		ev := lg.Error().Err(err)
		if report != nil {
			ev = ev.Int("resent", report.Stats.MessagesResent)
		}
		ev.Msg("refresh failed")
	default:
		lg.Info().
			Int("deleted", report.Stats.MessagesDeleted).
			Int("resent", report.Stats.MessagesResent).
			Int("failed", report.Stats.MessagesDeleteFailed+report.Stats.MessagesResendFailed).
			Msg("scheduled refresh done")
	}
}

// RunPurge deletes expired idempotency records.
func (s *Scheduler) RunPurge(ctx context.Context) {
	if s.purge == nil {
		return
	}
	n, err := s.purge(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Str("job", "purge").Msg("purge failed")
		return
	}
	if n > 0 {
		log.Debug().Int64("deleted", n).Str("job", "purge").Msg("expired idempotency records removed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
