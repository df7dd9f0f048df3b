// Package poller fires the poll cycle on a fixed period: fetch current
// totals, detect an active-timesheet change, reconcile if needed, and hand
// the remaining budget to the countdown engine.
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/errs"
	"github.com/clockguard/clockguard/internal/model"
	"github.com/clockguard/clockguard/internal/reconcile"
	"github.com/clockguard/clockguard/internal/store"
	"github.com/clockguard/clockguard/internal/timeclock"
)

// onceDelay is how long the one-shot diagnostic mode waits before its single
// poll.
const onceDelay = 2 * time.Second

// TotalsFetcher fetches the active-session totals from the vendor.
type TotalsFetcher interface {
	CurrentTotals(ctx context.Context, token string) (*timeclock.Totals, error)
}

// Reconciler performs one full reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context) error
}

// Countdown is the countdown engine boundary the scheduler drives.
type Countdown interface {
	Start(jobcodeID int64, initialSeconds *int64, profile *model.UserProfile)
	Clear()
}

// Listener receives clock-state transitions, e.g. the control API's status
// hub.
type Listener interface {
	OnTheClock(jobcodeID int64, remaining *int64)
	OffTheClock()
}

// Scheduler owns the polling loop. Two modes exist, picked at construction:
// periodic (immediate first fire, then every interval) and one-shot (a
// single diagnostic poll after a short delay).
type Scheduler struct {
	store     store.Store
	totals    TotalsFetcher
	tokens    reconcile.TokenSource
	recon     Reconciler
	countdown Countdown
	logger    *zap.Logger

	interval  time.Duration
	once      bool
	now       func() time.Time
	listeners []Listener

	inflight atomic.Bool
}

// New constructs a periodic Scheduler.
func New(st store.Store, totals TotalsFetcher, tokens reconcile.TokenSource, recon Reconciler, cd Countdown, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store: st, totals: totals, tokens: tokens, recon: recon, countdown: cd,
		interval: interval, logger: logger, now: time.Now,
	}
}

// NewOnce constructs a one-shot Scheduler for diagnostics.
func NewOnce(st store.Store, totals TotalsFetcher, tokens reconcile.TokenSource, recon Reconciler, cd Countdown, logger *zap.Logger) *Scheduler {
	s := New(st, totals, tokens, recon, cd, 0, logger)
	s.once = true
	return s
}

// AddListener registers a clock-state listener. Not safe to call after Run
// has started.
func (s *Scheduler) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Run drives the scheduler until ctx is cancelled (periodic) or the single
// poll completes (one-shot). Poll failures are logged and absorbed; the next
// firing acts as the retry.
func (s *Scheduler) Run(ctx context.Context) {
	if s.once {
		select {
		case <-ctx.Done():
		case <-time.After(onceDelay):
			s.pollLogged(ctx)
		}
		return
	}

	s.pollLogged(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.pollLogged(ctx)
		}
	}
}

func (s *Scheduler) pollLogged(ctx context.Context) {
	if err := s.Poll(ctx); err != nil {
		s.logger.Warn("poll cycle failed", zap.Error(err))
	}
}

// Poll performs one poll cycle. A cycle already in flight makes this call a
// no-op: firings are skipped, never queued.
func (s *Scheduler) Poll(ctx context.Context) error {
	if !s.inflight.CompareAndSwap(false, true) {
		s.logger.Debug("poll already in progress, skipping")
		return nil
	}
	defer s.inflight.Store(false)
	return s.poll(ctx)
}

func (s *Scheduler) poll(ctx context.Context) error {
	token, userID, err := s.tokens.AccessToken(ctx)
	if errors.Is(err, errs.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}

	totals, err := s.totals.CurrentTotals(ctx, token)
	if errors.Is(err, errs.ErrUnauthorized) {
		// One retry with a force-refreshed token; the vendor may revoke a
		// grant before its stated expiry.
		if token, _, err = s.tokens.ForceRefresh(ctx); err == nil {
			totals, err = s.totals.CurrentTotals(ctx, token)
		}
	}
	if err != nil {
		return err
	}
	fetchedAt := s.now()

	// A changed active timesheet is the only automatic trigger for a full
	// job-code/timesheet refresh.
	prev, err := s.store.LoadSnapshot(ctx)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if prev == nil || prev.TimesheetID != totals.TimesheetID {
		if err := s.recon.Run(ctx); err != nil {
			s.logger.Warn("reconciliation failed, continuing with stored state", zap.Error(err))
		}
	}

	snap := &model.ActiveRecording{
		TimesheetID:  totals.TimesheetID,
		JobcodeID:    totals.JobcodeID,
		OnTheClock:   totals.OnTheClock,
		ShiftSeconds: totals.ShiftSeconds,
		FetchedAt:    fetchedAt,
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}

	if !totals.OnTheClock {
		s.countdown.Clear()
		for _, l := range s.listeners {
			l.OffTheClock()
		}
		return nil
	}

	profiles, err := s.store.LoadProfiles(ctx)
	if err != nil {
		return err
	}
	profile := profiles[userID]
	remaining := remainingSeconds(profile, totals, fetchedAt)
	s.countdown.Start(totals.JobcodeID, remaining, profile)
	for _, l := range s.listeners {
		l.OnTheClock(totals.JobcodeID, remaining)
	}
	return nil
}

// remainingSeconds computes the active job code's remaining budget:
// assigned − completed this calendar month − current shift. A missing job
// code or an unassigned budget yields nil (no budget), never an error.
func remainingSeconds(profile *model.UserProfile, totals *timeclock.Totals, now time.Time) *int64 {
	if profile == nil {
		return nil
	}
	jc := profile.Jobcodes[totals.JobcodeID]
	if jc == nil || jc.SecondsAssigned == nil {
		return nil
	}
	r := *jc.SecondsAssigned - MonthlyCompleted(jc, now) - totals.ShiftSeconds
	return &r
}

// MonthlyCompleted sums timesheet durations whose date falls in the same
// calendar month and year as now. This is a fresh, time-windowed
// recomputation, intentionally narrower than the job code's all-time
// SecondsCompleted.
func MonthlyCompleted(jc *model.Jobcode, now time.Time) int64 {
	var total int64
	for _, ts := range jc.Timesheets {
		d, err := time.Parse("2006-01-02", ts.Date)
		if err != nil {
			continue
		}
		if d.Year() == now.Year() && d.Month() == now.Month() {
			total += ts.Duration
		}
	}
	return total
}
