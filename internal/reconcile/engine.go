package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/errs"
	"github.com/clockguard/clockguard/internal/model"
	"github.com/clockguard/clockguard/internal/store"
	"github.com/clockguard/clockguard/internal/timeclock"
)

// Lister fetches the remote job-code and timesheet listings.
type Lister interface {
	Jobcodes(ctx context.Context, token string) (map[int64]*timeclock.RemoteJobcode, error)
	Timesheets(ctx context.Context, token string, startDate time.Time) (map[int64]*model.Timesheet, error)
}

// TokenSource supplies a valid vendor access token and its user ID.
// ForceRefresh is invoked once when the vendor rejects a token that still
// looked valid locally.
type TokenSource interface {
	AccessToken(ctx context.Context) (token string, userID int64, err error)
	ForceRefresh(ctx context.Context) (token string, userID int64, err error)
}

// Engine performs full reconciliation passes: fetch remote listings, merge
// them into the stored profile, recompute derived fields, write once.
type Engine struct {
	store  store.Store
	lister Lister
	tokens TokenSource
	logger *zap.Logger
	now    func() time.Time
}

// New constructs an Engine.
func New(st store.Store, lister Lister, tokens TokenSource, logger *zap.Logger) *Engine {
	return &Engine{store: st, lister: lister, tokens: tokens, logger: logger, now: time.Now}
}

// Run executes one reconciliation pass for the current user. A failed fetch
// aborts the pass with no partial writes; the store is written exactly once,
// at the end, with the fully merged result.
func (e *Engine) Run(ctx context.Context) error {
	token, userID, err := e.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	start := e.timesheetWindowStart(ctx, userID)

	var remoteJobcodes map[int64]*timeclock.RemoteJobcode
	var remoteTimesheets map[int64]*model.Timesheet
	err = e.withRetry(ctx, token, func(token string) error {
		var err error
		if remoteJobcodes, err = e.lister.Jobcodes(ctx, token); err != nil {
			return err
		}
		remoteTimesheets, err = e.lister.Timesheets(ctx, token, start)
		return err
	})
	if err != nil {
		return err
	}

	// Merge base is read after all awaited fetches so no stale state is
	// written back over a concurrent update.
	profiles, err := e.store.LoadProfiles(ctx)
	if err != nil {
		return err
	}
	profile := profiles[userID]
	if profile == nil {
		profile = &model.UserProfile{ID: userID, Jobcodes: map[int64]*model.Jobcode{}}
		profiles[userID] = profile
	}
	if profile.Jobcodes == nil {
		profile.Jobcodes = map[int64]*model.Jobcode{}
	}

	MergeJobcodes(profile.Jobcodes, remoteJobcodes)
	touched := MergeTimesheets(profile.Jobcodes, remoteTimesheets)
	for id := range touched {
		RecomputeCompleted(profile.Jobcodes[id])
	}
	if cycles := DerivePaths(profile.Jobcodes); cycles > 0 {
		e.logger.Warn("job-code tree contains cycles", zap.Int("cycles", cycles))
	}
	profile.LastFetchedTimesheets = e.now()

	if err := e.store.SaveProfiles(ctx, profiles); err != nil {
		return err
	}
	e.logger.Info("reconciled job codes",
		zap.Int64("user_id", userID),
		zap.Int("jobcodes", len(remoteJobcodes)),
		zap.Int("timesheets", len(remoteTimesheets)),
		zap.Int("recomputed", len(touched)),
	)
	return nil
}

// withRetry runs fn with token, retrying once with a force-refreshed token
// when the vendor rejects the current one mid-flight.
func (e *Engine) withRetry(ctx context.Context, token string, fn func(token string) error) error {
	err := fn(token)
	if !errors.Is(err, errs.ErrUnauthorized) {
		return err
	}
	fresh, _, rerr := e.tokens.ForceRefresh(ctx)
	if rerr != nil {
		return err
	}
	e.logger.Debug("retrying after token refresh")
	return fn(fresh)
}

// timesheetWindowStart picks the fetch window: the first day of the current
// month, pulled back to the last successful fetch when that is older.
func (e *Engine) timesheetWindowStart(ctx context.Context, userID int64) time.Time {
	now := e.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	profiles, err := e.store.LoadProfiles(ctx)
	if err != nil {
		return start
	}
	if p := profiles[userID]; p != nil && !p.LastFetchedTimesheets.IsZero() && p.LastFetchedTimesheets.Before(start) {
		return p.LastFetchedTimesheets
	}
	return start
}
