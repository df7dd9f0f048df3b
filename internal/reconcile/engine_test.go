package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/errs"
	"github.com/clockguard/clockguard/internal/model"
	"github.com/clockguard/clockguard/internal/store"
	"github.com/clockguard/clockguard/internal/timeclock"
)

type fakeStore struct {
	profiles map[int64]*model.UserProfile
	session  *model.Session
	snapshot *model.ActiveRecording

	saveProfilesCalls int
	saveProfilesErr   error
}

var _ store.Store = (*fakeStore)(nil)

func (f *fakeStore) LoadSession(context.Context) (*model.Session, error) {
	if f.session == nil {
		return nil, errs.ErrNoSession
	}
	c := *f.session
	return &c, nil
}
func (f *fakeStore) SaveSession(_ context.Context, s *model.Session) error {
	c := *s
	f.session = &c
	return nil
}
func (f *fakeStore) ClearSession(context.Context) error {
	f.session = nil
	return nil
}
func (f *fakeStore) LoadProfiles(context.Context) (map[int64]*model.UserProfile, error) {
	if f.profiles == nil {
		return map[int64]*model.UserProfile{}, nil
	}
	return f.profiles, nil
}
func (f *fakeStore) SaveProfiles(_ context.Context, p map[int64]*model.UserProfile) error {
	f.saveProfilesCalls++
	if f.saveProfilesErr != nil {
		return f.saveProfilesErr
	}
	f.profiles = p
	return nil
}
func (f *fakeStore) LoadSnapshot(context.Context) (*model.ActiveRecording, error) {
	if f.snapshot == nil {
		return nil, errs.ErrNotFound
	}
	c := *f.snapshot
	return &c, nil
}
func (f *fakeStore) SaveSnapshot(_ context.Context, s *model.ActiveRecording) error {
	c := *s
	f.snapshot = &c
	return nil
}
func (f *fakeStore) PutSound(_ context.Context, _ *model.CustomSound) error { return nil }
func (f *fakeStore) GetSound(context.Context, string) (*model.CustomSound, error) {
	return nil, errs.ErrNotFound
}
func (f *fakeStore) DeleteSound(context.Context, string) error { return nil }

type fakeLister struct {
	jobcodes    map[int64]*timeclock.RemoteJobcode
	jobcodesErr error

	timesheets    map[int64]*model.Timesheet
	timesheetsErr error

	startDate time.Time
}

func (f *fakeLister) Jobcodes(context.Context, string) (map[int64]*timeclock.RemoteJobcode, error) {
	return f.jobcodes, f.jobcodesErr
}
func (f *fakeLister) Timesheets(_ context.Context, _ string, start time.Time) (map[int64]*model.Timesheet, error) {
	f.startDate = start
	return f.timesheets, f.timesheetsErr
}

type fakeTokens struct {
	token      string
	freshToken string // returned by ForceRefresh when set
	userID     int64
	err        error
	refreshes  int
}

func (f *fakeTokens) AccessToken(context.Context) (string, int64, error) {
	return f.token, f.userID, f.err
}

func (f *fakeTokens) ForceRefresh(context.Context) (string, int64, error) {
	f.refreshes++
	if f.freshToken != "" {
		return f.freshToken, f.userID, nil
	}
	return f.token, f.userID, f.err
}

func TestEngine_Run_MergesAndWritesOnce(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	lister := &fakeLister{
		jobcodes: map[int64]*timeclock.RemoteJobcode{
			1: {ID: 1, Name: "A", ParentID: 0, LastModified: "m1"},
			2: {ID: 2, Name: "B", ParentID: 1, LastModified: "m1"},
		},
		timesheets: map[int64]*model.Timesheet{
			10: {ID: 10, JobcodeID: 2, Duration: 300, LastModified: "t1"},
		},
	}
	e := New(st, lister, &fakeTokens{token: "tok", userID: 7}, zap.NewNop())

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.saveProfilesCalls != 1 {
		t.Fatalf("want exactly one profiles write, got %d", st.saveProfilesCalls)
	}
	p := st.profiles[7]
	if p == nil {
		t.Fatalf("profile not created for user 7")
	}
	if p.Jobcodes[2].SecondsCompleted != 300 {
		t.Fatalf("seconds_completed not recomputed: %d", p.Jobcodes[2].SecondsCompleted)
	}
	if p.Jobcodes[2].ParentPathName != "A/" {
		t.Fatalf("parent path not derived: %q", p.Jobcodes[2].ParentPathName)
	}
	if p.LastFetchedTimesheets.IsZero() {
		t.Fatalf("last fetched timestamp not stamped")
	}
}

func TestEngine_Run_FetchFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	lister := &fakeLister{jobcodesErr: errors.New("boom")}
	e := New(st, lister, &fakeTokens{token: "tok", userID: 7}, zap.NewNop())

	if err := e.Run(context.Background()); err == nil {
		t.Fatalf("want error from failed fetch")
	}
	if st.saveProfilesCalls != 0 {
		t.Fatalf("failed pass must not write, got %d writes", st.saveProfilesCalls)
	}
}

func TestEngine_Run_RetriesOnceAfterTokenRejection(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	lister := &staleTokenLister{
		good: "fresh",
		inner: fakeLister{
			jobcodes:   map[int64]*timeclock.RemoteJobcode{1: {ID: 1, Name: "A", LastModified: "m1"}},
			timesheets: map[int64]*model.Timesheet{},
		},
	}
	tokens := &fakeTokens{token: "stale", freshToken: "fresh", userID: 7}
	e := New(st, lister, tokens, zap.NewNop())

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tokens.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", tokens.refreshes)
	}
	if st.saveProfilesCalls != 1 {
		t.Fatalf("want one profiles write after retry, got %d", st.saveProfilesCalls)
	}
}

// staleTokenLister rejects every token except good.
type staleTokenLister struct {
	good  string
	inner fakeLister
}

func (l *staleTokenLister) Jobcodes(ctx context.Context, token string) (map[int64]*timeclock.RemoteJobcode, error) {
	if token != l.good {
		return nil, errs.ErrUnauthorized
	}
	return l.inner.Jobcodes(ctx, token)
}

func (l *staleTokenLister) Timesheets(ctx context.Context, token string, start time.Time) (map[int64]*model.Timesheet, error) {
	if token != l.good {
		return nil, errs.ErrUnauthorized
	}
	return l.inner.Timesheets(ctx, token, start)
}

func TestEngine_Run_NoSessionPropagates(t *testing.T) {
	t.Parallel()
	e := New(&fakeStore{}, &fakeLister{}, &fakeTokens{err: errs.ErrNoSession}, zap.NewNop())
	if err := e.Run(context.Background()); !errors.Is(err, errs.ErrNoSession) {
		t.Fatalf("want ErrNoSession, got %v", err)
	}
}

func TestEngine_TimesheetWindow_StartOfMonthByDefault(t *testing.T) {
	t.Parallel()
	st := &fakeStore{}
	lister := &fakeLister{jobcodes: map[int64]*timeclock.RemoteJobcode{}, timesheets: map[int64]*model.Timesheet{}}
	e := New(st, lister, &fakeTokens{token: "tok", userID: 7}, zap.NewNop())
	e.now = func() time.Time { return time.Date(2025, 2, 20, 12, 0, 0, 0, time.UTC) }

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	if !lister.startDate.Equal(want) {
		t.Fatalf("want window start %v, got %v", want, lister.startDate)
	}
}
