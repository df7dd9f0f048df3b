package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/alerts"
	"github.com/clockguard/clockguard/internal/countdown"
	"github.com/clockguard/clockguard/internal/errs"
	"github.com/clockguard/clockguard/internal/model"
)

type fakeStore struct {
	session  *model.Session
	profiles map[int64]*model.UserProfile
	snapshot *model.ActiveRecording
	sounds   map[string]*model.CustomSound
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles: map[int64]*model.UserProfile{},
		sounds:   map[string]*model.CustomSound{},
	}
}

func (f *fakeStore) LoadSession(ctx context.Context) (*model.Session, error) {
	if f.session == nil {
		return nil, errs.ErrNoSession
	}
	return f.session, nil
}

func (f *fakeStore) SaveSession(ctx context.Context, s *model.Session) error {
	f.session = s
	return nil
}

func (f *fakeStore) ClearSession(ctx context.Context) error {
	f.session = nil
	return nil
}

func (f *fakeStore) LoadProfiles(ctx context.Context) (map[int64]*model.UserProfile, error) {
	return f.profiles, nil
}

func (f *fakeStore) SaveProfiles(ctx context.Context, profiles map[int64]*model.UserProfile) error {
	f.profiles = profiles
	return nil
}

func (f *fakeStore) LoadSnapshot(ctx context.Context) (*model.ActiveRecording, error) {
	if f.snapshot == nil {
		return nil, errs.ErrNotFound
	}
	return f.snapshot, nil
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, snap *model.ActiveRecording) error {
	f.snapshot = snap
	return nil
}

func (f *fakeStore) PutSound(ctx context.Context, sound *model.CustomSound) error {
	f.sounds[sound.ID] = sound
	return nil
}

func (f *fakeStore) GetSound(ctx context.Context, id string) (*model.CustomSound, error) {
	s, ok := f.sounds[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) DeleteSound(ctx context.Context, id string) error {
	delete(f.sounds, id)
	return nil
}

type fakeSessions struct {
	loginErr  error
	logoutErr error
	logouts   int
}

func (f *fakeSessions) Login(ctx context.Context, code string) (*model.Session, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &model.Session{AuthToken: "t", CurrentUserID: 42}, nil
}

func (f *fakeSessions) Logout(ctx context.Context) error {
	f.logouts++
	return f.logoutErr
}

type fakeRefresher struct {
	err  error
	runs int
}

func (f *fakeRefresher) Run(ctx context.Context) error {
	f.runs++
	return f.err
}

type fakeCountdown struct {
	status countdown.Status
	clears int
}

func (f *fakeCountdown) Status() countdown.Status { return f.status }
func (f *fakeCountdown) Clear()                   { f.clears++ }

type testEnv struct {
	srv      *Server
	store    *fakeStore
	sessions *fakeSessions
	recon    *fakeRefresher
	cd       *fakeCountdown
	hub      *Hub
	handler  http.Handler
}

func newTestEnv() *testEnv {
	st := newFakeStore()
	sessions := &fakeSessions{}
	recon := &fakeRefresher{}
	cd := &fakeCountdown{}
	hub := NewHub()
	srv := New(st, sessions, alerts.NewService(st, zap.NewNop()), recon, cd, hub, []byte("pairing-secret"), zap.NewNop())
	return &testEnv{
		srv: srv, store: st, sessions: sessions, recon: recon,
		cd: cd, hub: hub, handler: srv.Router(),
	}
}

func (e *testEnv) loggedIn() {
	e.store.session = &model.Session{AuthToken: "t", CurrentUserID: 42}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth {
		token, err := MintToken([]byte("pairing-secret"), time.Now())
		if err != nil {
			t.Fatalf("mint token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthTokenExchange(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/v1/auth/token", authTokenRequest{Secret: "wrong"}, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: got %d, want 401", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/token", authTokenRequest{Secret: "pairing-secret"}, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid secret: got %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["token"] == "" {
		t.Fatal("expected a token in the response")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+resp["token"])
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("minted token rejected: got %d, want 200", rec.Code)
	}
}

func TestBearerAuthRequired(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/v1/status", nil, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec2 := httptest.NewRecorder()
	env.handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: got %d, want 401", rec2.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/v1/session/login", loginRequest{Code: "abc"}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", rec.Code, rec.Body)
	}
	var resp map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["user_id"] != 42 {
		t.Fatalf("user_id = %d, want 42", resp["user_id"])
	}

	rec = env.do(t, http.MethodPost, "/api/v1/session/login", loginRequest{}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty code: got %d, want 400", rec.Code)
	}

	env.sessions.loginErr = errs.ErrUnauthorized
	rec = env.do(t, http.MethodPost, "/api/v1/session/login", loginRequest{Code: "abc"}, true)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("rejected code: got %d, want 401", rec.Code)
	}
}

func TestLogoutClearsCountdown(t *testing.T) {
	env := newTestEnv()
	env.loggedIn()
	env.hub.OnTheClock(7, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/session/logout", nil, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204", rec.Code)
	}
	if env.sessions.logouts != 1 {
		t.Fatalf("logouts = %d, want 1", env.sessions.logouts)
	}
	if env.cd.clears != 1 {
		t.Fatalf("countdown clears = %d, want 1", env.cd.clears)
	}
	if env.hub.snapshot().OnTheClock {
		t.Fatal("hub still reports on the clock after logout")
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/v1/status", nil, true)
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LoggedIn {
		t.Fatal("expected logged_in=false without a session")
	}

	env.loggedIn()
	remaining := int64(120)
	env.hub.OnTheClock(7, &remaining)
	env.cd.status = countdown.Status{Ticking: true, Remaining: &remaining, JobcodeID: 7}

	rec = env.do(t, http.MethodGet, "/api/v1/status", nil, true)
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.LoggedIn || !resp.Clock.OnTheClock || !resp.Countdown.Ticking {
		t.Fatalf("unexpected status: %+v", resp)
	}
	if resp.Countdown.Remaining == nil || *resp.Countdown.Remaining != 120 {
		t.Fatalf("remaining = %v, want 120", resp.Countdown.Remaining)
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/v1/refresh", nil, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204", rec.Code)
	}
	if env.recon.runs != 1 {
		t.Fatalf("reconcile runs = %d, want 1", env.recon.runs)
	}

	env.recon.err = errs.ErrRemoteUnavailable
	rec = env.do(t, http.MethodPost, "/api/v1/refresh", nil, true)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("remote down: got %d, want 502", rec.Code)
	}
}

func TestListJobcodesSorted(t *testing.T) {
	env := newTestEnv()
	env.loggedIn()
	env.store.profiles[42] = &model.UserProfile{
		ID: 42,
		Jobcodes: map[int64]*model.Jobcode{
			1: {ID: 1, Name: "Zeta", ParentPathName: ""},
			2: {ID: 2, Name: "Alpha", ParentPathName: ""},
			3: {ID: 3, Name: "Child", ParentPathName: "Alpha/"},
		},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/jobcodes", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200: %s", rec.Code, rec.Body)
	}
	var out []jobcodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d jobcodes, want 3", len(out))
	}
	if out[0].Name != "Alpha" || out[1].Name != "Zeta" || out[2].Name != "Child" {
		t.Fatalf("unexpected order: %s, %s, %s", out[0].Name, out[1].Name, out[2].Name)
	}
}

func TestJobcodesRequireSession(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodGet, "/api/v1/jobcodes", nil, true)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestSetBudget(t *testing.T) {
	env := newTestEnv()
	env.loggedIn()
	env.store.profiles[42] = &model.UserProfile{
		ID:       42,
		Jobcodes: map[int64]*model.Jobcode{7: {ID: 7, Name: "Dev"}},
	}

	seconds := int64(7200)
	rec := env.do(t, http.MethodPut, "/api/v1/jobcodes/7/budget", budgetRequest{Seconds: &seconds}, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204: %s", rec.Code, rec.Body)
	}
	jc := env.store.profiles[42].Jobcodes[7]
	if jc.SecondsAssigned == nil || *jc.SecondsAssigned != 7200 {
		t.Fatalf("budget = %v, want 7200", jc.SecondsAssigned)
	}

	negative := int64(-1)
	rec = env.do(t, http.MethodPut, "/api/v1/jobcodes/7/budget", budgetRequest{Seconds: &negative}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative budget: got %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/jobcodes/99/budget", budgetRequest{Seconds: &seconds}, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown jobcode: got %d, want 404", rec.Code)
	}
}

func TestSetFavourite(t *testing.T) {
	env := newTestEnv()
	env.loggedIn()
	env.store.profiles[42] = &model.UserProfile{
		ID:       42,
		Jobcodes: map[int64]*model.Jobcode{7: {ID: 7, Name: "Dev"}},
	}

	rec := env.do(t, http.MethodPut, "/api/v1/jobcodes/7/favourite", favouriteRequest{Favourite: true}, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204: %s", rec.Code, rec.Body)
	}
	if !env.store.profiles[42].Jobcodes[7].IsFavourite {
		t.Fatal("jobcode not marked favourite")
	}
}

func TestSetTheme(t *testing.T) {
	env := newTestEnv()
	env.loggedIn()
	env.store.profiles[42] = &model.UserProfile{ID: 42}

	rec := env.do(t, http.MethodPut, "/api/v1/preferences/theme", themeRequest{Theme: "dark"}, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("got %d, want 204: %s", rec.Code, rec.Body)
	}
	if env.store.profiles[42].Preferences.ThemeChoice != "dark" {
		t.Fatalf("theme = %q, want dark", env.store.profiles[42].Preferences.ThemeChoice)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/preferences/theme", themeRequest{}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty theme: got %d, want 400", rec.Code)
	}
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv()
	env.loggedIn()
	env.store.profiles[42] = &model.UserProfile{ID: 42, Jobcodes: map[int64]*model.Jobcode{}}

	rule := model.AlertRule{Type: model.AlertNotification, TimeInSeconds: 600}
	rec := env.do(t, http.MethodPost, "/api/v1/alerts", rule, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d, want 201: %s", rec.Code, rec.Body)
	}
	var created model.AlertRule
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created rule has no ID")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/alerts", rule, true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate rule: got %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/alerts", nil, true)
	var rules []model.AlertRule
	if err := json.NewDecoder(rec.Body).Decode(&rules); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("got %d rules, want 1", len(rules))
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/alerts/"+created.ID, nil, true)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d, want 204", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/alerts/"+created.ID, nil, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing: got %d, want 404", rec.Code)
	}
}

func TestUploadSound(t *testing.T) {
	env := newTestEnv()
	env.loggedIn()

	body := uploadSoundRequest{
		Name: "gong",
		Data: base64.StdEncoding.EncodeToString([]byte("RIFFdata")),
	}
	rec := env.do(t, http.MethodPost, "/api/v1/sounds", body, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d, want 201: %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	stored, ok := env.store.sounds[resp["id"]]
	if !ok {
		t.Fatal("sound not persisted")
	}
	if stored.Name != "gong" || string(stored.Data) != "RIFFdata" {
		t.Fatalf("unexpected stored sound: %+v", stored)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/sounds", uploadSoundRequest{Name: "bad", Data: "!!"}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid base64: got %d, want 400", rec.Code)
	}
}
