package timeclock

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/errs"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(rt roundTripFunc) *Client {
	creds := Credentials{ClientID: "cid", ClientSecret: "csecret", RedirectURI: "https://cb"}
	return New("https://api.test", creds, &http.Client{Transport: rt}, zap.NewNop())
}

func TestExchangeCode(t *testing.T) {
	var gotPath string
	var gotForm map[string]string
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"grant_type": r.PostFormValue("grant_type"),
			"client_id":  r.PostFormValue("client_id"),
			"code":       r.PostFormValue("code"),
		}
		return jsonResponse(http.StatusOK,
			`{"access_token":"at","refresh_token":"rt","expires_in":3600,"user_id":42}`), nil
	})

	g, err := c.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if gotPath != "/grant" {
		t.Fatalf("path = %s, want /grant", gotPath)
	}
	if gotForm["grant_type"] != "authorization_code" || gotForm["client_id"] != "cid" || gotForm["code"] != "auth-code" {
		t.Fatalf("unexpected form: %+v", gotForm)
	}
	if g.AccessToken != "at" || g.RefreshToken != "rt" || g.UserID != 42 {
		t.Fatalf("unexpected grant: %+v", g)
	}
}

func TestGrantErrors(t *testing.T) {
	cases := []struct {
		name string
		rt   roundTripFunc
		want error
	}{
		{
			name: "rejected code",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusUnauthorized, `{}`), nil
			},
			want: errs.ErrUnauthorized,
		},
		{
			name: "server error",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusInternalServerError, `{}`), nil
			},
			want: errs.ErrRemoteUnavailable,
		},
		{
			name: "transport failure",
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
			want: errs.ErrRemoteUnavailable,
		},
		{
			name: "empty token",
			rt: func(*http.Request) (*http.Response, error) {
				return jsonResponse(http.StatusOK, `{"access_token":""}`), nil
			},
			want: errs.ErrUnauthorized,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(tc.rt)
			_, err := c.ExchangeCode(context.Background(), "code")
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGrantExpiresAt(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	g := &Grant{ExpiresIn: 600}
	if got := g.ExpiresAt(now); !got.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("expires_in: got %v", got)
	}

	exp := now.Add(2 * time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	g = &Grant{AccessToken: token}
	if got := g.ExpiresAt(now); !got.Equal(exp.Truncate(time.Second)) {
		t.Fatalf("jwt exp: got %v, want %v", got, exp)
	}

	g = &Grant{AccessToken: "opaque"}
	if got := g.ExpiresAt(now); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("fallback: got %v", got)
	}
}

func TestCurrentUser(t *testing.T) {
	var gotAuth string
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotAuth = r.Header.Get("Authorization")
		return jsonResponse(http.StatusOK,
			`{"results":{"users":{"42":{"id":42,"first_name":"Ada","last_name":"Byron","company_name":"Acme","last_modified":"2025-01-01T00:00:00Z"}}}}`), nil
	})

	u, err := c.CurrentUser(context.Background(), "tok")
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if u.ID != 42 || u.FirstName != "Ada" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestCurrentUserUnauthorized(t *testing.T) {
	c := newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{}`), nil
	})
	_, err := c.CurrentUser(context.Background(), "stale")
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestJobcodes(t *testing.T) {
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK,
			`{"results":{"jobcodes":{"7":{"id":7,"name":"Dev","parent_id":0,"has_children":true,"last_modified":"m1"}}}}`), nil
	})

	jcs, err := c.Jobcodes(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Jobcodes: %v", err)
	}
	jc, ok := jcs[7]
	if !ok {
		t.Fatalf("jobcode 7 missing: %v", jcs)
	}
	if jc.Name != "Dev" || !jc.HasChildren {
		t.Fatalf("unexpected jobcode: %+v", jc)
	}
}

func TestTimesheets(t *testing.T) {
	var gotQuery string
	c := newTestClient(func(r *http.Request) (*http.Response, error) {
		gotQuery = r.URL.RawQuery
		return jsonResponse(http.StatusOK,
			`{"results":{"timesheets":{"55":{"jobcode_id":7,"date":"2025-03-01","duration":3600,"last_modified":"m1"}}}}`), nil
	})

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	sheets, err := c.Timesheets(context.Background(), "tok", start)
	if err != nil {
		t.Fatalf("Timesheets: %v", err)
	}
	if gotQuery != "start_date=2025-03-01" {
		t.Fatalf("query = %q", gotQuery)
	}
	ts, ok := sheets[55]
	if !ok {
		t.Fatalf("timesheet 55 missing (map key should backfill the ID): %v", sheets)
	}
	if ts.ID != 55 || ts.JobcodeID != 7 || ts.Duration != 3600 {
		t.Fatalf("unexpected timesheet: %+v", ts)
	}
}
