// Package timeclock is the REST client for the remote time-tracking service
// and the session manager that owns the stored login state.
package timeclock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/errs"
	"github.com/clockguard/clockguard/internal/model"
)

// Credentials identify this installation to the vendor's OAuth endpoint.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Grant is the vendor's token grant response.
type Grant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       int64  `json:"user_id"`
}

// RemoteUser is the profile shape returned by current_user.
type RemoteUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	CompanyName  string `json:"company_name"`
	LastModified string `json:"last_modified"`
}

// RemoteJobcode is the job-code shape returned by the listing endpoint.
// Derived and locally-owned fields are never supplied by the vendor.
type RemoteJobcode struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ParentID     int64  `json:"parent_id"`
	HasChildren  bool   `json:"has_children"`
	LastModified string `json:"last_modified"`
}

// Totals is the current-totals response for the active session.
type Totals struct {
	OnTheClock   bool  `json:"on_the_clock"`
	TimesheetID  int64 `json:"timesheet_id"`
	JobcodeID    int64 `json:"jobcode_id"`
	ShiftSeconds int64 `json:"shift_seconds"`
}

// Client is a thin REST client; callers supply the access token per call.
type Client struct {
	baseURL string
	creds   Credentials
	httpc   *http.Client
	logger  *zap.Logger
}

// New constructs a Client. A nil httpc falls back to a default with a
// 30-second timeout.
func New(baseURL string, creds Credentials, httpc *http.Client, logger *zap.Logger) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: baseURL, creds: creds, httpc: httpc, logger: logger}
}

// ExchangeCode exchanges an OAuth authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	return c.grant(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"redirect_uri":  {c.creds.RedirectURI},
		"code":          {code},
	})
}

// RefreshToken exchanges a refresh token for fresh tokens.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Grant, error) {
	return c.grant(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"refresh_token": {refreshToken},
	})
}

func (c *Client) grant(ctx context.Context, form url.Values) (*Grant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/grant",
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grant: %w", errs.ErrRemoteUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("grant rejected (%d): %w", resp.StatusCode, errs.ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("grant status %d: %w", resp.StatusCode, errs.ErrRemoteUnavailable)
	}
	var g Grant
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return nil, fmt.Errorf("grant decode: %w", err)
	}
	if g.AccessToken == "" {
		return nil, fmt.Errorf("grant returned no token: %w", errs.ErrUnauthorized)
	}
	return &g, nil
}

// ExpiresAt resolves the access token expiry: expires_in when present,
// otherwise the token's JWT exp claim, otherwise one hour from now.
func (g *Grant) ExpiresAt(now time.Time) time.Time {
	if g.ExpiresIn > 0 {
		return now.Add(time.Duration(g.ExpiresIn) * time.Second)
	}
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(g.AccessToken, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation())
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(time.Hour)
}

func (c *Client) getJSON(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, errs.ErrRemoteUnavailable)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("GET %s: %w", path, errs.ErrUnauthorized)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("GET %s status %d: %w", path, resp.StatusCode, errs.ErrRemoteUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("GET %s decode: %w", path, err)
	}
	return nil
}

// CurrentUser fetches the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context, token string) (*RemoteUser, error) {
	var env struct {
		Results struct {
			Users map[string]*RemoteUser `json:"users"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, token, "/current_user", &env); err != nil {
		return nil, err
	}
	for _, u := range env.Results.Users {
		return u, nil
	}
	return nil, fmt.Errorf("current_user returned no user: %w", errs.ErrRemoteUnavailable)
}

// CurrentTotals fetches the active-session totals.
func (c *Client) CurrentTotals(ctx context.Context, token string) (*Totals, error) {
	var t Totals
	if err := c.getJSON(ctx, token, "/current_totals", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Jobcodes fetches the full job-code listing keyed by ID.
func (c *Client) Jobcodes(ctx context.Context, token string) (map[int64]*RemoteJobcode, error) {
	var env struct {
		Results struct {
			Jobcodes map[string]*RemoteJobcode `json:"jobcodes"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, token, "/jobcodes", &env); err != nil {
		return nil, err
	}
	out := make(map[int64]*RemoteJobcode, len(env.Results.Jobcodes))
	for _, j := range env.Results.Jobcodes {
		out[j.ID] = j
	}
	return out, nil
}

// Timesheets fetches timesheets starting at startDate (inclusive), keyed by ID.
func (c *Client) Timesheets(ctx context.Context, token string, startDate time.Time) (map[int64]*model.Timesheet, error) {
	var env struct {
		Results struct {
			Timesheets map[string]*model.Timesheet `json:"timesheets"`
		} `json:"results"`
	}
	path := "/timesheets?start_date=" + url.QueryEscape(startDate.Format("2006-01-02"))
	if err := c.getJSON(ctx, token, path, &env); err != nil {
		return nil, err
	}
	out := make(map[int64]*model.Timesheet, len(env.Results.Timesheets))
	for key, ts := range env.Results.Timesheets {
		if ts.ID == 0 {
			// Some listings key by ID without repeating it in the body.
			if id, err := strconv.ParseInt(key, 10, 64); err == nil {
				ts.ID = id
			}
		}
		out[ts.ID] = ts
	}
	return out, nil
}
