package timeclock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/model"
	"github.com/clockguard/clockguard/internal/store"
)

// refreshSkew is how early a token is refreshed before its stated expiry.
const refreshSkew = time.Minute

// SessionManager owns the stored login session: grant exchange on login,
// transparent refresh near expiry, and the wholesale profile refresh that
// carries over locally-owned fields.
type SessionManager struct {
	store  store.Store
	client *Client
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex // serializes refresh against concurrent token reads
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(st store.Store, client *Client, logger *zap.Logger) *SessionManager {
	return &SessionManager{store: st, client: client, logger: logger, now: time.Now}
}

// Login exchanges an authorization code, persists the session, and refreshes
// the stored profile for the granted user.
func (m *SessionManager) Login(ctx context.Context, code string) (*model.Session, error) {
	g, err := m.client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	sess := &model.Session{
		AuthToken:     g.AccessToken,
		RefreshToken:  g.RefreshToken,
		AuthExpiresAt: g.ExpiresAt(m.now()),
		CurrentUserID: g.UserID,
	}

	remote, err := m.client.CurrentUser(ctx, sess.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("fetch profile after login: %w", err)
	}
	if sess.CurrentUserID == 0 {
		sess.CurrentUserID = remote.ID
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := m.RefreshProfile(ctx, remote); err != nil {
		return nil, err
	}
	m.logger.Info("logged in", zap.Int64("user_id", sess.CurrentUserID))
	return sess, nil
}

// Logout clears the stored session.
func (m *SessionManager) Logout(ctx context.Context) error {
	return m.store.ClearSession(ctx)
}

// RefreshProfile replaces the stored profile for remote's user wholesale when
// last_modified differs, carrying over Jobcodes, Preferences and
// LastFetchedTimesheets, which the vendor never supplies.
func (m *SessionManager) RefreshProfile(ctx context.Context, remote *RemoteUser) error {
	profiles, err := m.store.LoadProfiles(ctx)
	if err != nil {
		return err
	}
	prev := profiles[remote.ID]
	if prev != nil && prev.LastModified == remote.LastModified {
		return nil
	}
	next := &model.UserProfile{
		ID:           remote.ID,
		FirstName:    remote.FirstName,
		LastName:     remote.LastName,
		CompanyName:  remote.CompanyName,
		LastModified: remote.LastModified,
		Jobcodes:     map[int64]*model.Jobcode{},
	}
	if prev != nil {
		if prev.Jobcodes != nil {
			next.Jobcodes = prev.Jobcodes
		}
		next.Preferences = prev.Preferences
		next.LastFetchedTimesheets = prev.LastFetchedTimesheets
	}
	profiles[remote.ID] = next
	return m.store.SaveProfiles(ctx, profiles)
}

// AccessToken returns a valid access token and its user ID, refreshing the
// grant when within refreshSkew of expiry. Returns errs.ErrNoSession when no
// user is logged in.
func (m *SessionManager) AccessToken(ctx context.Context) (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.LoadSession(ctx)
	if err != nil {
		return "", 0, err
	}
	if m.now().Before(sess.AuthExpiresAt.Add(-refreshSkew)) {
		return sess.AuthToken, sess.CurrentUserID, nil
	}
	return m.refreshLocked(ctx, sess)
}

// ForceRefresh refreshes the grant regardless of the stated expiry. Used when
// the vendor rejects a token that still looked valid locally.
func (m *SessionManager) ForceRefresh(ctx context.Context) (string, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.LoadSession(ctx)
	if err != nil {
		return "", 0, err
	}
	return m.refreshLocked(ctx, sess)
}

func (m *SessionManager) refreshLocked(ctx context.Context, sess *model.Session) (string, int64, error) {
	g, err := m.client.RefreshToken(ctx, sess.RefreshToken)
	if err != nil {
		return "", 0, fmt.Errorf("token refresh: %w", err)
	}
	sess.AuthToken = g.AccessToken
	if g.RefreshToken != "" {
		sess.RefreshToken = g.RefreshToken
	}
	sess.AuthExpiresAt = g.ExpiresAt(m.now())
	if g.UserID != 0 {
		sess.CurrentUserID = g.UserID
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return "", 0, err
	}
	m.logger.Debug("access token refreshed", zap.Time("expires_at", sess.AuthExpiresAt))
	return sess.AuthToken, sess.CurrentUserID, nil
}
