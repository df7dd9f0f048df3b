// Package server exposes the daemon's localhost control API: session
// management, status, explicit refresh, and alert/budget editing. It is the
// boundary the CLI (and any other presentation layer) talks to.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/alerts"
	"github.com/clockguard/clockguard/internal/countdown"
	"github.com/clockguard/clockguard/internal/crypto"
	"github.com/clockguard/clockguard/internal/model"
	"github.com/clockguard/clockguard/internal/store"
)

// SessionService is the login/logout boundary backed by the vendor API.
type SessionService interface {
	Login(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context) error
}

// Refresher triggers a full reconciliation pass.
type Refresher interface {
	Run(ctx context.Context) error
}

// CountdownControl is the countdown surface the API needs.
type CountdownControl interface {
	Status() countdown.Status
	Clear()
}

// Server wires the control API handlers.
type Server struct {
	store    store.Store
	sessions SessionService
	alerts   *alerts.Service
	recon    Refresher
	cd       CountdownControl
	hub      *Hub
	secret   []byte
	logger   *zap.Logger
}

// New constructs a Server. secret is the install's pairing secret, used both
// to gate token minting and to sign control tokens.
func New(st store.Store, sessions SessionService, alertSvc *alerts.Service, recon Refresher, cd CountdownControl, hub *Hub, secret []byte, logger *zap.Logger) *Server {
	return &Server{
		store: st, sessions: sessions, alerts: alertSvc, recon: recon,
		cd: cd, hub: hub, secret: secret, logger: logger,
	}
}

// LoadOrCreatePairingSecret reads the pairing secret at path, generating one
// on first run. The CLI reads the same file to authenticate.
func LoadOrCreatePairingSecret(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil && len(b) > 0 {
		return b, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	raw, err := crypto.Rand(32)
	if err != nil {
		return nil, err
	}
	secret := []byte(hex.EncodeToString(raw))
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

// Router builds the chi router for the control API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(5, 10))
		r.Post("/api/v1/auth/token", s.handleAuthToken)
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(s.secret))

		r.Post("/api/v1/session/login", s.handleLogin)
		r.Post("/api/v1/session/logout", s.handleLogout)
		r.Get("/api/v1/status", s.handleStatus)
		r.Post("/api/v1/refresh", s.handleRefresh)

		r.Get("/api/v1/jobcodes", s.handleListJobcodes)
		r.Put("/api/v1/jobcodes/{jobcode_id}/budget", s.handleSetBudget)
		r.Put("/api/v1/jobcodes/{jobcode_id}/favourite", s.handleSetFavourite)

		r.Put("/api/v1/preferences/theme", s.handleSetTheme)

		r.Get("/api/v1/alerts", s.handleListAlerts)
		r.Post("/api/v1/alerts", s.handleAddAlert)
		r.Delete("/api/v1/alerts/{rule_id}", s.handleDeleteAlert)

		r.Post("/api/v1/sounds", s.handleUploadSound)
	})

	return r
}

func (s *Server) secretMatches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), s.secret) == 1
}
