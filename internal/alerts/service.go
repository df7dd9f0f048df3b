// Package alerts manages the user's alert rules and the locally-owned
// job-code fields (budget, favourite) with read-modify-write store access.
package alerts

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/clockguard/clockguard/internal/errs"
	"github.com/clockguard/clockguard/internal/model"
	"github.com/clockguard/clockguard/internal/store"
)

// maxSoundBytes caps uploaded custom sound blobs.
const maxSoundBytes = 4 << 20

// Service edits per-user preferences. Every mutation re-reads the latest
// stored profiles immediately before merging and writing back.
type Service struct {
	store  store.Store
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(st store.Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// List returns the user's alert rules in stored (evaluation) order.
func (s *Service) List(ctx context.Context, userID int64) ([]model.AlertRule, error) {
	profile, _, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]model.AlertRule(nil), profile.Preferences.Alerts...), nil
}

// Add validates and appends an alert rule, assigning it a fresh ID.
// A rule conflicts with an existing one of the same category and threshold
// when either side covers all job codes or their scopes intersect.
func (s *Service) Add(ctx context.Context, userID int64, rule model.AlertRule) (model.AlertRule, error) {
	switch rule.Type {
	case model.AlertBadge, model.AlertSoundDefault, model.AlertSoundCustom, model.AlertNotification:
	default:
		return model.AlertRule{}, fmt.Errorf("unknown alert type %q: %w", rule.Type, errs.ErrValidation)
	}
	if rule.TimeInSeconds < 0 {
		return model.AlertRule{}, fmt.Errorf("negative threshold: %w", errs.ErrValidation)
	}
	if rule.Type != model.AlertNotification && rule.Asset == "" {
		return model.AlertRule{}, fmt.Errorf("missing asset for %s rule: %w", rule.Type, errs.ErrValidation)
	}

	profiles, err := s.store.LoadProfiles(ctx)
	if err != nil {
		return model.AlertRule{}, err
	}
	profile := profiles[userID]
	if profile == nil {
		return model.AlertRule{}, errs.ErrNotFound
	}
	for i := range profile.Preferences.Alerts {
		if conflicts(&profile.Preferences.Alerts[i], &rule) {
			return model.AlertRule{}, fmt.Errorf("rule at %ds collides with %s: %w",
				rule.TimeInSeconds, profile.Preferences.Alerts[i].ID, errs.ErrConflict)
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.AlertRule{}, err
	}
	rule.ID = id.String()
	profile.Preferences.Alerts = append(profile.Preferences.Alerts, rule)
	if err := s.store.SaveProfiles(ctx, profiles); err != nil {
		return model.AlertRule{}, err
	}
	s.logger.Info("alert rule added",
		zap.Int64("user_id", userID),
		zap.String("type", string(rule.Type)),
		zap.Int64("threshold", rule.TimeInSeconds),
	)
	return rule, nil
}

// Remove deletes an alert rule by ID. Custom-sound blobs referenced by the
// removed rule stay stored; other rules may reference them.
func (s *Service) Remove(ctx context.Context, userID int64, ruleID string) error {
	profiles, err := s.store.LoadProfiles(ctx)
	if err != nil {
		return err
	}
	profile := profiles[userID]
	if profile == nil {
		return errs.ErrNotFound
	}
	rules := profile.Preferences.Alerts
	for i := range rules {
		if rules[i].ID == ruleID {
			profile.Preferences.Alerts = append(rules[:i:i], rules[i+1:]...)
			return s.store.SaveProfiles(ctx, profiles)
		}
	}
	return errs.ErrNotFound
}

// AddCustomSound stores an uploaded sound blob and returns its ID for use as
// a sound_custom rule asset.
func (s *Service) AddCustomSound(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty sound data: %w", errs.ErrValidation)
	}
	if len(data) > maxSoundBytes {
		return "", fmt.Errorf("sound exceeds %d bytes: %w", maxSoundBytes, errs.ErrValidation)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	sound := &model.CustomSound{ID: id.String(), Name: name, Data: data}
	if err := s.store.PutSound(ctx, sound); err != nil {
		return "", err
	}
	return sound.ID, nil
}

// SetBudget assigns (or clears, with nil) the locally-owned time budget of a
// job code.
func (s *Service) SetBudget(ctx context.Context, userID, jobcodeID int64, seconds *int64) error {
	return s.updateJobcode(ctx, userID, jobcodeID, func(jc *model.Jobcode) {
		jc.SecondsAssigned = seconds
	})
}

// SetFavourite toggles the locally-owned favourite flag of a job code.
func (s *Service) SetFavourite(ctx context.Context, userID, jobcodeID int64, favourite bool) error {
	return s.updateJobcode(ctx, userID, jobcodeID, func(jc *model.Jobcode) {
		jc.IsFavourite = favourite
	})
}

// SetTheme stores the user's theme choice.
func (s *Service) SetTheme(ctx context.Context, userID int64, theme string) error {
	profiles, err := s.store.LoadProfiles(ctx)
	if err != nil {
		return err
	}
	profile := profiles[userID]
	if profile == nil {
		return errs.ErrNotFound
	}
	profile.Preferences.ThemeChoice = theme
	return s.store.SaveProfiles(ctx, profiles)
}

func (s *Service) updateJobcode(ctx context.Context, userID, jobcodeID int64, mutate func(*model.Jobcode)) error {
	profiles, err := s.store.LoadProfiles(ctx)
	if err != nil {
		return err
	}
	profile := profiles[userID]
	if profile == nil {
		return errs.ErrNotFound
	}
	jc := profile.Jobcodes[jobcodeID]
	if jc == nil {
		return errs.ErrNotFound
	}
	mutate(jc)
	return s.store.SaveProfiles(ctx, profiles)
}

func (s *Service) loadProfile(ctx context.Context, userID int64) (*model.UserProfile, map[int64]*model.UserProfile, error) {
	profiles, err := s.store.LoadProfiles(ctx)
	if err != nil {
		return nil, nil, err
	}
	profile := profiles[userID]
	if profile == nil {
		return nil, nil, errs.ErrNotFound
	}
	return profile, profiles, nil
}

// conflicts reports whether two rules of the same category and threshold
// have colliding scopes.
func conflicts(a, b *model.AlertRule) bool {
	if a.Type.Category() != b.Type.Category() || a.TimeInSeconds != b.TimeInSeconds {
		return false
	}
	if len(a.JobcodeIDs) == 0 || len(b.JobcodeIDs) == 0 {
		return true
	}
	for _, id := range b.JobcodeIDs {
		if a.AppliesTo(id) {
			return true
		}
	}
	return false
}
