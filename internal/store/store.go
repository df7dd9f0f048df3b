// Package store defines the persistent key-value surface used by the agent.
// Each logical key holds a single serialized value; reads and writes replace
// or merge at whole-value granularity, so every write path must re-read the
// latest stored value immediately before merging (there is no lock).
package store

import (
	"context"

	"github.com/clockguard/clockguard/internal/model"
)

// Store provides durable access to session, profile and snapshot state.
type Store interface {
	// LoadSession returns the stored login session, or errs.ErrNoSession.
	LoadSession(ctx context.Context) (*model.Session, error)
	// SaveSession overwrites the stored login session.
	SaveSession(ctx context.Context, s *model.Session) error
	// ClearSession removes the stored login session.
	ClearSession(ctx context.Context) error

	// LoadProfiles returns all stored user profiles keyed by user ID.
	// An empty map is returned when nothing is stored.
	LoadProfiles(ctx context.Context) (map[int64]*model.UserProfile, error)
	// SaveProfiles overwrites the stored profiles map.
	SaveProfiles(ctx context.Context, profiles map[int64]*model.UserProfile) error

	// LoadSnapshot returns the last active-recording snapshot, or errs.ErrNotFound.
	LoadSnapshot(ctx context.Context) (*model.ActiveRecording, error)
	// SaveSnapshot overwrites the active-recording snapshot.
	SaveSnapshot(ctx context.Context, snap *model.ActiveRecording) error

	// PutSound stores an uploaded custom sound blob.
	PutSound(ctx context.Context, sound *model.CustomSound) error
	// GetSound returns a stored custom sound by ID, or errs.ErrNotFound.
	GetSound(ctx context.Context, id string) (*model.CustomSound, error)
	// DeleteSound removes a stored custom sound. Missing IDs are not an error.
	DeleteSound(ctx context.Context, id string) error
}
