// Package sqlite implements the store.Store interface on a local SQLite
// database. Logical keys live in a single kv table as JSON blobs; custom
// sounds get their own table because their blobs are large and opaque.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clockguard/clockguard/internal/errs"
	"github.com/clockguard/clockguard/internal/model"
	"github.com/clockguard/clockguard/internal/store"
)

// Logical kv keys.
const (
	keySession  = "loginSession"
	keyProfiles = "userProfiles"
	keySnapshot = "activeRecordingSnapshot"
)

// Sealer encrypts the stored session value at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Store is the SQLite-backed store.Store implementation.
type Store struct {
	db     *sql.DB
	sealer Sealer // nil = session stored in plaintext
}

var _ store.Store = (*Store)(nil)

// New constructs a Store over an opened, migrated database. A non-nil sealer
// is applied to the session value only.
func New(db *sql.DB, sealer Sealer) *Store {
	return &Store{db: db, sealer: sealer}
}

func (s *Store) getValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) putValue(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// LoadSession returns the stored login session, unsealing it when a sealer
// is configured.
func (s *Store) LoadSession(ctx context.Context) (*model.Session, error) {
	raw, err := s.getValue(ctx, keySession)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if s.sealer != nil {
		if raw, err = s.sealer.Open(raw); err != nil {
			return nil, fmt.Errorf("unseal session: %w", err)
		}
	}
	var sess model.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

// SaveSession overwrites the stored login session.
func (s *Store) SaveSession(ctx context.Context, sess *model.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if s.sealer != nil {
		if raw, err = s.sealer.Seal(raw); err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
	}
	return s.putValue(ctx, keySession, raw)
}

// ClearSession removes the stored login session.
func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, keySession); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// LoadProfiles returns all stored user profiles keyed by user ID.
func (s *Store) LoadProfiles(ctx context.Context) (map[int64]*model.UserProfile, error) {
	raw, err := s.getValue(ctx, keyProfiles)
	if errors.Is(err, errs.ErrNotFound) {
		return map[int64]*model.UserProfile{}, nil
	}
	if err != nil {
		return nil, err
	}
	var profiles map[int64]*model.UserProfile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	if profiles == nil {
		profiles = map[int64]*model.UserProfile{}
	}
	return profiles, nil
}

// SaveProfiles overwrites the stored profiles map.
func (s *Store) SaveProfiles(ctx context.Context, profiles map[int64]*model.UserProfile) error {
	raw, err := json.Marshal(profiles)
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	return s.putValue(ctx, keyProfiles, raw)
}

// LoadSnapshot returns the last active-recording snapshot.
func (s *Store) LoadSnapshot(ctx context.Context) (*model.ActiveRecording, error) {
	raw, err := s.getValue(ctx, keySnapshot)
	if err != nil {
		return nil, err
	}
	var snap model.ActiveRecording
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// SaveSnapshot overwrites the active-recording snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *model.ActiveRecording) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.putValue(ctx, keySnapshot, raw)
}

// PutSound stores an uploaded custom sound blob.
func (s *Store) PutSound(ctx context.Context, sound *model.CustomSound) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO custom_sounds (id, name, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, data = excluded.data
	`, sound.ID, sound.Name, sound.Data)
	if err != nil {
		return fmt.Errorf("write sound %s: %w", sound.ID, err)
	}
	return nil
}

// GetSound returns a stored custom sound by ID.
func (s *Store) GetSound(ctx context.Context, id string) (*model.CustomSound, error) {
	sound := model.CustomSound{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, data FROM custom_sounds WHERE id = ?`, id,
	).Scan(&sound.Name, &sound.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read sound %s: %w", id, err)
	}
	return &sound, nil
}

// DeleteSound removes a stored custom sound.
func (s *Store) DeleteSound(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM custom_sounds WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete sound %s: %w", id, err)
	}
	return nil
}
