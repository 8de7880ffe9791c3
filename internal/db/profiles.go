package db

import (
	"context"
	"database/sql"
	"fmt"
)

// ProfileStore resolves which browser profile an owner is assigned to
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore creates a profile store on the shared connection
func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// AssignedProfile returns the profile assigned to an owner, or empty when
// none is assigned. Resolution happens fresh at claim time so a reassignment
// between enqueue and claim is picked up naturally.
func (s *ProfileStore) AssignedProfile(ctx context.Context, ownerID string) (string, error) {
	var profileID string
	err := s.db.QueryRowContext(ctx, `
		SELECT profile_id FROM profile_assignments WHERE owner_id = $1
	`, ownerID).Scan(&profileID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve assigned profile: %w", err)
	}
	return profileID, nil
}

// AssignProfile binds an owner to a profile, replacing any prior assignment
func (s *ProfileStore) AssignProfile(ctx context.Context, ownerID, profileID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_assignments (owner_id, profile_id)
		VALUES ($1, $2)
		ON CONFLICT (owner_id) DO UPDATE SET profile_id = EXCLUDED.profile_id, assigned_at = NOW()
	`, ownerID, profileID)
	if err != nil {
		return fmt.Errorf("failed to assign profile: %w", err)
	}
	return nil
}
