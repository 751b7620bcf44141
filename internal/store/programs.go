package store

import (
	"context"
	"database/sql"

	"campustv/pkg/models"
)

// ProgramStore reads programs and their follower graph.
type ProgramStore struct {
	db *sql.DB
}

// Get returns a program by id, or nil when it does not exist.
func (s *ProgramStore) Get(ctx context.Context, id string) (*models.Program, error) {
	var p models.Program
	err := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, account_id, title, remote_stream_id, created_at, updated_at
		FROM campustv.programs
		WHERE id = $1
	`, id).Scan(&p.ID, &p.ChannelID, &p.AccountID, &p.Title, &p.RemoteStreamID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetRemoteStream caches the provisioned live-input id on the program.
func (s *ProgramStore) SetRemoteStream(ctx context.Context, id, remoteID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.programs SET remote_stream_id = $1, updated_at = NOW() WHERE id = $2
	`, remoteID, id)
	return err
}

// ClearRemoteStream drops a cached live-input id that no longer resolves remotely.
func (s *ProgramStore) ClearRemoteStream(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.programs SET remote_stream_id = NULL, updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

// GetOwnerContact returns the broadcaster's email and display name.
func (s *ProgramStore) GetOwnerContact(ctx context.Context, programID string) (email, displayName string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT a.email, a.display_name
		FROM campustv.programs p
		JOIN campustv.accounts a ON a.id = p.account_id
		WHERE p.id = $1
	`, programID).Scan(&email, &displayName)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	return email, displayName, err
}

// ListFollowerAccountIDs returns the de-duplicated union of program followers
// and the program's channel followers.
func (s *ProgramStore) ListFollowerAccountIDs(ctx context.Context, programID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id FROM campustv.program_followers WHERE program_id = $1
		UNION
		SELECT cf.account_id
		FROM campustv.channel_followers cf
		JOIN campustv.programs p ON p.channel_id = cf.channel_id
		WHERE p.id = $1
	`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
