package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pocket_archiver/internal/domain"
)

// CheckpointStore keeps the harvest position in sync_state, one row per source.
type CheckpointStore struct {
	db       *sqlx.DB
	sourceID string
}

func NewCheckpointStore(db *sqlx.DB, sourceID string) *CheckpointStore {
	return &CheckpointStore{db: db, sourceID: sourceID}
}

func (s *CheckpointStore) Load(ctx context.Context) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	query := `
		SELECT next_offset, complete, updated_at
		FROM sync_state
		WHERE source_id = $1`

	err := s.db.GetContext(ctx, &cp, query, s.sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.Checkpoint{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *CheckpointStore) Commit(ctx context.Context, offset int) error {
	return s.save(ctx, offset, false)
}

func (s *CheckpointStore) MarkComplete(ctx context.Context, offset int) error {
	return s.save(ctx, offset, true)
}

func (s *CheckpointStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM sync_state WHERE source_id = $1", s.sourceID)
	return err
}

func (s *CheckpointStore) save(ctx context.Context, offset int, complete bool) error {
	query := `
		INSERT INTO sync_state (source_id, next_offset, complete, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (source_id) DO UPDATE SET
			next_offset = EXCLUDED.next_offset,
			complete = EXCLUDED.complete,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query, s.sourceID, offset, complete)
	return err
}
