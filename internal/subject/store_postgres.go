package subject

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"voicegate/internal/platform/postgres"
)

// PostgresStore persists references in PostgreSQL. The descriptor vector is
// stored as a float8 array column.
type PostgresStore struct {
	pool *postgres.Pool
}

// NewPostgres constructs a PostgreSQL-backed reference store.
func NewPostgres(pool *postgres.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Find(ctx context.Context, subjectID string) (Reference, error) {
	query := `
		SELECT subject_id, embedding, model_version, enrolled_at
		FROM subjects
		WHERE subject_id = $1
	`
	var ref Reference
	var values pq.Float64Array
	err := s.pool.DB().QueryRowContext(ctx, query, subjectID).Scan(
		&ref.SubjectID,
		&values,
		&ref.Descriptor.Version,
		&ref.EnrolledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Reference{}, ErrNotFound
		}
		return Reference{}, fmt.Errorf("find reference: %w", err)
	}
	ref.Descriptor.Values = []float64(values)

	if err := ref.Descriptor.Validate(); err != nil {
		return Reference{}, fmt.Errorf("stored reference for %s: %w", subjectID, err)
	}
	return ref, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, ref Reference) error {
	if err := ref.Validate(); err != nil {
		return fmt.Errorf("upsert reference: %w", err)
	}

	query := `
		INSERT INTO subjects (subject_id, embedding, model_version, enrolled_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			model_version = EXCLUDED.model_version,
			enrolled_at = EXCLUDED.enrolled_at
	`
	_, err := s.pool.DB().ExecContext(ctx, query,
		ref.SubjectID,
		pq.Float64Array(ref.Descriptor.Values),
		ref.Descriptor.Version,
		ref.EnrolledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert reference: %w", err)
	}
	return nil
}
