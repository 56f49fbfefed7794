package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"voicegate/internal/platform/postgres"
)

// PostgresStore persists attempts in PostgreSQL.
// This store is pure I/O; retry and timeout policy live in the Recorder.
type PostgresStore struct {
	pool *postgres.Pool
}

// NewPostgres constructs a PostgreSQL-backed attempt store.
func NewPostgres(pool *postgres.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, attempt Attempt) error {
	if err := attempt.Validate(); err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}

	query := `
		INSERT INTO attempts (id, subject_id, outcome, reason, score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.pool.DB().ExecContext(ctx, query,
		attempt.ID,
		attempt.SubjectID,
		string(attempt.Outcome),
		attempt.Reason,
		nullFloat(attempt.Score),
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, subjectID string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, subject_id, outcome, reason, score, created_at
		FROM attempts
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.DB().QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var attempt Attempt
		var score sql.NullFloat64
		if err := rows.Scan(&attempt.ID, &attempt.SubjectID, &attempt.Outcome, &attempt.Reason, &score, &attempt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if score.Valid {
			attempt.Score = &score.Float64
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

func (s *PostgresStore) RecentFailures(ctx context.Context, subjectID string, window time.Duration) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM attempts
		WHERE subject_id = $1 AND outcome = $2 AND created_at > $3
	`
	var count int
	cutoff := time.Now().UTC().Add(-window)
	err := s.pool.DB().QueryRowContext(ctx, query, subjectID, string(OutcomeFailure), cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent failures: %w", err)
	}
	return count, nil
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
