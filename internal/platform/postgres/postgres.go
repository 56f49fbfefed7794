package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"voicegate/internal/platform/config"
)

// ErrSaturated is returned when all pool slots are busy. Callers surface it as
// a capacity error rather than queueing unboundedly behind database/sql.
var ErrSaturated = errors.New("postgres pool saturated")

// Pool wraps database/sql with an explicit slot counter so that saturation
// fails fast instead of blocking until a connection frees up.
type Pool struct {
	db    *sql.DB
	slots chan struct{}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(cfg config.Postgres) (*Pool, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 16
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &Pool{
		db:    db,
		slots: make(chan struct{}, maxOpen),
	}, nil
}

// NewWithDB wraps an existing handle; used by tests against containers.
func NewWithDB(db *sql.DB, maxOpen int) *Pool {
	if maxOpen <= 0 {
		maxOpen = 16
	}
	return &Pool{db: db, slots: make(chan struct{}, maxOpen)}
}

// Acquire reserves a pool slot without blocking. The returned release function
// must be called exactly once. A cancelled context wins over a free slot.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case p.slots <- struct{}{}:
		return func() { <-p.slots }, nil
	default:
		return nil, ErrSaturated
	}
}

// DB exposes the underlying handle for store implementations.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health checks connectivity.
func (p *Pool) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the underlying handle.
func (p *Pool) Close() error {
	return p.db.Close()
}
