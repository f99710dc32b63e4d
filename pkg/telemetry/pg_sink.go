package telemetry

import (
	"context"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	stdsql "database/sql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations
var migrationsFS embed.FS

// PGSink appends one row per Record to telemetry_records via a pgx
// connection pool. A plain INSERT rather than a generated ORM client —
// see DESIGN.md for why this table doesn't go through ent.
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink opens a connection pool against dsn and runs any pending
// telemetry migrations.
func NewPGSink(ctx context.Context, dsn string) (*PGSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry: pinging database: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry: running migrations: %w", err)
	}

	return &PGSink{pool: pool}, nil
}

func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "telemetry", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Record inserts one telemetry row. A failure is returned to the
// caller (the adapter logs it) but never blocks or retries — a slow
// telemetry store must not slow down capability invocation.
func (s *PGSink) Record(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telemetry_records
			(capability_name, agent_name, started_at, duration_ms, outcome, provenance_written, pattern_id, step_name, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.CapabilityName, r.AgentName, r.StartedAt, r.DurationMS, string(r.Outcome), r.ProvenanceWritten, r.PatternID, r.StepName, r.ErrorMessage)
	if err != nil {
		return fmt.Errorf("telemetry: inserting record: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PGSink) Close() {
	s.pool.Close()
}
