package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
)

type PostgresConfig struct {
	DSN        string        `koanf:"dsn" json:"dsn"`
	Table      string        `koanf:"table" json:"table"`
	TTL        time.Duration `koanf:"ttl" json:"ttl"`
	PendingTTL time.Duration `koanf:"pending_ttl" json:"pending_ttl"`
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresGuard relies on the primary key of a claims table. A row whose
// claim lapsed, pending for longer than PendingTTL or started longer than
// TTL ago, is taken over by the next Claim.
type PostgresGuard struct {
	db      *sql.DB
	table   string
	ttl     time.Duration
	pending time.Duration
}

func NewPostgresGuard(ctx context.Context, c PostgresConfig) (*PostgresGuard, error) {
	if c.Table == "" {
		c.Table = "pipe_executions"
	}
	if !tableName.MatchString(c.Table) {
		return nil, fmt.Errorf("postgres idempotency guard: invalid table name %q", c.Table)
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = DefaultPendingTTL
	}
	db, err := sql.Open("postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	g := &PostgresGuard{db: db, table: c.Table, ttl: c.TTL, pending: c.PendingTTL}
	if err := g.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *PostgresGuard) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ` + g.table + ` (
			key TEXT PRIMARY KEY,
			state TEXT NOT NULL DEFAULT '` + stateStarted + `',
			claimed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
		)`,
		// tables created before claims had a state only held started keys
		`ALTER TABLE ` + g.table + ` ADD COLUMN IF NOT EXISTS state TEXT NOT NULL DEFAULT '` + stateStarted + `'`,
	}
	for _, q := range queries {
		if _, err := g.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (g *PostgresGuard) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	query := `INSERT INTO ` + g.table + ` AS c (key, state, claimed_at) VALUES ($1, '` + statePending + `', now())
		ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, claimed_at = EXCLUDED.claimed_at
		WHERE (c.state = '` + statePending + `' AND c.claimed_at < now() - make_interval(secs => $2))
		   OR (c.state = '` + stateStarted + `' AND c.claimed_at < now() - make_interval(secs => $3))
		RETURNING key`
	var claimed string
	err := g.db.QueryRowContext(ctx, query, key, g.pending.Seconds(), g.ttl.Seconds()).Scan(&claimed)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}

	var state string
	err = g.db.QueryRowContext(ctx, `SELECT state FROM `+g.table+` WHERE key = $1`, key).Scan(&state)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// released between the two statements
		return false, ErrInFlight
	case err != nil:
		return false, fmt.Errorf("claim %s: %w", key, err)
	case state == stateStarted:
		return false, nil
	}
	return false, ErrInFlight
}

func (g *PostgresGuard) Confirm(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO `+g.table+` (key, state, claimed_at) VALUES ($1, '`+stateStarted+`', now())
		ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, claimed_at = EXCLUDED.claimed_at`, key)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", key, err)
	}
	return nil
}

func (g *PostgresGuard) Release(ctx context.Context, key string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM `+g.table+` WHERE key = $1`, key)
	return err
}

func (g *PostgresGuard) Close() error {
	return g.db.Close()
}
