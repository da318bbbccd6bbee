package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresACL implements ACLStore against a Postgres table, for operators
// who want allow/deny decisions to survive a restart. The engine never
// imports this type directly; it only ever holds the ACLStore interface.
type PostgresACL struct {
	db           *pgxpool.Pool
	defaultAllow bool
}

// NewPostgresACL opens a connection pool and verifies it is reachable.
func NewPostgresACL(ctx context.Context, connString string, defaultAllow bool) (*PostgresACL, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("acl: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("acl: ping database: %w", err)
	}
	return &PostgresACL{db: pool, defaultAllow: defaultAllow}, nil
}

// IsAllowed looks up clientID in the acl_entries table. A missing row
// falls back to defaultAllow.
func (p *PostgresACL) IsAllowed(clientID string) (bool, error) {
	ctx := context.Background()
	query := `SELECT allowed FROM acl_entries WHERE client_id = $1`

	var allowed bool
	err := p.db.QueryRow(ctx, query, clientID).Scan(&allowed)
	if err == pgx.ErrNoRows {
		return p.defaultAllow, nil
	}
	if err != nil {
		return false, fmt.Errorf("acl: query client %s: %w", clientID, err)
	}
	return allowed, nil
}

// Set upserts an explicit allow/deny entry for clientID.
func (p *PostgresACL) Set(ctx context.Context, clientID string, allowed bool) error {
	query := `
		INSERT INTO acl_entries (client_id, allowed)
		VALUES ($1, $2)
		ON CONFLICT (client_id) DO UPDATE SET allowed = EXCLUDED.allowed
	`
	if _, err := p.db.Exec(ctx, query, clientID, allowed); err != nil {
		return fmt.Errorf("acl: set client %s: %w", clientID, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (p *PostgresACL) Close() {
	p.db.Close()
}
