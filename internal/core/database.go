package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/registration-service/config"
)

// Unique constraint names used to tell duplicate emails from duplicate phones.
const (
	EmailUniqueConstraint = "customers_email_key"
	PhoneUniqueConstraint = "customers_phone_number_key"
)

// schema creates the customers table. The UNIQUE constraints are the
// authoritative guard against concurrent registrations of the same email or phone;
// the workflow's pre-checks only give early feedback.
const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL,
	phone_number  TEXT NOT NULL,
	gender        TEXT NOT NULL,
	date_of_birth TEXT NOT NULL,
	address       TEXT NOT NULL,
	password      TEXT NOT NULL,
	latitude      TEXT NOT NULL DEFAULT '',
	longitude     TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT ` + EmailUniqueConstraint + ` UNIQUE (email),
	CONSTRAINT ` + PhoneUniqueConstraint + ` UNIQUE (phone_number)
)`

// Connect establishes the database connection pool using pgx/v5.
// The pool is created once in main and injected into repositories.
//
// IMPORTANT: SimpleProtocol mode with statement caching disabled keeps the pool
// compatible with transaction-mode poolers (PgCat/PgBouncer). Without this you may see:
//
//	"prepared statement stmtcache_* does not exist"
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.BuildDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	poolCfg.ConnConfig.StatementCacheCapacity = 0
	poolCfg.ConnConfig.DescriptionCacheCapacity = 0
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the customers table and its unique constraints if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure customers schema: %w", err)
	}
	return nil
}
