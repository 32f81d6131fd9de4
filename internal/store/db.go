package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Pool sizing for a single API process. Request handlers hold at most
// one connection each and document saves spend most of their time in
// the GitHub round trip, not in Postgres, so the pool stays small.
const (
	maxOpenConns    = 16
	maxIdleConns    = 8
	connMaxIdleTime = 2 * time.Minute
	connMaxLifetime = time.Hour
)

// Open connects to Postgres through the pgx stdlib driver and verifies
// the connection before returning the pool.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxIdleTime(connMaxIdleTime)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
