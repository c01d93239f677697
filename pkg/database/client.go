// Package database provides PostgreSQL database client and migration utilities.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
)

// Client wraps a pooled database connection
type Client struct {
	db *sql.DB
}

// DB returns the underlying database connection for health checks and direct queries
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
	return c.db.Close()
}

// NewClient creates a new database client with connection pooling and migrations
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	cfg = cfg.withDefaults()

	// Open database connection using pgx driver
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Migrate {
		if err := Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &Client{db: db}, nil
}
