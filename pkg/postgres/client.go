// Package postgres opens the deployment ledger database over lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/logger"
)

const pingTimeout = 5 * time.Second

// Client is a pooled connection to the ledger database.
type Client struct {
	DB     *sql.DB
	logger *slog.Logger
}

// New opens the pool and pings it once, so a misconfigured ledger fails the
// deploy command before anything is uploaded.
func New(cfg config.PostgresConfig) (*Client, error) {
	log := logger.WithComponent("ledger-db").With("host", cfg.Host, "database", cfg.Database)
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening ledger database %s: %w", cfg.Database, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("reaching ledger database %s on %s: %w", cfg.Database, cfg.Host, err)
	}
	log.Debug("ledger database connected", "max_open_conns", cfg.MaxOpenConns)
	return &Client{DB: db, logger: log}, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// InTx runs fn in one transaction, committing only when fn succeeds.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Error("ledger rollback failed", "error", rbErr)
			return fmt.Errorf("rolling back ledger transaction (%v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ledger transaction: %w", err)
	}
	return nil
}
