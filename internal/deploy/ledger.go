package deploy

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/edgesearch/pkg/postgres"
)

const ledgerSchema = `CREATE TABLE IF NOT EXISTS edgesearch_deployments (
    id              BIGSERIAL PRIMARY KEY,
    key_prefix      TEXT NOT NULL,
    name            TEXT NOT NULL,
    namespace       TEXT NOT NULL DEFAULT '',
    digest          TEXT NOT NULL,
    upload_data     BOOLEAN NOT NULL,
    documents       BIGINT NOT NULL,
    terms           BIGINT NOT NULL,
    postings_chunks BIGINT NOT NULL,
    document_chunks BIGINT NOT NULL,
    bytes           BIGINT NOT NULL,
    deployed_at     TIMESTAMPTZ NOT NULL
)`

// Ledger records deployments in PostgreSQL.
type Ledger struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewLedger(db *postgres.Client) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger.WithComponent("deploy-ledger"),
	}
}

// EnsureSchema creates the ledger table if it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.DB.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("creating deployments table: %w", err)
	}
	return nil
}

func (l *Ledger) Record(ctx context.Context, e Event) error {
	var id int64
	err := l.db.InTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO edgesearch_deployments
		(key_prefix, name, namespace, digest, upload_data, documents, terms, postings_chunks, document_chunks, bytes, deployed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
			e.KeyPrefix, e.Name, e.Namespace, e.Digest, e.UploadData, int64(e.Documents), e.Terms,
			int64(e.PostingsChunks), int64(e.DocumentChunks), e.Bytes, e.DeployedAt,
		).Scan(&id)
	})
	if err != nil {
		return fmt.Errorf("inserting deployment: %w", err)
	}
	l.logger.Info("deployment recorded", "id", id, "name", e.Name, "namespace", e.Namespace)
	return nil
}

// History returns the most recent deployments of a target, newest first.
func (l *Ledger) History(ctx context.Context, t Target, limit int) ([]Event, error) {
	rows, err := l.db.DB.QueryContext(ctx,
		`SELECT key_prefix, name, namespace, digest, upload_data, documents, terms, postings_chunks, document_chunks, bytes, deployed_at
		FROM edgesearch_deployments
		WHERE key_prefix=$1 AND name=$2 AND namespace=$3
		ORDER BY deployed_at DESC LIMIT $4`,
		t.Prefix, t.Name, t.Namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("querying deployments: %w", err)
	}
	defer rows.Close()
	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		var documents, postingsChunks, documentChunks int64
		if err := rows.Scan(&e.KeyPrefix, &e.Name, &e.Namespace, &e.Digest, &e.UploadData,
			&documents, &e.Terms, &postingsChunks, &documentChunks, &e.Bytes, &e.DeployedAt); err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		e.Documents = uint32(documents)
		e.PostingsChunks = uint32(postingsChunks)
		e.DocumentChunks = uint32(documentChunks)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployments: %w", err)
	}
	return events, nil
}
