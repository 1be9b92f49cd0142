// Package postgres is the durable Persister implementation: an
// append-only table of work items, committed and rolled back with real
// SQL transactions.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amq-core/brokerqueue/internal/persister"
)

// WAL persists work items to a `queue_wal` table. Schema (out of scope
// for migrations here, but documented for operators):
//
//	CREATE TABLE queue_wal (
//	    id BIGSERIAL PRIMARY KEY,
//	    txn_id TEXT,
//	    queue_name TEXT NOT NULL,
//	    kind SMALLINT NOT NULL,
//	    persistence_key TEXT NOT NULL,
//	    body JSONB,
//	    committed BOOLEAN NOT NULL DEFAULT true,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type WAL struct {
	pool *pgxpool.Pool
}

var _ persister.Persister = (*WAL)(nil)

// New wraps an existing pgxpool.Pool as a Persister.
func New(pool *pgxpool.Pool) *WAL {
	return &WAL{pool: pool}
}

func (w *WAL) DirtyWork(ctx context.Context, items []persister.WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres wal: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertBatch(ctx, tx, "", items, true); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres wal: commit dirty work: %w", err)
	}
	return nil
}

func (w *WAL) ExtendTransaction(ctx context.Context, key persister.TxnKey, items []persister.WorkItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres wal: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertBatch(ctx, tx, string(key.Txn), items, false); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres wal: commit txn extend: %w", err)
	}
	return nil
}

func (w *WAL) CommitTransaction(ctx context.Context, key persister.TxnKey) error {
	tag, err := w.pool.Exec(ctx,
		`UPDATE queue_wal SET committed = true WHERE txn_id = $1 AND queue_name = $2 AND committed = false`,
		string(key.Txn), key.Queue,
	)
	if err != nil {
		return fmt.Errorf("postgres wal: commit txn %s/%s: %w", key.Txn, key.Queue, err)
	}
	_ = tag
	return nil
}

func (w *WAL) RollbackTransaction(ctx context.Context, key persister.TxnKey) error {
	_, err := w.pool.Exec(ctx,
		`DELETE FROM queue_wal WHERE txn_id = $1 AND queue_name = $2 AND committed = false`,
		string(key.Txn), key.Queue,
	)
	if err != nil {
		return fmt.Errorf("postgres wal: rollback txn %s/%s: %w", key.Txn, key.Queue, err)
	}
	return nil
}

func insertBatch(ctx context.Context, tx pgx.Tx, txnID string, items []persister.WorkItem, committed bool) error {
	for _, item := range items {
		var body []byte
		var err error
		if item.Kind == persister.KindPublish {
			body, err = json.Marshal(item.Message)
			if err != nil {
				return fmt.Errorf("postgres wal: marshal message: %w", err)
			}
		}
		var txnArg any
		if txnID != "" {
			txnArg = txnID
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO queue_wal (txn_id, queue_name, kind, persistence_key, body, committed)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			txnArg, item.Queue, int(item.Kind), item.PersistenceKey, body, committed,
		)
		if err != nil {
			return fmt.Errorf("postgres wal: insert item: %w", err)
		}
	}
	return nil
}
