// Package persister defines the append-only write-ahead-log contract
// the queue core records durable work through. It fixes only the
// batching/transaction boundary; the layout of persisted state belongs
// to each implementation.
package persister

import (
	"context"

	"github.com/amq-core/brokerqueue/internal/domain"
)

// Kind discriminates the three work-item shapes.
type Kind int

const (
	KindPublish Kind = iota
	KindAck
	KindDeliver
)

// WorkItem is one unit of persisted work: a publish carrying its
// message, or an ack/deliver carrying just the (queue, key) pair.
type WorkItem struct {
	Kind           Kind
	Queue          string
	PersistenceKey string
	Message        domain.Message // only populated for KindPublish
}

// TxnKey identifies one transaction's slice of work on one queue.
type TxnKey struct {
	Txn   domain.TxnID
	Queue string
}

// Persister accepts batches of work, transactional or not, and commits or
// rolls back a txn's accumulated batch atomically.
type Persister interface {
	// DirtyWork records a non-transactional batch immediately.
	DirtyWork(ctx context.Context, items []WorkItem) error
	// ExtendTransaction appends items to an open transaction without
	// making them visible until CommitTransaction.
	ExtendTransaction(ctx context.Context, key TxnKey, items []WorkItem) error
	// CommitTransaction atomically commits every item previously passed
	// to ExtendTransaction for key.
	CommitTransaction(ctx context.Context, key TxnKey) error
	// RollbackTransaction discards everything accumulated for key.
	RollbackTransaction(ctx context.Context, key TxnKey) error
}
