package repository

import (
	"context"
	"errors"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/query"
)

// Driver is one backend access mode. Consumers hold a Driver and the
// CollectionReferences it hands out, and never reach the backend directly.
type Driver interface {
	// Name is "admin" or "client"
	Name() string
	// Capabilities describes what the backend can express and whether it enforces rules
	Capabilities() query.Capabilities
	// Collection returns a handle bound to this driver
	Collection(name string) CollectionReference
	Close() error
}

// CollectionReference is an opaque handle to a named collection. Every
// operation routes through the driver that created it.
type CollectionReference interface {
	ID() string
	Driver() Driver

	// Get returns a snapshot with Exists false for a missing document
	Get(ctx context.Context, id string) (*model.DocumentSnapshot, error)
	// Set upserts id. Without options the document is replaced.
	Set(ctx context.Context, id string, data map[string]interface{}, opts ...model.SetOption) (*model.WriteResult, error)
	// Delete is idempotent
	Delete(ctx context.Context, id string) error
	// Query returns a finite result ordered by the query with ties broken by ID
	Query(ctx context.Context, spec model.QuerySpec) ([]*model.DocumentSnapshot, error)
	// RunTransaction runs fn once. Contention fails with TransactionConflict
	// and is never retried. An error from fn aborts and is returned unchanged.
	RunTransaction(ctx context.Context, fn TransactionFunc) error
}

// TransactionFunc is the body of a transaction
type TransactionFunc func(ctx context.Context, tx Transaction) error

// Transaction is scoped to one collection handle. Reads must precede writes;
// writes are buffered and applied atomically when fn returns nil.
type Transaction interface {
	Get(ctx context.Context, id string) (*model.DocumentSnapshot, error)
	Set(id string, data map[string]interface{}, opts ...model.SetOption) error
	Delete(id string) error
}

// WriteBatch queues writes for one atomic commit outside a transaction
type WriteBatch interface {
	Set(id string, data map[string]interface{}, opts ...model.SetOption) WriteBatch
	Delete(id string) WriteBatch
	Commit(ctx context.Context) (*model.CommitResult, error)
}

// Batcher is implemented by collections whose backend supports batched writes
type Batcher interface {
	Batch() WriteBatch
}

// ErrListenerStopped is returned by SnapshotIterator.Next after Stop or once
// the listen context is done.
var ErrListenerStopped = errors.New("listener stopped")

// Listener is implemented by collections that support realtime queries.
// The stream is not finite: Next blocks until the result changes.
type Listener interface {
	Listen(ctx context.Context, spec model.QuerySpec) (SnapshotIterator, error)
}

// SnapshotIterator yields query snapshots. The first snapshot holds the full
// result; later ones carry the changes since the previous snapshot.
type SnapshotIterator interface {
	Next() (*model.QuerySnapshot, error)
	Stop()
}
