package repository

import (
	"context"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/query"
)

// Store is the privileged persistence port. It bypasses rules and resolves
// write sentinels. Precondition failures surface as TransactionConflict,
// infrastructure faults as BackendUnavailable.
type Store interface {
	// Get returns nil without error when the document does not exist
	Get(ctx context.Context, collection, id string) (*model.Document, error)
	// Commit applies writes atomically. Results align with writes.
	Commit(ctx context.Context, collection string, writes []model.Write) (*model.CommitResult, error)
	// Query evaluates a translated plan
	Query(ctx context.Context, collection string, plan *query.Plan) ([]*model.Document, error)
	// DeleteCollection drops every document and reports how many were removed
	DeleteCollection(ctx context.Context, collection string) (int64, error)
	// ListCollections returns collection names starting with prefix, sorted
	ListCollections(ctx context.Context, prefix string) ([]string, error)
	Close(ctx context.Context) error
}
