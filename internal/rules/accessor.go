package rules

import (
	"context"

	"firestore-driver/internal/firestore/domain/repository"
)

var _ repository.ResourceAccessor = (*StoreAccessor)(nil)

// StoreAccessor serves exists() and get() from the privileged store
type StoreAccessor struct {
	store repository.Store
}

func NewStoreAccessor(store repository.Store) *StoreAccessor {
	return &StoreAccessor{store: store}
}

// GetDocument returns the document data, or nil when it does not exist
func (a *StoreAccessor) GetDocument(ctx context.Context, collection, id string) (map[string]interface{}, error) {
	doc, err := a.store.Get(ctx, collection, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.Data, nil
}

func (a *StoreAccessor) ExistsDocument(ctx context.Context, collection, id string) (bool, error) {
	doc, err := a.store.Get(ctx, collection, id)
	return doc != nil, err
}
