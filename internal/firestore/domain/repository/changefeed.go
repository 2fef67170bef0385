package repository

import (
	"context"

	"firestore-driver/internal/firestore/domain/model"
)

// ChangeFeed carries committed mutations to listeners. Tokens are opaque and
// ordered within a collection.
type ChangeFeed interface {
	// Publish appends event and returns its token
	Publish(ctx context.Context, event model.ChangeEvent) (string, error)
	// Subscribe delivers events for collection strictly after afterToken, or
	// from now when afterToken is empty. The channel closes when ctx is done.
	Subscribe(ctx context.Context, collection, afterToken string) (<-chan model.ChangeEvent, error)
	Close() error
}
