package changefeed

import (
	"context"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/shared/logger"
)

var _ repository.Store = (*PublishingStore)(nil)

// PublishingStore publishes every change a successful commit makes. A
// failed publish is logged and does not fail the commit, which is already
// durable; listeners recover at their next event or reconnect.
type PublishingStore struct {
	repository.Store
	feed repository.ChangeFeed
	log  logger.Logger
}

// NewPublishingStore decorates store
func NewPublishingStore(store repository.Store, feed repository.ChangeFeed, log logger.Logger) *PublishingStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &PublishingStore{Store: store, feed: feed, log: log.WithComponent("publishing-store")}
}

// Feed returns the feed changes are published to
func (s *PublishingStore) Feed() repository.ChangeFeed {
	return s.feed
}

// Commit implements repository.Store
func (s *PublishingStore) Commit(ctx context.Context, collection string, writes []model.Write) (*model.CommitResult, error) {
	res, err := s.Store.Commit(ctx, collection, writes)
	if err != nil {
		return nil, err
	}
	for i, r := range res.Results {
		if r.Change == "" {
			continue
		}
		s.publish(ctx, model.ChangeEvent{
			Collection: collection,
			DocumentID: writes[i].ID,
			Type:       r.Change,
			Document:   r.Document,
			CommitTime: res.CommitTime,
		})
	}
	return res, nil
}

// DeleteCollection implements repository.Store. Dropping a non-empty
// collection publishes one removal without a document ID.
func (s *PublishingStore) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	n, err := s.Store.DeleteCollection(ctx, collection)
	if err != nil || n == 0 {
		return n, err
	}
	s.publish(ctx, model.ChangeEvent{Collection: collection, Type: model.ChangeRemoved, CommitTime: model.Now()})
	return n, nil
}

func (s *PublishingStore) publish(ctx context.Context, event model.ChangeEvent) {
	if _, err := s.feed.Publish(ctx, event); err != nil {
		s.log.WithFields(map[string]interface{}{
			"collection": event.Collection,
			"documentId": event.DocumentID,
		}).Warnf("Failed to publish change: %v", err)
	}
}
