package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/wire"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"

	"github.com/redis/go-redis/v9"
)

var _ repository.ChangeFeed = (*RedisFeed)(nil)

// RedisFeed stores events in one Redis stream per collection. Stream entry
// IDs are the resume tokens. Documents are stored as REST typed values so
// every normalized type survives the trip.
type RedisFeed struct {
	client    *redis.Client
	prefix    string
	maxLen    int64
	blockFor  time.Duration
	ownClient bool
	log       logger.Logger
}

// RedisFeedOption configures a RedisFeed
type RedisFeedOption func(*RedisFeed)

// WithStreamPrefix namespaces stream keys, e.g. per test run
func WithStreamPrefix(prefix string) RedisFeedOption {
	return func(f *RedisFeed) { f.prefix = prefix }
}

// WithMaxLen caps each stream, approximately, at n entries
func WithMaxLen(n int64) RedisFeedOption {
	return func(f *RedisFeed) { f.maxLen = n }
}

// WithOwnedClient makes Close also close the client
func WithOwnedClient() RedisFeedOption {
	return func(f *RedisFeed) { f.ownClient = true }
}

// NewRedisFeed creates a feed on an existing client
func NewRedisFeed(client *redis.Client, log logger.Logger, opts ...RedisFeedOption) *RedisFeed {
	if log == nil {
		log = logger.NewNop()
	}
	f := &RedisFeed{
		client:   client,
		prefix:   "changefeed:",
		maxLen:   DefaultRetention,
		blockFor: time.Second,
		log:      log.WithComponent("redis-changefeed"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *RedisFeed) stream(collection string) string {
	return f.prefix + collection
}

// Publish implements repository.ChangeFeed
func (f *RedisFeed) Publish(ctx context.Context, event model.ChangeEvent) (string, error) {
	document := ""
	if event.Document != nil {
		enc, err := wire.EncodeDocument("", event.Document)
		if err != nil {
			return "", apperrors.NewInvalidArgumentError("cannot encode change event document").WithCause(err)
		}
		raw, err := json.Marshal(enc)
		if err != nil {
			return "", apperrors.NewInternalError("cannot encode change event document").WithCause(err)
		}
		document = string(raw)
	}

	id, err := f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.stream(event.Collection),
		MaxLen: f.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":       string(event.Type),
			"collection": event.Collection,
			"documentId": event.DocumentID,
			"commitTime": event.CommitTime.UnixNano(),
			"document":   document,
		},
	}).Result()
	if err != nil {
		f.log.Errorf("Failed to publish change of %s/%s: %v", event.Collection, event.DocumentID, err)
		return "", apperrors.NewBackendUnavailableError("publish change event").WithCause(err).WithComponent("redis-changefeed")
	}
	return id, nil
}

// Subscribe implements repository.ChangeFeed. With no token the position is
// fixed before Subscribe returns, so events published afterwards are seen.
func (f *RedisFeed) Subscribe(ctx context.Context, collection, afterToken string) (<-chan model.ChangeEvent, error) {
	stream := f.stream(collection)
	lastID := afterToken
	if lastID == "" {
		latest, err := f.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
		if err != nil {
			return nil, apperrors.NewBackendUnavailableError("read stream head").WithCause(err).WithComponent("redis-changefeed")
		}
		lastID = "0-0"
		if len(latest) == 1 {
			lastID = latest[0].ID
		}
	}

	out := make(chan model.ChangeEvent)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			res, err := f.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   100,
				Block:   f.blockFor,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					// the subscriber resumes from its last token
					f.log.Warnf("Change stream %s interrupted: %v", stream, err)
				}
				return
			}
			for _, s := range res {
				for _, msg := range s.Messages {
					lastID = msg.ID
					event, err := parseMessage(msg)
					if err != nil {
						f.log.Warnf("Skipping malformed change %s on %s: %v", msg.ID, stream, err)
						continue
					}
					select {
					case out <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// Trim drops all retained events of a collection
func (f *RedisFeed) Trim(ctx context.Context, collection string) error {
	return f.client.Del(ctx, f.stream(collection)).Err()
}

// Close implements repository.ChangeFeed
func (f *RedisFeed) Close() error {
	if f.ownClient {
		return f.client.Close()
	}
	return nil
}

// parseMessage converts a stream entry back into a change event
func parseMessage(msg redis.XMessage) (model.ChangeEvent, error) {
	str := func(key string) string {
		s, _ := msg.Values[key].(string)
		return s
	}
	event := model.ChangeEvent{
		Collection: str("collection"),
		DocumentID: str("documentId"),
		Type:       model.ChangeType(str("type")),
		Token:      msg.ID,
	}
	if ts := str("commitTime"); ts != "" {
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return event, fmt.Errorf("commitTime: %w", err)
		}
		event.CommitTime = time.Unix(0, n).UTC()
	}
	if raw := str("document"); raw != "" {
		var enc wire.Document
		if err := json.Unmarshal([]byte(raw), &enc); err != nil {
			return event, fmt.Errorf("document: %w", err)
		}
		doc, err := wire.DecodeDocument(&enc)
		if err != nil {
			return event, fmt.Errorf("document: %w", err)
		}
		doc.Collection, doc.ID = event.Collection, event.DocumentID
		event.Document = doc
	}
	return event, nil
}
