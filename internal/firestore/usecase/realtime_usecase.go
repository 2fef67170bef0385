package usecase

import (
	"context"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/query"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"
)

// SnapshotFunc receives each snapshot of a watched query. Returning an
// error stops the watch with that error.
type SnapshotFunc func(*model.QuerySnapshot) error

// RealtimeUsecase turns change feed events into query snapshots. It
// subscribes before the first query so no commit falls between the two, and
// re-runs the query whenever an event can affect the result.
type RealtimeUsecase struct {
	store repository.Store
	feed  repository.ChangeFeed
	log   logger.Logger
}

// NewRealtimeUsecase creates a new instance of RealtimeUsecase.
func NewRealtimeUsecase(store repository.Store, feed repository.ChangeFeed, log logger.Logger) *RealtimeUsecase {
	if log == nil {
		log = logger.NewNop()
	}
	return &RealtimeUsecase{store: store, feed: feed, log: log.WithComponent("realtime")}
}

// Watch emits the full result of plan, then one snapshot per batch of
// events that changed it. It returns ctx.Err() once ctx is done.
func (uc *RealtimeUsecase) Watch(ctx context.Context, collection string, plan *query.Plan, resumeToken string, emit SnapshotFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := uc.feed.Subscribe(ctx, collection, resumeToken)
	if err != nil {
		return apperrors.WrapError(err, apperrors.CodeBackendUnavailable, "subscribe to change feed")
	}

	prev, readTime, err := uc.snapshot(ctx, collection, plan)
	if err != nil {
		return err
	}
	token := resumeToken
	if err := emit(&model.QuerySnapshot{
		Docs:        prev,
		Changes:     model.DiffSnapshots(nil, prev),
		ReadTime:    readTime,
		ResumeToken: token,
	}); err != nil {
		return err
	}

	log := uc.log.WithContext(ctx).WithFields(map[string]interface{}{"collection": collection, "query": plan.String()})
	log.Debug("Watch started")

	for {
		var ev model.ChangeEvent
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok = <-events:
		}
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperrors.NewBackendUnavailableError("change feed subscription closed").WithComponent("realtime")
		}

		token = ev.Token
		dirty := affects(ev, plan, prev)
		// coalesce whatever else is already queued into one re-query
	drain:
		for {
			select {
			case more, open := <-events:
				if !open {
					break drain
				}
				token = more.Token
				dirty = dirty || affects(more, plan, prev)
			default:
				break drain
			}
		}
		if !dirty {
			continue
		}

		next, readTime, err := uc.snapshot(ctx, collection, plan)
		if err != nil {
			return err
		}
		changes := model.DiffSnapshots(prev, next)
		if len(changes) == 0 {
			continue
		}
		if err := emit(&model.QuerySnapshot{Docs: next, Changes: changes, ReadTime: readTime, ResumeToken: token}); err != nil {
			return err
		}
		prev = next
	}
}

func (uc *RealtimeUsecase) snapshot(ctx context.Context, collection string, plan *query.Plan) ([]*model.DocumentSnapshot, time.Time, error) {
	docs, err := uc.store.Query(ctx, collection, plan)
	if err != nil {
		return nil, time.Time{}, err
	}
	readTime := model.Now()
	snaps := make([]*model.DocumentSnapshot, len(docs))
	for i, d := range docs {
		snaps[i] = model.NewSnapshot(d.ID, d, readTime)
	}
	return snaps, readTime, nil
}

// affects reports whether ev can change a result currently holding prev
func affects(ev model.ChangeEvent, plan *query.Plan, prev []*model.DocumentSnapshot) bool {
	if ev.DocumentID == "" {
		return len(prev) > 0
	}
	for _, s := range prev {
		if s.ID == ev.DocumentID {
			return true
		}
	}
	return plan.Relevant(ev.Document)
}
