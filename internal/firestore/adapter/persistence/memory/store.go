// Package memory is a hermetic in-process Store used by tests and by the
// gateway when no MongoDB is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/query"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"
)

var _ repository.Store = (*Store)(nil)

// Store keeps every collection in a map guarded by one lock, so a Commit is
// atomic with respect to every other call.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]*model.Document
	closed      bool
	log         logger.Logger
}

// NewStore creates an empty store
func NewStore(log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		collections: make(map[string]map[string]*model.Document),
		log:         log.WithComponent("memory-store"),
	}
}

func (s *Store) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewBackendUnavailableError("request cancelled").WithCause(err).WithComponent("memory-store")
	}
	if s.closed {
		return apperrors.NewBackendUnavailableError("store is closed").WithComponent("memory-store")
	}
	return nil
}

// Get implements repository.Store
func (s *Store) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.collections[collection][id].Clone(), nil
}

// Commit implements repository.Store
func (s *Store) Commit(ctx context.Context, collection string, writes []model.Write) (*model.CommitResult, error) {
	if err := model.ValidateCollectionID(collection); err != nil {
		return nil, apperrors.NewInvalidArgumentError(err.Error()).WithComponent("memory-store")
	}
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return nil, apperrors.NewInvalidArgumentError(err.Error()).WithComponent("memory-store")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	commitTime := model.Now()
	docs := s.collections[collection]
	// later writes in the same commit see earlier ones
	pending := make(map[string]*model.Document, len(writes))
	touched := make(map[string]bool, len(writes))
	current := func(id string) *model.Document {
		if touched[id] {
			return pending[id]
		}
		return docs[id]
	}

	result := &model.CommitResult{CommitTime: commitTime, Results: make([]model.WriteResult, len(writes))}
	for i, w := range writes {
		doc, change, err := model.Mutate(current(w.ID), collection, w, commitTime)
		if err != nil {
			if errors.Is(err, model.ErrPreconditionFailed) {
				return nil, apperrors.NewTransactionConflictError(fmt.Sprintf("document %s/%s changed concurrently", collection, w.ID)).
					WithCause(err).WithComponent("memory-store")
			}
			return nil, apperrors.NewInvalidArgumentError(err.Error()).WithComponent("memory-store")
		}
		if change != "" {
			pending[w.ID] = doc
			touched[w.ID] = true
		}
		result.Results[i] = model.WriteResult{UpdateTime: commitTime, Document: doc.Clone(), Change: change}
		if doc != nil {
			result.Results[i].Version = doc.Version
		}
	}

	if len(touched) > 0 && docs == nil {
		docs = make(map[string]*model.Document)
		s.collections[collection] = docs
	}
	for id := range touched {
		if pending[id] == nil {
			delete(docs, id)
		} else {
			docs[id] = pending[id]
		}
	}
	if docs != nil && len(docs) == 0 {
		delete(s.collections, collection)
	}

	s.log.Debugf("committed %d writes to %s", len(writes), collection)
	return result, nil
}

// Query implements repository.Store
func (s *Store) Query(ctx context.Context, collection string, plan *query.Plan) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	all := make([]*model.Document, 0, len(s.collections[collection]))
	for _, d := range s.collections[collection] {
		all = append(all, d)
	}
	matched := plan.Apply(all)
	out := make([]*model.Document, len(matched))
	for i, d := range matched {
		out[i] = d.Clone()
	}
	return out, nil
}

// DeleteCollection implements repository.Store
func (s *Store) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	n := int64(len(s.collections[collection]))
	delete(s.collections, collection)
	return n, nil
}

// ListCollections implements repository.Store
func (s *Store) ListCollections(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var names []string
	for name := range s.collections {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close implements repository.Store. Later calls fail with BackendUnavailable.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
