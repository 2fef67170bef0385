// Package mongodb implements the privileged Store on MongoDB. Each Firestore
// collection maps to one mongo collection holding documents in the layout
// {_id, fields, version, createTime, updateTime}.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/query"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var _ repository.Store = (*Store)(nil)

const (
	component = "mongodb-store"
	// writeConflictCode is returned when two transactions touch one document
	writeConflictCode = 112
	// plainSetAttempts bounds how often an unconditional single write re-reads
	// after losing a version race. Writes with preconditions never retry.
	plainSetAttempts = 3
	// undoTimeout bounds restoring a partially applied standalone commit
	undoTimeout = 10 * time.Second
)

// Store is a repository.Store backed by a mongo database
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    logger.Logger
	// ownsClient is set by Connect; Close then disconnects
	ownsClient bool
	// standalone is set once the server rejects transactions
	standalone atomic.Bool
}

// NewStore wraps an existing database handle
func NewStore(db *mongo.Database, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		client: db.Client(),
		db:     db,
		log:    log.WithComponent(component),
	}
}

// Connect dials uri, pings the primary and returns a Store over database
func Connect(ctx context.Context, uri, database string, timeout time.Duration, log logger.Logger) (*Store, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetServerSelectionTimeout(timeout).SetConnectTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, unavailable("connect to mongodb", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable("ping mongodb", err)
	}
	s := NewStore(client.Database(database), log)
	s.ownsClient = true
	s.log.Infof("connected to mongodb database %s", database)
	return s, nil
}

// Get implements repository.Store
func (s *Store) Get(ctx context.Context, collection, id string) (*model.Document, error) {
	return s.find(ctx, s.db.Collection(collection), collection, id)
}

func (s *Store) find(ctx context.Context, coll *mongo.Collection, collection, id string) (*model.Document, error) {
	raw, err := coll.FindOne(ctx, bson.D{{Key: idKey, Value: id}}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(fmt.Sprintf("read %s/%s", collection, id), err)
	}
	doc, err := decodeDocument(collection, raw)
	if err != nil {
		return nil, apperrors.NewInternalError(err.Error()).WithComponent(component)
	}
	return doc, nil
}

// Commit implements repository.Store. A single write runs as a version
// compare-and-swap; several writes run in a session transaction. A server
// without transactions gets every precondition checked before the first
// write, and a write that still loses a race undoes the ones before it.
func (s *Store) Commit(ctx context.Context, collection string, writes []model.Write) (*model.CommitResult, error) {
	if err := model.ValidateCollectionID(collection); err != nil {
		return nil, apperrors.NewInvalidArgumentError(err.Error()).WithComponent(component)
	}
	for _, w := range writes {
		if err := w.Validate(); err != nil {
			return nil, apperrors.NewInvalidArgumentError(err.Error()).WithComponent(component)
		}
	}

	coll := s.db.Collection(collection)
	if len(writes) == 1 && writes[0].Precondition.IsZero() {
		var lastErr error
		for attempt := 0; attempt < plainSetAttempts; attempt++ {
			res, err := s.apply(ctx, coll, collection, writes, false)
			if err == nil || !apperrors.IsTransactionConflict(err) {
				return res, err
			}
			lastErr = err
		}
		return nil, lastErr
	}
	if len(writes) <= 1 {
		return s.apply(ctx, coll, collection, writes, false)
	}
	if s.standalone.Load() {
		return s.apply(ctx, coll, collection, writes, true)
	}

	res, err := s.commitInTransaction(ctx, coll, collection, writes)
	if err != nil && transactionsUnsupported(err) {
		s.standalone.Store(true)
		s.log.Warn("transactions not supported, multi-write commits are checked up front and undone on failure")
		return s.apply(ctx, coll, collection, writes, true)
	}
	return res, err
}

func (s *Store) commitInTransaction(ctx context.Context, coll *mongo.Collection, collection string, writes []model.Write) (*model.CommitResult, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, mapError("start session", err)
	}
	defer session.EndSession(ctx)

	var res *model.CommitResult
	err = mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		if err := session.StartTransaction(); err != nil {
			return err
		}
		var applyErr error
		res, applyErr = s.apply(sc, coll, collection, writes, false)
		if applyErr != nil {
			if abortErr := session.AbortTransaction(sc); abortErr != nil {
				s.log.Warnf("abort transaction: %v", abortErr)
			}
			return applyErr
		}
		return session.CommitTransaction(sc)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && !transactionsUnsupported(err) {
			return nil, err
		}
		return nil, mapError("commit transaction", err)
	}
	return res, nil
}

// step is one planned write: the document it expects to find and the one
// it leaves behind
type step struct {
	id     string
	kind   model.WriteKind
	before *model.Document
	after  *model.Document
}

// apply plans writes, then executes the plan
func (s *Store) apply(ctx context.Context, coll *mongo.Collection, collection string, writes []model.Write, undo bool) (*model.CommitResult, error) {
	steps, result, err := s.plan(ctx, coll, collection, writes)
	if err != nil {
		return nil, err
	}
	if err := s.execute(ctx, coll, collection, steps, undo); err != nil {
		return nil, err
	}
	return result, nil
}

// execute swaps steps in order. Each swap replaces the version that was
// read, so a concurrent change surfaces as TransactionConflict. With undo
// set, a failed swap first restores the documents the earlier swaps
// replaced; when that fails too the commit is reported as BackendUnavailable.
func (s *Store) execute(ctx context.Context, coll *mongo.Collection, collection string, steps []step, undo bool) error {
	for i, st := range steps {
		err := s.swap(ctx, coll, collection, st)
		if err == nil {
			continue
		}
		if undo && i > 0 {
			if undoErr := s.undo(ctx, coll, collection, steps[:i]); undoErr != nil {
				s.log.Errorf("commit to %s left %d of %d writes applied: %v", collection, i, len(steps), undoErr)
				return unavailable(fmt.Sprintf("commit to %s partially applied", collection), undoErr)
			}
		}
		return err
	}
	return nil
}

// plan reads every document the writes touch and checks every precondition
// before anything is written
func (s *Store) plan(ctx context.Context, coll *mongo.Collection, collection string, writes []model.Write) ([]step, *model.CommitResult, error) {
	commitTime := model.Now()
	current := make(map[string]*model.Document, len(writes))
	loaded := make(map[string]bool, len(writes))

	steps := make([]step, 0, len(writes))
	result := &model.CommitResult{CommitTime: commitTime, Results: make([]model.WriteResult, len(writes))}
	for i, w := range writes {
		if !loaded[w.ID] {
			doc, err := s.find(ctx, coll, collection, w.ID)
			if err != nil {
				return nil, nil, err
			}
			current[w.ID], loaded[w.ID] = doc, true
		}
		existing := current[w.ID]

		doc, change, err := model.Mutate(existing, collection, w, commitTime)
		if err != nil {
			if errors.Is(err, model.ErrPreconditionFailed) {
				return nil, nil, conflict(collection, w.ID, err)
			}
			return nil, nil, apperrors.NewInvalidArgumentError(err.Error()).WithComponent(component)
		}
		steps = append(steps, step{id: w.ID, kind: w.Kind, before: existing, after: doc})
		current[w.ID] = doc
		result.Results[i] = model.WriteResult{UpdateTime: commitTime, Document: doc.Clone(), Change: change}
		if doc != nil {
			result.Results[i].Version = doc.Version
		}
	}
	return steps, result, nil
}

// swap replaces st.before with st.after, guarded by the version that was
// read. A verify step rewrites only the verify marker, which makes a
// concurrent transaction writing the same document conflict.
func (s *Store) swap(ctx context.Context, coll *mongo.Collection, collection string, st step) error {
	existing, next, id := st.before, st.after, st.id
	switch {
	case st.kind == model.WriteVerify && existing == nil:
		doc, err := s.find(ctx, coll, collection, id)
		if err != nil {
			return err
		}
		if doc != nil {
			return conflict(collection, id, nil)
		}
		return nil

	case st.kind == model.WriteVerify:
		res, err := coll.UpdateOne(ctx, versionFilter(existing),
			bson.D{{Key: "$set", Value: bson.D{{Key: verifyKey, Value: primitive.NewObjectID()}}}})
		if err != nil {
			return mapError(fmt.Sprintf("verify %s/%s", collection, id), err)
		}
		if res.MatchedCount == 0 {
			return conflict(collection, id, nil)
		}
		return nil

	case existing == nil && next == nil:
		return nil

	case existing == nil:
		enc, err := encodeDocument(next)
		if err != nil {
			return apperrors.NewInvalidArgumentError(err.Error()).WithComponent(component)
		}
		if _, err := coll.InsertOne(ctx, enc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return conflict(collection, id, err)
			}
			return mapError(fmt.Sprintf("insert %s/%s", collection, id), err)
		}
		return nil

	case next == nil:
		res, err := coll.DeleteOne(ctx, versionFilter(existing))
		if err != nil {
			return mapError(fmt.Sprintf("delete %s/%s", collection, id), err)
		}
		if res.DeletedCount == 0 {
			return conflict(collection, id, nil)
		}
		return nil

	default:
		enc, err := encodeDocument(next)
		if err != nil {
			return apperrors.NewInvalidArgumentError(err.Error()).WithComponent(component)
		}
		res, err := coll.ReplaceOne(ctx, versionFilter(existing), enc)
		if err != nil {
			return mapError(fmt.Sprintf("replace %s/%s", collection, id), err)
		}
		if res.MatchedCount == 0 {
			return conflict(collection, id, nil)
		}
		return nil
	}
}

// undo reverts applied steps newest first by swapping each step's result
// back to what it replaced. It runs even when ctx is already cancelled.
func (s *Store) undo(ctx context.Context, coll *mongo.Collection, collection string, applied []step) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), undoTimeout)
	defer cancel()
	for i := len(applied) - 1; i >= 0; i-- {
		st := applied[i]
		if st.kind == model.WriteVerify {
			continue
		}
		back := step{id: st.id, kind: model.WriteSet, before: st.after, after: st.before}
		if err := s.swap(ctx, coll, collection, back); err != nil {
			return fmt.Errorf("restore %s/%s: %w", collection, st.id, err)
		}
	}
	return nil
}

func versionFilter(doc *model.Document) bson.D {
	return bson.D{{Key: idKey, Value: doc.ID}, {Key: versionKey, Value: doc.Version}}
}

// Query implements repository.Store
func (s *Store) Query(ctx context.Context, collection string, plan *query.Plan) ([]*model.Document, error) {
	rq := renderQuery(plan)
	cursor, err := s.db.Collection(collection).Find(ctx, rq.Filter, rq.Options)
	if err != nil {
		return nil, mapError("query "+collection, err)
	}
	defer cursor.Close(ctx)

	var docs []*model.Document
	for cursor.Next(ctx) {
		doc, err := decodeDocument(collection, cursor.Current)
		if err != nil {
			return nil, apperrors.NewInternalError(err.Error()).WithComponent(component)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, mapError("query "+collection, err)
	}

	if !rq.Exact {
		s.log.Debugf("query on %s evaluated in process: %s", collection, plan)
	}
	// mongo has already applied whatever it could; this settles the rest and
	// pins the ordering to the document model's type order
	return plan.Apply(docs), nil
}

// DeleteCollection implements repository.Store
func (s *Store) DeleteCollection(ctx context.Context, collection string) (int64, error) {
	coll := s.db.Collection(collection)
	n, err := coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, mapError("count "+collection, err)
	}
	if err := coll.Drop(ctx); err != nil {
		return 0, mapError("drop "+collection, err)
	}
	return n, nil
}

// ListCollections implements repository.Store
func (s *Store) ListCollections(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.D{}
	if prefix != "" {
		filter = bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(prefix)}}}}
	}
	names, err := s.db.ListCollectionNames(ctx, filter)
	if err != nil {
		return nil, mapError("list collections", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close implements repository.Store
func (s *Store) Close(ctx context.Context) error {
	if !s.ownsClient {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return mapError("disconnect", err)
	}
	return nil
}

// Database returns the database the store writes to
func (s *Store) Database() *mongo.Database { return s.db }

// Ping checks the server is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return unavailable("ping mongodb", err)
	}
	return nil
}

func conflict(collection, id string, cause error) *apperrors.AppError {
	e := apperrors.NewTransactionConflictError(fmt.Sprintf("document %s/%s changed concurrently", collection, id)).
		WithComponent(component)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

func unavailable(msg string, err error) *apperrors.AppError {
	return apperrors.NewBackendUnavailableError(msg).WithCause(err).WithComponent(component)
}

// mapError classifies a driver error. Anything that is not contention is a
// backend fault from the caller's point of view.
func mapError(msg string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == writeConflictCode || cmdErr.HasErrorLabel("TransientTransactionError")) {
		return apperrors.NewTransactionConflictError(msg + ": write conflict").WithCause(err).WithComponent(component)
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if we.Code == writeConflictCode {
				return apperrors.NewTransactionConflictError(msg + ": write conflict").WithCause(err).WithComponent(component)
			}
		}
		if writeErr.HasErrorLabel("TransientTransactionError") {
			return apperrors.NewTransactionConflictError(msg + ": write conflict").WithCause(err).WithComponent(component)
		}
	}
	return unavailable(msg, err)
}

// transactionsUnsupported matches the errors a standalone server returns
func transactionsUnsupported(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Transaction numbers are only allowed") ||
		strings.Contains(msg, "IllegalOperation")
}
