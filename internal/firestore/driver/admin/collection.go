package admin

import (
	"context"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/driver/stream"
	"firestore-driver/internal/firestore/query"
	apperrors "firestore-driver/internal/shared/errors"
)

// Collection is the admin handle to one collection
type Collection struct {
	driver *Driver
	name   string
}

var (
	_ repository.CollectionReference = (*Collection)(nil)
	_ repository.Batcher             = (*Collection)(nil)
	_ repository.Listener            = (*Collection)(nil)
)

// ID implements repository.CollectionReference
func (c *Collection) ID() string { return c.name }

// Driver implements repository.CollectionReference
func (c *Collection) Driver() repository.Driver { return c.driver }

func invalid(err error) error {
	return apperrors.NewInvalidArgumentError(err.Error()).WithComponent("admin-driver")
}

// Get implements repository.CollectionReference
func (c *Collection) Get(ctx context.Context, id string) (snap *model.DocumentSnapshot, err error) {
	defer func(start time.Time) { err = c.driver.finish("get", start, err) }(time.Now())
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return nil, err
	}
	if err := model.ValidateDocumentID(id); err != nil {
		return nil, invalid(err)
	}
	doc, err := c.driver.store.Get(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	return model.NewSnapshot(id, doc, model.Now()), nil
}

// Set implements repository.CollectionReference. Sentinels such as
// model.ServerTimestamp are resolved by the store.
func (c *Collection) Set(ctx context.Context, id string, data map[string]interface{}, opts ...model.SetOption) (res *model.WriteResult, err error) {
	defer func(start time.Time) { err = c.driver.finish("set", start, err) }(time.Now())
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return nil, err
	}
	w, err := model.NewSetWrite(id, data, opts...)
	if err != nil {
		return nil, invalid(err)
	}
	result, err := c.driver.store.Commit(ctx, c.name, []model.Write{w})
	if err != nil {
		return nil, err
	}
	c.driver.log.WithContext(ctx).Debugf("Set %s/%s at version %d", c.name, id, result.Results[0].Version)
	return &result.Results[0], nil
}

// Delete implements repository.CollectionReference
func (c *Collection) Delete(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { err = c.driver.finish("delete", start, err) }(time.Now())
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return err
	}
	if err := model.ValidateDocumentID(id); err != nil {
		return invalid(err)
	}
	_, err = c.driver.store.Commit(ctx, c.name, []model.Write{model.NewDeleteWrite(id)})
	return err
}

// plan translates spec with the privileged capability set. Document cursors
// are resolved by reading the cursor document.
func (c *Collection) plan(ctx context.Context, spec model.QuerySpec) (*query.Plan, error) {
	lookup := func(ctx context.Context, id string) (*model.Document, error) {
		return c.driver.store.Get(ctx, c.name, id)
	}
	return query.Translate(ctx, spec, c.driver.Capabilities(), lookup)
}

// Query implements repository.CollectionReference
func (c *Collection) Query(ctx context.Context, spec model.QuerySpec) (snaps []*model.DocumentSnapshot, err error) {
	defer func(start time.Time) { err = c.driver.finish("query", start, err) }(time.Now())
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return nil, err
	}
	plan, err := c.plan(ctx, spec)
	if err != nil {
		return nil, err
	}
	docs, err := c.driver.store.Query(ctx, c.name, plan)
	if err != nil {
		return nil, err
	}
	readTime := model.Now()
	snaps = make([]*model.DocumentSnapshot, len(docs))
	for i, d := range docs {
		snaps[i] = model.NewSnapshot(d.ID, d, readTime)
	}
	return snaps, nil
}

// RunTransaction implements repository.CollectionReference. Reads record
// the version they saw and the commit is guarded by those versions, so a
// concurrent change to a document the transaction read or wrote aborts it
// with TransactionConflict.
func (c *Collection) RunTransaction(ctx context.Context, fn repository.TransactionFunc) (err error) {
	start := time.Now()
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return c.driver.finish("transaction", start, err)
	}

	tx := &transaction{coll: c, reads: make(map[string]int64)}
	if err := fn(ctx, tx); err != nil {
		c.driver.metrics.ObserveDriverCall(DriverName, "transaction", start, err)
		return err
	}
	if len(tx.writes) == 0 {
		return c.driver.finish("transaction", start, nil)
	}
	_, err = c.driver.store.Commit(ctx, c.name, model.GuardWrites(tx.reads, tx.writes))
	if err != nil {
		c.driver.log.WithContext(ctx).Debugf("Transaction on %s aborted: %v", c.name, err)
	}
	return c.driver.finish("transaction", start, err)
}

// Batch implements repository.Batcher
func (c *Collection) Batch() repository.WriteBatch {
	return &batch{coll: c}
}

// Listen implements repository.Listener. The query is validated up front;
// later failures surface from Next.
func (c *Collection) Listen(ctx context.Context, spec model.QuerySpec) (it repository.SnapshotIterator, err error) {
	defer func(start time.Time) { err = c.driver.finish("listen", start, err) }(time.Now())
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return nil, err
	}
	if c.driver.realtime == nil {
		return nil, apperrors.NewBackendUnavailableError("listeners need a change feed").WithComponent("admin-driver")
	}
	plan, err := c.plan(ctx, spec)
	if err != nil {
		return nil, err
	}

	source := func(ctx context.Context, resumeToken string, emit stream.EmitFunc) error {
		return c.driver.realtime.Watch(ctx, c.name, plan, resumeToken, func(s *model.QuerySnapshot) error {
			return emit(s.Docs, s.ReadTime, s.ResumeToken)
		})
	}
	return stream.Start(ctx, source, "", stream.Options{
		Log:    c.driver.log,
		OnStop: c.driver.metrics.ListenerStarted(DriverName),
	}), nil
}

func (c *Collection) commitBatch(ctx context.Context, b *batch) (res *model.CommitResult, err error) {
	defer func(start time.Time) { err = c.driver.finish("batch", start, err) }(time.Now())
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	if len(b.writes) == 0 {
		return &model.CommitResult{CommitTime: model.Now()}, nil
	}
	return c.driver.store.Commit(ctx, c.name, b.writes)
}
