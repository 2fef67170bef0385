package client

import (
	"context"
	"net/url"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	"firestore-driver/internal/firestore/query"
	"firestore-driver/internal/firestore/wire"
	apperrors "firestore-driver/internal/shared/errors"

	"github.com/valyala/fasthttp"
)

// Collection is the client handle to one collection
type Collection struct {
	driver *Driver
	name   string
}

var (
	_ repository.CollectionReference = (*Collection)(nil)
	_ repository.Listener            = (*Collection)(nil)
)

// ID implements repository.CollectionReference
func (c *Collection) ID() string { return c.name }

// Driver implements repository.CollectionReference
func (c *Collection) Driver() repository.Driver { return c.driver }

func invalid(err error) error {
	return apperrors.NewInvalidArgumentError(err.Error()).WithComponent("client-driver")
}

func (c *Collection) documentPath(id string) string {
	return c.driver.dbPath + "/documents/" + url.PathEscape(c.name) + "/" + url.PathEscape(id)
}

// fetch reads one document, inside transaction tx when it is not empty.
// A missing document is reported as nil.
func (c *Collection) fetch(ctx context.Context, id, tx string) (*model.Document, error) {
	path := c.documentPath(id)
	if tx != "" {
		path += "?transaction=" + url.QueryEscape(tx)
	}
	var out wire.Document
	err := c.driver.call(ctx, fasthttp.MethodGet, path, nil, &out)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := wire.DecodeDocument(&out)
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("malformed document").WithCause(err).WithComponent("client-driver")
	}
	return doc, nil
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
	doc, err := c.fetch(ctx, id, "")
	if err != nil {
		return nil, err
	}
	return model.NewSnapshot(id, doc, model.Now()), nil
}

// commit sends writes as one atomic commit
func (c *Collection) commit(ctx context.Context, writes []model.Write, tx string) (*model.CommitResult, error) {
	req := wire.CommitRequest{Writes: make([]wire.Write, 0, len(writes)), Transaction: tx}
	for _, w := range writes {
		enc, err := wire.EncodeWrite(c.driver.documentsRoot(), c.name, w)
		if err != nil {
			return nil, invalid(err)
		}
		req.Writes = append(req.Writes, enc)
	}
	var resp wire.CommitResponse
	if err := c.driver.call(ctx, fasthttp.MethodPost, c.driver.dbPath+"/commit", req, &resp); err != nil {
		return nil, err
	}
	return decodeCommit(&resp)
}

func decodeCommit(resp *wire.CommitResponse) (*model.CommitResult, error) {
	commitTime, err := wire.ParseTime(resp.CommitTime)
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("malformed commit time").WithCause(err)
	}
	out := &model.CommitResult{CommitTime: commitTime, Results: make([]model.WriteResult, len(resp.WriteResults))}
	for i, r := range resp.WriteResults {
		updated, err := wire.ParseTime(r.UpdateTime)
		if err != nil {
			return nil, apperrors.NewBackendUnavailableError("malformed update time").WithCause(err)
		}
		out.Results[i] = model.WriteResult{UpdateTime: updated, Version: r.Version}
	}
	return out, nil
}

// Set implements repository.CollectionReference. Write sentinels are
// rejected because the gateway cannot resolve them for rule-checked callers.
func (c *Collection) Set(ctx context.Context, id string, data map[string]interface{}, opts ...model.SetOption) (res *model.WriteResult, err error) {
	defer func(start time.Time) { err = c.driver.finish("set", start, err) }(time.Now())
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return nil, err
	}
	w, err := model.NewSetWrite(id, data, opts...)
	if err != nil {
		return nil, invalid(err)
	}
	result, err := c.commit(ctx, []model.Write{w}, "")
	if err != nil {
		return nil, err
	}
	if len(result.Results) != 1 {
		return nil, apperrors.NewBackendUnavailableError("commit returned no write result").WithComponent("client-driver")
	}
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
	_, err = c.commit(ctx, []model.Write{model.NewDeleteWrite(id)}, "")
	return err
}

// structuredQuery translates spec locally, so unsupported queries fail
// before any round trip and document cursors become value cursors the
// gateway can carry.
func (c *Collection) structuredQuery(ctx context.Context, spec model.QuerySpec) (*wire.StructuredQuery, error) {
	lookup := func(ctx context.Context, id string) (*model.Document, error) {
		return c.fetch(ctx, id, "")
	}
	plan, err := query.Translate(ctx, spec, c.driver.Capabilities(), lookup)
	if err != nil {
		return nil, err
	}
	sq, err := wire.EncodeStructuredQuery(c.driver.documentsRoot(), c.name, plan.Spec())
	if err != nil {
		return nil, invalid(err)
	}
	return sq, nil
}

// Query implements repository.CollectionReference
func (c *Collection) Query(ctx context.Context, spec model.QuerySpec) (snaps []*model.DocumentSnapshot, err error) {
	defer func(start time.Time) { err = c.driver.finish("query", start, err) }(time.Now())
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return nil, err
	}
	sq, err := c.structuredQuery(ctx, spec)
	if err != nil {
		return nil, err
	}
	var resp []wire.RunQueryResponse
	path := c.driver.dbPath + "/query/" + url.PathEscape(c.name)
	if err := c.driver.call(ctx, fasthttp.MethodPost, path, wire.RunQueryRequest{StructuredQuery: sq}, &resp); err != nil {
		return nil, err
	}

	snaps = make([]*model.DocumentSnapshot, 0, len(resp))
	for _, r := range resp {
		if r.Document == nil {
			continue
		}
		readTime, err := wire.ParseTime(r.ReadTime)
		if err != nil {
			return nil, apperrors.NewBackendUnavailableError("malformed read time").WithCause(err)
		}
		doc, err := wire.DecodeDocument(r.Document)
		if err != nil {
			return nil, apperrors.NewBackendUnavailableError("malformed document").WithCause(err)
		}
		snaps = append(snaps, model.NewSnapshot(doc.ID, doc, readTime))
	}
	return snaps, nil
}

// RunTransaction implements repository.CollectionReference. The gateway
// holds the transaction: reads are recorded server side and the commit
// fails with TransactionConflict when a written document changed since it
// was read. A failing fn rolls the transaction back and its error is
// returned unchanged.
func (c *Collection) RunTransaction(ctx context.Context, fn repository.TransactionFunc) (err error) {
	start := time.Now()
	if ctx, err = c.driver.begin(ctx, c.name); err != nil {
		return c.driver.finish("transaction", start, err)
	}

	var begun wire.BeginTransactionResponse
	if err := c.driver.call(ctx, fasthttp.MethodPost, c.driver.dbPath+"/beginTransaction", struct{}{}, &begun); err != nil {
		return c.driver.finish("transaction", start, err)
	}
	tx := &transaction{coll: c, id: begun.Transaction}

	if err := fn(ctx, tx); err != nil {
		c.rollback(ctx, tx.id)
		c.driver.cfg.Metrics.ObserveDriverCall(DriverName, "transaction", start, err)
		return err
	}
	_, err = c.commit(ctx, tx.writes, tx.id)
	if err != nil {
		c.driver.log.WithContext(ctx).Debugf("Transaction on %s aborted: %v", c.name, err)
	}
	return c.driver.finish("transaction", start, err)
}

// rollback releases a server transaction. Failures only leave it to expire.
func (c *Collection) rollback(ctx context.Context, tx string) {
	if err := c.driver.call(ctx, fasthttp.MethodPost, c.driver.dbPath+"/rollback", wire.RollbackRequest{Transaction: tx}, nil); err != nil {
		c.driver.log.WithContext(ctx).Warnf("Rollback of transaction %s failed: %v", tx, err)
	}
}
