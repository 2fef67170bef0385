package admin

import (
	"context"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	apperrors "firestore-driver/internal/shared/errors"
)

// transaction buffers writes and remembers the version of every document
// it read, 0 for a missing one
type transaction struct {
	coll   *Collection
	reads  map[string]int64
	writes []model.Write
}

var _ repository.Transaction = (*transaction)(nil)

// ErrReadAfterWrite is returned by a transactional Get issued after a write
var ErrReadAfterWrite = apperrors.NewInvalidArgumentError("transaction reads must precede writes")

func (tx *transaction) Get(ctx context.Context, id string) (*model.DocumentSnapshot, error) {
	if len(tx.writes) > 0 {
		return nil, ErrReadAfterWrite
	}
	if err := model.ValidateDocumentID(id); err != nil {
		return nil, invalid(err)
	}
	doc, err := tx.coll.driver.store.Get(ctx, tx.coll.name, id)
	if err != nil {
		return nil, classify(err)
	}
	if _, seen := tx.reads[id]; !seen {
		var version int64
		if doc != nil {
			version = doc.Version
		}
		tx.reads[id] = version
	}
	return model.NewSnapshot(id, doc, model.Now()), nil
}

func (tx *transaction) Set(id string, data map[string]interface{}, opts ...model.SetOption) error {
	w, err := model.NewSetWrite(id, data, opts...)
	if err != nil {
		return invalid(err)
	}
	tx.writes = append(tx.writes, w)
	return nil
}

func (tx *transaction) Delete(id string) error {
	if err := model.ValidateDocumentID(id); err != nil {
		return invalid(err)
	}
	tx.writes = append(tx.writes, model.NewDeleteWrite(id))
	return nil
}

// batch queues writes for one atomic commit. The first invalid write is
// reported by Commit.
type batch struct {
	coll   *Collection
	writes []model.Write
	err    error
}

var _ repository.WriteBatch = (*batch)(nil)

func (b *batch) Set(id string, data map[string]interface{}, opts ...model.SetOption) repository.WriteBatch {
	w, err := model.NewSetWrite(id, data, opts...)
	if err != nil && b.err == nil {
		b.err = invalid(err)
	}
	b.writes = append(b.writes, w)
	return b
}

func (b *batch) Delete(id string) repository.WriteBatch {
	if err := model.ValidateDocumentID(id); err != nil && b.err == nil {
		b.err = invalid(err)
	}
	b.writes = append(b.writes, model.NewDeleteWrite(id))
	return b
}

func (b *batch) Commit(ctx context.Context) (*model.CommitResult, error) {
	return b.coll.commitBatch(ctx, b)
}
