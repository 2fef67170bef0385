package client

import (
	"context"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	apperrors "firestore-driver/internal/shared/errors"
)

// ErrReadAfterWrite is returned by a transactional Get issued after a write
var ErrReadAfterWrite = apperrors.NewInvalidArgumentError("transaction reads must precede writes")

// transaction reads through the gateway transaction and buffers writes for
// the final commit
type transaction struct {
	coll   *Collection
	id     string
	writes []model.Write
}

var _ repository.Transaction = (*transaction)(nil)

func (tx *transaction) Get(ctx context.Context, id string) (*model.DocumentSnapshot, error) {
	if len(tx.writes) > 0 {
		return nil, ErrReadAfterWrite
	}
	if err := model.ValidateDocumentID(id); err != nil {
		return nil, invalid(err)
	}
	doc, err := tx.coll.fetch(ctx, id, tx.id)
	if err != nil {
		return nil, err
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
