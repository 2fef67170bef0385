package usecase

import (
	"sync"
	"time"

	"firestore-driver/internal/firestore/domain/model"
	apperrors "firestore-driver/internal/shared/errors"

	"github.com/google/uuid"
)

// DefaultTransactionTTL bounds how long an abandoned transaction is kept
const DefaultTransactionTTL = time.Minute

// gatewayTransaction is the server side of a client transaction: the
// collection it is bound to and the version of every document it read
// (0 for a document that did not exist).
type gatewayTransaction struct {
	collection string
	reads      map[string]int64
	owner      string
	expires    time.Time
}

// TransactionRegistry tracks open gateway transactions. Entries expire
// after the TTL and are swept lazily on Begin.
type TransactionRegistry struct {
	mu   sync.Mutex
	txs  map[string]*gatewayTransaction
	ttl  time.Duration
	now  func() time.Time
	next func() string
}

// NewTransactionRegistry creates a registry. A non-positive ttl uses DefaultTransactionTTL.
func NewTransactionRegistry(ttl time.Duration) *TransactionRegistry {
	if ttl <= 0 {
		ttl = DefaultTransactionTTL
	}
	return &TransactionRegistry{
		txs:  make(map[string]*gatewayTransaction),
		ttl:  ttl,
		now:  time.Now,
		next: uuid.NewString,
	}
}

// Begin opens a transaction for owner, the caller's uid or "" when anonymous
func (r *TransactionRegistry) Begin(owner string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, tx := range r.txs {
		if now.After(tx.expires) {
			delete(r.txs, id)
		}
	}
	id := r.next()
	r.txs[id] = &gatewayTransaction{reads: make(map[string]int64), owner: owner, expires: now.Add(r.ttl)}
	return id
}

func (r *TransactionRegistry) lookup(id, owner string) (*gatewayTransaction, error) {
	tx, ok := r.txs[id]
	if !ok || r.now().After(tx.expires) {
		delete(r.txs, id)
		return nil, apperrors.NewInvalidArgumentError("transaction is not open or has expired").WithDetail("transaction", id)
	}
	if tx.owner != owner {
		return nil, apperrors.NewPermissionDeniedError("transaction belongs to another caller").WithDetail("transaction", id)
	}
	return tx, nil
}

// RecordRead remembers the version of a document read inside the
// transaction. The first read of a document wins.
func (r *TransactionRegistry) RecordRead(id, owner, collection string, docs map[string]*model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.lookup(id, owner)
	if err != nil {
		return err
	}
	if tx.collection == "" {
		tx.collection = collection
	} else if tx.collection != collection {
		return apperrors.NewInvalidArgumentError("a transaction is bound to a single collection").
			WithDetail("collection", tx.collection)
	}
	for docID, doc := range docs {
		if _, seen := tx.reads[docID]; seen {
			continue
		}
		var version int64
		if doc != nil {
			version = doc.Version
		}
		tx.reads[docID] = version
	}
	return nil
}

// Finish removes the transaction and returns writes guarded by the versions
// it read. A write to a document read as missing must still find it missing.
func (r *TransactionRegistry) Finish(id, owner, collection string, writes []model.Write) ([]model.Write, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, err := r.lookup(id, owner)
	if err != nil {
		return nil, err
	}
	delete(r.txs, id)

	if tx.collection != "" && collection != "" && tx.collection != collection {
		return nil, apperrors.NewInvalidArgumentError("a transaction is bound to a single collection").
			WithDetail("collection", tx.collection)
	}
	return model.GuardWrites(tx.reads, writes), nil
}

// Rollback discards the transaction. Unknown ids are ignored.
func (r *TransactionRegistry) Rollback(id, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx, ok := r.txs[id]; ok && tx.owner == owner {
		delete(r.txs, id)
	}
}

// Len reports open transactions
func (r *TransactionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}
