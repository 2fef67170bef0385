package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrPreconditionFailed means the stored document changed since it was read
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidDocumentID  = errors.New("invalid document ID")
	ErrInvalidWrite       = errors.New("invalid write")
)

// SetOptions controls merge-vs-replace for Set
type SetOptions struct {
	Merge       bool
	MergeFields []string
}

// SetOption configures a Set call
type SetOption func(*SetOptions)

// WithMerge merges data into the existing document instead of replacing it
func WithMerge() SetOption {
	return func(o *SetOptions) { o.Merge = true }
}

// WithMergeFields merges only the listed field paths. A listed path absent
// from data is deleted from the document.
func WithMergeFields(paths ...string) SetOption {
	return func(o *SetOptions) {
		o.Merge = true
		o.MergeFields = append(o.MergeFields, paths...)
	}
}

// ApplySetOptions folds options into a SetOptions value
func ApplySetOptions(opts ...SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WriteKind distinguishes writes
type WriteKind string

const (
	WriteSet    WriteKind = "SET"
	WriteDelete WriteKind = "DELETE"
	// WriteVerify changes nothing; it only checks its precondition inside
	// the commit
	WriteVerify WriteKind = "VERIFY"
)

// Precondition guards a write. Version > 0 requires the stored version to
// match. Exists, when set, requires presence or absence.
type Precondition struct {
	Exists  *bool `json:"exists,omitempty"`
	Version int64 `json:"version,omitempty"`
}

// IsZero reports whether the precondition imposes nothing
func (p Precondition) IsZero() bool {
	return p.Exists == nil && p.Version == 0
}

// MustExist / MustNotExist are convenience preconditions
func MustExist() Precondition {
	t := true
	return Precondition{Exists: &t}
}

func MustNotExist() Precondition {
	f := false
	return Precondition{Exists: &f}
}

// AtVersion requires the document to be at version v, or absent when v is 0
func AtVersion(v int64) Precondition {
	if v == 0 {
		return MustNotExist()
	}
	return Precondition{Version: v}
}

// Check validates the precondition against the stored document, which may be nil
func (p Precondition) Check(existing *Document) error {
	if p.Exists != nil {
		if *p.Exists && existing == nil {
			return fmt.Errorf("%w: document does not exist", ErrPreconditionFailed)
		}
		if !*p.Exists && existing != nil {
			return fmt.Errorf("%w: document already exists", ErrPreconditionFailed)
		}
	}
	if p.Version > 0 {
		if existing == nil || existing.Version != p.Version {
			return fmt.Errorf("%w: expected version %d", ErrPreconditionFailed, p.Version)
		}
	}
	return nil
}

// GuardWrites returns writes with version preconditions taken from reads,
// the version each document had when a transaction read it (0 for missing).
// Only the first write to a document is guarded since later ones see its
// result, and explicit preconditions are kept. Every document that was read
// but not written gets a verify write appended, so the commit also fails
// when a read the writes were based on went stale.
func GuardWrites(reads map[string]int64, writes []Write) []Write {
	guarded := make(map[string]bool, len(writes))
	out := make([]Write, len(writes), len(writes)+len(reads))
	for i, w := range writes {
		out[i] = w
		version, read := reads[w.ID]
		first := !guarded[w.ID]
		guarded[w.ID] = true
		if read && first && w.Precondition.IsZero() {
			out[i].Precondition = AtVersion(version)
		}
	}

	var unwritten []string
	for id := range reads {
		if !guarded[id] {
			unwritten = append(unwritten, id)
		}
	}
	sort.Strings(unwritten)
	for _, id := range unwritten {
		out = append(out, NewVerifyWrite(id, AtVersion(reads[id])))
	}
	return out
}

// Write is one mutation of an atomic commit
type Write struct {
	Kind         WriteKind              `json:"kind"`
	ID           string                 `json:"id"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Options      SetOptions             `json:"options"`
	Precondition Precondition           `json:"precondition"`
}

// NewSetWrite builds a normalized set write
func NewSetWrite(id string, data map[string]interface{}, opts ...SetOption) (Write, error) {
	norm, err := NormalizeData(data)
	if err != nil {
		return Write{}, fmt.Errorf("%w: %v", ErrInvalidWrite, err)
	}
	w := Write{Kind: WriteSet, ID: id, Data: norm, Options: ApplySetOptions(opts...)}
	return w, w.Validate()
}

// NewDeleteWrite builds a delete write
func NewDeleteWrite(id string) Write {
	return Write{Kind: WriteDelete, ID: id}
}

// NewVerifyWrite builds a write that only checks p against document id
func NewVerifyWrite(id string, p Precondition) Write {
	return Write{Kind: WriteVerify, ID: id, Precondition: p}
}

// Validate checks the write shape before it reaches a store
func (w Write) Validate() error {
	if err := ValidateDocumentID(w.ID); err != nil {
		return err
	}
	switch w.Kind {
	case WriteDelete:
		return nil
	case WriteVerify:
		if len(w.Data) > 0 {
			return fmt.Errorf("%w: a verify write carries no data", ErrInvalidWrite)
		}
		return nil
	case WriteSet:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidWrite, w.Kind)
	}
	for _, p := range w.Options.MergeFields {
		fp, err := NewFieldPath(p)
		if err != nil {
			return fmt.Errorf("%w: merge field %q: %v", ErrInvalidWrite, p, err)
		}
		if fp.IsDocumentID() {
			return fmt.Errorf("%w: cannot merge %s", ErrInvalidWrite, DocumentIDField)
		}
	}
	if err := validateKeys(w.Data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWrite, err)
	}
	if !w.Options.Merge && containsDeleteField(w.Data) {
		return fmt.Errorf("%w: DeleteField is only allowed in merge sets", ErrInvalidWrite)
	}
	return nil
}

// validateKeys rejects map keys that cannot be addressed as a field path segment
func validateKeys(data map[string]interface{}) error {
	for k, v := range data {
		if strings.Contains(k, ".") || !isValidFieldName(k) {
			return fmt.Errorf("field name %q is not allowed", k)
		}
		if m, ok := v.(map[string]interface{}); ok {
			if err := validateKeys(m); err != nil {
				return err
			}
		}
	}
	return nil
}

func containsDeleteField(data map[string]interface{}) bool {
	for _, v := range data {
		if v == DeleteField {
			return true
		}
		if m, ok := v.(map[string]interface{}); ok && containsDeleteField(m) {
			return true
		}
	}
	return false
}

// ApplyWrite computes the document a set write produces on top of existing,
// which may be nil. Sentinels resolve against commitTime and the existing data.
func ApplyWrite(existing *Document, collection string, w Write, commitTime time.Time) (*Document, error) {
	if w.Kind != WriteSet {
		return nil, fmt.Errorf("%w: ApplyWrite needs a set", ErrInvalidWrite)
	}

	var prior map[string]interface{}
	if existing != nil {
		prior = existing.Data
	}

	var data map[string]interface{}
	switch {
	case len(w.Options.MergeFields) > 0:
		data = CloneData(prior)
		if data == nil {
			data = map[string]interface{}{}
		}
		for _, p := range w.Options.MergeFields {
			fp := MustNewFieldPath(p)
			v, ok := fp.Lookup(w.Data)
			if !ok {
				fp.Delete(data)
				continue
			}
			applyLeaf(data, prior, fp, v, commitTime)
		}
	case w.Options.Merge:
		data = CloneData(prior)
		if data == nil {
			data = map[string]interface{}{}
		}
		for _, p := range LeafPaths(w.Data) {
			fp := MustNewFieldPath(p)
			v, _ := fp.Lookup(w.Data)
			applyLeaf(data, prior, fp, v, commitTime)
		}
	default:
		// a replaced document has no prior values for transforms to build on
		data = map[string]interface{}{}
		for _, p := range LeafPaths(w.Data) {
			fp := MustNewFieldPath(p)
			v, _ := fp.Lookup(w.Data)
			applyLeaf(data, nil, fp, v, commitTime)
		}
	}

	doc := &Document{
		ID:         w.ID,
		Collection: collection,
		Data:       data,
		CreateTime: commitTime,
		UpdateTime: commitTime,
		Version:    1,
	}
	if existing != nil {
		doc.CreateTime = existing.CreateTime
		doc.Version = existing.Version + 1
	}
	return doc, nil
}

func applyLeaf(data, prior map[string]interface{}, fp *FieldPath, v interface{}, commitTime time.Time) {
	switch s := v.(type) {
	case serverTimestamp:
		fp.Set(data, commitTime.UTC().Truncate(TimePrecision))
	case deleteField:
		fp.Delete(data)
	case IncrementTransform:
		cur, _ := fp.Lookup(prior)
		fp.Set(data, AddNumbers(cur, s.By))
	default:
		fp.Set(data, cloneValue(v))
	}
}

// ValidateDocumentID checks a document identifier
func ValidateDocumentID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidDocumentID, id)
	case strings.Contains(id, "/"):
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidDocumentID, id)
	case strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__"):
		return fmt.Errorf("%w: %q matches the reserved __.*__ pattern", ErrInvalidDocumentID, id)
	case len(id) > 1500:
		return fmt.Errorf("%w: longer than 1500 bytes", ErrInvalidDocumentID)
	}
	return nil
}

// ValidateCollectionID checks a collection identifier
func ValidateCollectionID(id string) error {
	if err := ValidateDocumentID(id); err != nil {
		return fmt.Errorf("invalid collection ID: %w", err)
	}
	return nil
}

// Mutate checks w's precondition against existing, which may be nil, and
// applies it. It returns the resulting document (nil after a delete) and the
// change made, which is empty when deleting a missing document and for a
// verify write, which returns existing as it is.
func Mutate(existing *Document, collection string, w Write, commitTime time.Time) (*Document, ChangeType, error) {
	if err := w.Precondition.Check(existing); err != nil {
		return nil, "", err
	}
	switch w.Kind {
	case WriteVerify:
		return existing, "", nil
	case WriteDelete:
		if existing == nil {
			return nil, "", nil
		}
		return nil, ChangeRemoved, nil
	}
	doc, err := ApplyWrite(existing, collection, w, commitTime)
	if err != nil {
		return nil, "", err
	}
	if existing == nil {
		return doc, ChangeAdded, nil
	}
	return doc, ChangeModified, nil
}
