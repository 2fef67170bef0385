package model

import "time"

// Document is the stored form of a document inside a collection
type Document struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	Data       map[string]interface{} `json:"data"`
	CreateTime time.Time              `json:"createTime"`
	UpdateTime time.Time              `json:"updateTime"`
	// Version starts at 1 and grows by one on every write
	Version int64 `json:"version"`
}

// Clone returns a deep copy
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Data = CloneData(d.Data)
	return &c
}

// Field returns the value at a dot path, or the ID for DocumentIDField
func (d *Document) Field(path string) (interface{}, bool) {
	if path == DocumentIDField {
		return d.ID, true
	}
	fp, err := NewFieldPath(path)
	if err != nil {
		return nil, false
	}
	return fp.Lookup(d.Data)
}

// DocumentSnapshot is the normalized read result shared by every driver.
// A missing document is a snapshot with Exists false.
type DocumentSnapshot struct {
	ID         string                 `json:"id"`
	Exists     bool                   `json:"exists"`
	Data       map[string]interface{} `json:"data,omitempty"`
	ReadTime   time.Time              `json:"readTime"`
	CreateTime time.Time              `json:"createTime,omitempty"`
	UpdateTime time.Time              `json:"updateTime,omitempty"`
	Version    int64                  `json:"version,omitempty"`
}

// NewSnapshot builds a snapshot for id from a stored document, which may be nil
func NewSnapshot(id string, doc *Document, readTime time.Time) *DocumentSnapshot {
	snap := &DocumentSnapshot{ID: id, ReadTime: readTime}
	if doc == nil {
		return snap
	}
	snap.Exists = true
	snap.Data = CloneData(doc.Data)
	snap.CreateTime = doc.CreateTime
	snap.UpdateTime = doc.UpdateTime
	snap.Version = doc.Version
	return snap
}

// DataAt returns the value at a dot path
func (s *DocumentSnapshot) DataAt(path string) (interface{}, bool) {
	if !s.Exists {
		return nil, false
	}
	fp, err := NewFieldPath(path)
	if err != nil {
		return nil, false
	}
	return fp.Lookup(s.Data)
}

// WriteResult reports the state a write produced
type WriteResult struct {
	UpdateTime time.Time `json:"updateTime"`
	Version    int64     `json:"version"`

	// Document is the stored result of a set, nil for deletes. Change is
	// empty when the write changed nothing, e.g. deleting a missing document.
	Document *Document  `json:"-"`
	Change   ChangeType `json:"-"`
}

// CommitResult reports an atomic group of writes
type CommitResult struct {
	CommitTime time.Time     `json:"commitTime"`
	Results    []WriteResult `json:"writeResults"`
}
