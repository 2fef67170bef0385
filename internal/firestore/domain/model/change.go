package model

import "time"

// ChangeType describes what happened to a document
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// ChangeEvent is one committed mutation as carried by a change feed. An
// event without DocumentID reports that the whole collection was dropped.
type ChangeEvent struct {
	Collection string     `json:"collection"`
	DocumentID string     `json:"documentId"`
	Type       ChangeType `json:"type"`
	// Document is nil for removals
	Document   *Document `json:"document,omitempty"`
	CommitTime time.Time `json:"commitTime"`
	// Token is assigned by the feed and resumes a subscription right after this event
	Token string `json:"token,omitempty"`
}

// DocumentChange describes how a query result moved between two snapshots
type DocumentChange struct {
	Type     ChangeType        `json:"type"`
	Doc      *DocumentSnapshot `json:"doc"`
	OldIndex int               `json:"oldIndex"`
	NewIndex int               `json:"newIndex"`
}

// QuerySnapshot is one element of a listener stream
type QuerySnapshot struct {
	Docs        []*DocumentSnapshot `json:"docs"`
	Changes     []DocumentChange    `json:"changes"`
	ReadTime    time.Time           `json:"readTime"`
	ResumeToken string              `json:"resumeToken,omitempty"`
}

// DiffSnapshots computes the changes turning prev into next. Indexes are -1
// where a document is absent from one side.
func DiffSnapshots(prev, next []*DocumentSnapshot) []DocumentChange {
	oldIdx := make(map[string]int, len(prev))
	for i, d := range prev {
		oldIdx[d.ID] = i
	}
	newIdx := make(map[string]int, len(next))
	for i, d := range next {
		newIdx[d.ID] = i
	}

	var changes []DocumentChange
	for i, d := range prev {
		if _, ok := newIdx[d.ID]; !ok {
			changes = append(changes, DocumentChange{Type: ChangeRemoved, Doc: d, OldIndex: i, NewIndex: -1})
		}
	}
	for i, d := range next {
		j, ok := oldIdx[d.ID]
		if !ok {
			changes = append(changes, DocumentChange{Type: ChangeAdded, Doc: d, OldIndex: -1, NewIndex: i})
			continue
		}
		if prev[j].Version != d.Version || i != j {
			changes = append(changes, DocumentChange{Type: ChangeModified, Doc: d, OldIndex: j, NewIndex: i})
		}
	}
	return changes
}
