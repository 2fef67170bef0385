package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func snap(id string, version int64) *DocumentSnapshot {
	return &DocumentSnapshot{ID: id, Exists: true, Version: version}
}

func TestDiffSnapshots(t *testing.T) {
	prev := []*DocumentSnapshot{snap("a", 1), snap("b", 1), snap("c", 1)}
	next := []*DocumentSnapshot{snap("a", 1), snap("c", 2), snap("d", 1)}

	changes := DiffSnapshots(prev, next)
	byID := map[string]DocumentChange{}
	for _, c := range changes {
		byID[c.Doc.ID] = c
	}

	assert.Len(t, changes, 3)
	assert.Equal(t, ChangeRemoved, byID["b"].Type)
	assert.Equal(t, -1, byID["b"].NewIndex)
	assert.Equal(t, ChangeModified, byID["c"].Type)
	assert.Equal(t, 2, byID["c"].OldIndex)
	assert.Equal(t, 1, byID["c"].NewIndex)
	assert.Equal(t, ChangeAdded, byID["d"].Type)
	assert.NotContains(t, byID, "a")
}

func TestNewSnapshot(t *testing.T) {
	missing := NewSnapshot("x", nil, commitTime)
	assert.False(t, missing.Exists)
	assert.Equal(t, "x", missing.ID)
	_, ok := missing.DataAt("value")
	assert.False(t, ok)

	doc := existingDoc()
	s := NewSnapshot("a", doc, commitTime)
	assert.True(t, s.Exists)
	assert.Equal(t, int64(3), s.Version)
	v, ok := s.DataAt("meta.y")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)

	s.Data["value"] = int64(99)
	assert.Equal(t, int64(1), doc.Data["value"], "snapshots do not alias stored data")
}
